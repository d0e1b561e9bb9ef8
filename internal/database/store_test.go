package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"iptrack/internal/domain"
)

func setupStoreTestDB(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := SetupDB(
		WithDialector(sqlite.Open(dsn)),
		WithLogger(silentLogger()),
	)
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	return NewStore(db), db
}

func seedRequestLogs(t *testing.T, db *gorm.DB, address, path string, count int, at time.Time) {
	t.Helper()

	logs := make([]domain.RequestLog, 0, count)
	for i := 0; i < count; i++ {
		logs = append(logs, domain.RequestLog{
			IPAddress: address,
			Path:      path,
			Timestamp: at.Add(time.Duration(i) * time.Millisecond).UTC(),
		})
	}
	if err := db.CreateInBatches(&logs, 200).Error; err != nil {
		t.Fatalf("seed request logs: %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestStore_NilDatabase(t *testing.T) {
	var store *Store
	if _, err := store.IsIPBlocked(context.Background(), "1.2.3.4"); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
	if err := NewStore(nil).InsertRequestLog(context.Background(), &domain.RequestLog{}); !errors.Is(err, ErrNotInitialised) {
		t.Fatalf("expected ErrNotInitialised, got %v", err)
	}
}

func TestBlockIP_InsertIfAbsentKeepsFirstReason(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	entry, created, err := store.BlockIP(ctx, "203.0.113.7", strPtr("first"))
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !created || entry.ID == 0 {
		t.Fatalf("expected new entry, got created=%v id=%d", created, entry.ID)
	}

	again, created, err := store.BlockIP(ctx, "203.0.113.7", strPtr("second"))
	if err != nil {
		t.Fatalf("block again: %v", err)
	}
	if created {
		t.Fatalf("second block must not create a row")
	}
	if again.ReasonOrEmpty() != "first" {
		t.Fatalf("reason = %q, want %q", again.ReasonOrEmpty(), "first")
	}

	blocked, err := store.IsIPBlocked(ctx, "203.0.113.7")
	if err != nil || !blocked {
		t.Fatalf("IsIPBlocked = %v, %v", blocked, err)
	}
	blocked, err = store.IsIPBlocked(ctx, "203.0.113.8")
	if err != nil || blocked {
		t.Fatalf("unexpected block for other address: %v, %v", blocked, err)
	}
}

func TestUnblockIP(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	if _, _, err := store.BlockIP(ctx, "2001:db8::1", nil); err != nil {
		t.Fatalf("block: %v", err)
	}

	removed, err := store.UnblockIP(ctx, "2001:db8::1")
	if err != nil || !removed {
		t.Fatalf("unblock = %v, %v", removed, err)
	}
	removed, err = store.UnblockIP(ctx, "2001:db8::1")
	if err != nil || removed {
		t.Fatalf("second unblock = %v, %v", removed, err)
	}
	if _, err := store.GetBlockedIP(ctx, "2001:db8::1"); !errors.Is(err, ErrBlockedNotFound) {
		t.Fatalf("expected ErrBlockedNotFound, got %v", err)
	}
}

func TestListBlockedIPs_Paginates(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		clocked := store.WithClock(func() time.Time { return base.Add(time.Duration(i) * time.Minute) })
		if _, _, err := clocked.BlockIP(ctx, fmt.Sprintf("198.51.100.%d", i), nil); err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
	}

	first, total, err := store.ListBlockedIPs(ctx, Page{Number: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 12 || len(first) != defaultPageSize {
		t.Fatalf("total=%d len=%d", total, len(first))
	}
	if first[0].IPAddress != "198.51.100.11" {
		t.Fatalf("newest first expected, got %s", first[0].IPAddress)
	}

	second, _, err := store.ListBlockedIPs(ctx, Page{Number: 2})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("page 2 len = %d", len(second))
	}
}

func TestInsertRequestLog_AssignsTimestampAndTruncates(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	store, db := setupStoreTestDB(t)
	store = store.WithClock(func() time.Time { return fixed })

	entry := &domain.RequestLog{
		IPAddress: "192.0.2.1",
		Path:      "/" + strings.Repeat("a", 700),
	}
	if err := store.InsertRequestLog(context.Background(), entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var stored domain.RequestLog
	if err := db.First(&stored, entry.ID).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if !stored.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", stored.Timestamp, fixed)
	}
	if len(stored.Path) != domain.MaxPathLength {
		t.Fatalf("path length = %d", len(stored.Path))
	}
	if stored.Country != nil || stored.City != nil {
		t.Fatalf("expected nil location, got %v/%v", stored.Country, stored.City)
	}
}

func TestCountRequestsByAddress_ThresholdIsStrict(t *testing.T) {
	store, db := setupStoreTestDB(t)
	now := time.Now().UTC()

	seedRequestLogs(t, db, "10.0.0.1", "/", 101, now.Add(-30*time.Minute))
	seedRequestLogs(t, db, "10.0.0.2", "/", 100, now.Add(-30*time.Minute))
	seedRequestLogs(t, db, "10.0.0.3", "/", 150, now.Add(-3*time.Hour))

	rows, err := store.CountRequestsByAddress(context.Background(), now.Add(-time.Hour), 100)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one address over threshold, got %+v", rows)
	}
	if rows[0].IPAddress != "10.0.0.1" || rows[0].Count != 101 {
		t.Fatalf("unexpected row %+v", rows[0])
	}
}

func TestCountPathPrefixByAddress_IsPrefixAndCaseSensitive(t *testing.T) {
	store, db := setupStoreTestDB(t)
	now := time.Now().UTC()
	recent := now.Add(-10 * time.Minute)

	seedRequestLogs(t, db, "10.0.0.1", "/admin/x", 11, recent)
	seedRequestLogs(t, db, "10.0.0.2", "/ADMIN/x", 11, recent)
	seedRequestLogs(t, db, "10.0.0.3", "/x/admin", 11, recent)
	seedRequestLogs(t, db, "10.0.0.4", "/admin", 10, recent)

	rows, err := store.CountPathPrefixByAddress(context.Background(), "/admin", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if len(rows) != 1 || rows[0].IPAddress != "10.0.0.1" || rows[0].Count != 11 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestGetRequestLogStats(t *testing.T) {
	store, db := setupStoreTestDB(t)
	now := time.Now().UTC()

	us, de := "US", "DE"
	logs := []domain.RequestLog{
		{IPAddress: "10.0.0.1", Path: "/", Country: &us, Timestamp: now.Add(-time.Hour)},
		{IPAddress: "10.0.0.1", Path: "/", Country: &us, Timestamp: now.Add(-2 * time.Hour)},
		{IPAddress: "10.0.0.2", Path: "/", Country: &de, Timestamp: now.Add(-48 * time.Hour)},
		{IPAddress: "10.0.0.3", Path: "/", Timestamp: now.Add(-time.Minute)},
	}
	if err := db.Create(&logs).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := store.GetRequestLogStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalRequests != 4 || stats.UniqueIPs != 3 || stats.RequestsLast24h != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.TopCountries) != 2 || stats.TopCountries[0].Country != "US" || stats.TopCountries[0].Count != 2 {
		t.Fatalf("unexpected top countries %+v", stats.TopCountries)
	}
}

func TestGetOrCreateSuspiciousIP_FirstReasonWins(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	first, created, err := store.GetOrCreateSuspiciousIP(ctx, "10.9.9.9", "Excessive requests: 101 requests in the last hour")
	if err != nil || !created {
		t.Fatalf("create = %v, %v", created, err)
	}
	if !first.Flagged {
		t.Fatalf("new suspicious rows must be flagged")
	}

	if _, err := store.SetSuspiciousFlag(ctx, "10.9.9.9", false); err != nil {
		t.Fatalf("unflag: %v", err)
	}

	again, created, err := store.GetOrCreateSuspiciousIP(ctx, "10.9.9.9", "Multiple attempts to access /admin: 11 times in the last hour")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if created {
		t.Fatalf("second call must not create")
	}
	if again.Reason != first.Reason {
		t.Fatalf("reason overwritten: %q", again.Reason)
	}
	if again.Flagged {
		t.Fatalf("flag must not be reset by re-detection")
	}
}

func TestSetSuspiciousFlag_Unknown(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	if _, err := store.SetSuspiciousFlag(context.Background(), "10.1.1.1", false); !errors.Is(err, ErrSuspiciousNotFound) {
		t.Fatalf("expected ErrSuspiciousNotFound, got %v", err)
	}
}

func TestListSuspiciousIPs_FlaggedOnly(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	for _, addr := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, _, err := store.GetOrCreateSuspiciousIP(ctx, addr, "reason"); err != nil {
			t.Fatalf("create %s: %v", addr, err)
		}
	}
	if _, err := store.SetSuspiciousFlag(ctx, "10.0.0.2", false); err != nil {
		t.Fatalf("unflag: %v", err)
	}

	all, total, err := store.ListSuspiciousIPs(ctx, Page{}, false)
	if err != nil || total != 3 || len(all) != 3 {
		t.Fatalf("all = %d/%d, %v", len(all), total, err)
	}
	flagged, total, err := store.ListSuspiciousIPs(ctx, Page{}, true)
	if err != nil || total != 2 || len(flagged) != 2 {
		t.Fatalf("flagged = %d/%d, %v", len(flagged), total, err)
	}
	for _, entry := range flagged {
		if entry.IPAddress == "10.0.0.2" {
			t.Fatalf("unflagged row listed")
		}
	}
}

func TestPromoteSuspiciousIP(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	reason := "Multiple attempts to access /admin: 11 times in the last hour"
	if _, _, err := store.GetOrCreateSuspiciousIP(ctx, "10.0.0.5", reason); err != nil {
		t.Fatalf("create suspicious: %v", err)
	}

	entry, created, err := store.PromoteSuspiciousIP(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !created || entry.ReasonOrEmpty() != reason {
		t.Fatalf("unexpected promotion result created=%v entry=%+v", created, entry)
	}

	suspicious, err := store.GetSuspiciousIP(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("get suspicious: %v", err)
	}
	if suspicious.Flagged {
		t.Fatalf("promoted row must be unflagged")
	}

	again, created, err := store.PromoteSuspiciousIP(ctx, "10.0.0.5")
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if created || again.ID != entry.ID {
		t.Fatalf("second promote must be a no-op, got created=%v id=%d", created, again.ID)
	}
}

func TestPromoteSuspiciousIP_KeepsExistingBlockReason(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	if _, _, err := store.BlockIP(ctx, "10.0.0.6", strPtr("Manually blocked")); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, _, err := store.GetOrCreateSuspiciousIP(ctx, "10.0.0.6", "Excessive requests: 200 requests in the last hour"); err != nil {
		t.Fatalf("create suspicious: %v", err)
	}

	entry, created, err := store.PromoteSuspiciousIP(ctx, "10.0.0.6")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if created || entry.ReasonOrEmpty() != "Manually blocked" {
		t.Fatalf("existing block must win, got created=%v reason=%q", created, entry.ReasonOrEmpty())
	}
}

func TestPromoteSuspiciousIP_Unknown(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	if _, _, err := store.PromoteSuspiciousIP(ctx, "10.0.0.7"); !errors.Is(err, ErrSuspiciousNotFound) {
		t.Fatalf("expected ErrSuspiciousNotFound, got %v", err)
	}
	blocked, err := store.IsIPBlocked(ctx, "10.0.0.7")
	if err != nil || blocked {
		t.Fatalf("failed promotion must not block: %v, %v", blocked, err)
	}
}

func TestPromoteSuspiciousIP_CutsLongReason(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	long := "Multiple attempts to access /" + strings.Repeat("x", 300) + ": 11 times in the last hour"
	if _, _, err := store.GetOrCreateSuspiciousIP(ctx, "10.0.0.7", long); err != nil {
		t.Fatalf("seed: %v", err)
	}

	entry, created, err := store.PromoteSuspiciousIP(ctx, "10.0.0.7")
	if err != nil || !created {
		t.Fatalf("promote: created=%v err=%v", created, err)
	}
	if got := len([]rune(entry.ReasonOrEmpty())); got != domain.MaxReasonLength {
		t.Fatalf("block reason has %d runes, want %d", got, domain.MaxReasonLength)
	}

	suspicious, err := store.GetSuspiciousIP(ctx, "10.0.0.7")
	if err != nil {
		t.Fatalf("get suspicious: %v", err)
	}
	if suspicious.Reason != long {
		t.Fatalf("suspicious reason must stay complete")
	}
}

func TestUpdateBlockedReason(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	if _, err := store.UpdateBlockedReason(ctx, "10.1.1.1", strPtr("x")); !errors.Is(err, ErrBlockedNotFound) {
		t.Fatalf("expected ErrBlockedNotFound, got %v", err)
	}

	if _, _, err := store.BlockIP(ctx, "10.1.1.1", strPtr("typo")); err != nil {
		t.Fatalf("block: %v", err)
	}

	entry, err := store.UpdateBlockedReason(ctx, "10.1.1.1", strPtr("credential stuffing"))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if entry.ReasonOrEmpty() != "credential stuffing" {
		t.Fatalf("reason = %q", entry.ReasonOrEmpty())
	}

	entry, err = store.UpdateBlockedReason(ctx, "10.1.1.1", nil)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if entry.Reason != nil {
		t.Fatalf("expected NULL reason, got %q", *entry.Reason)
	}
}

func TestGetRequestLog(t *testing.T) {
	store, _ := setupStoreTestDB(t)
	ctx := context.Background()

	entry := domain.RequestLog{IPAddress: "192.0.2.1", Path: "/docs"}
	if err := store.InsertRequestLog(ctx, &entry); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetRequestLog(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IPAddress != "192.0.2.1" || got.Path != "/docs" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := store.GetRequestLog(ctx, entry.ID+100); !errors.Is(err, ErrRequestLogNotFound) {
		t.Fatalf("expected ErrRequestLogNotFound, got %v", err)
	}
}
