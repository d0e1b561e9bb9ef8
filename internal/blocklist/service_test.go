package blocklist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"

	"iptrack/internal/database"
)

func setupServiceTest(t *testing.T) (*Service, *database.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.SetupDB(database.WithDialector(sqlite.Open(dsn)))
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := database.NewStore(db)
	return NewService(store), store
}

func TestBlock_SecondCallKeepsReason(t *testing.T) {
	svc, store := setupServiceTest(t)
	ctx := context.Background()

	if _, created, err := svc.Block(ctx, "5.5.5.5", "test"); err != nil || !created {
		t.Fatalf("first block: created=%v err=%v", created, err)
	}

	entry, created, err := svc.Block(ctx, "5.5.5.5", "other")
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if created {
		t.Fatalf("second block must report already blocked")
	}

	stored, err := store.GetBlockedIP(ctx, "5.5.5.5")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.ReasonOrEmpty() != "test" || entry.ReasonOrEmpty() != "test" {
		t.Fatalf("reason changed to %q", stored.ReasonOrEmpty())
	}
}

func TestBlock_InvalidAddress(t *testing.T) {
	svc, _ := setupServiceTest(t)

	_, _, err := svc.Block(context.Background(), "not-an-ip", "")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err.Error() != `"not-an-ip" is not a valid IP address` {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestBlock_BlankReasonIsNull(t *testing.T) {
	svc, _ := setupServiceTest(t)

	entry, _, err := svc.Block(context.Background(), "2001:DB8::5", "   ")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if entry.Reason != nil {
		t.Fatalf("expected NULL reason, got %q", *entry.Reason)
	}
	if entry.IPAddress != "2001:db8::5" {
		t.Fatalf("address not normalized: %q", entry.IPAddress)
	}
}

func TestUnblock(t *testing.T) {
	svc, _ := setupServiceTest(t)
	ctx := context.Background()

	if _, _, err := svc.Block(ctx, "6.6.6.6", DefaultReason); err != nil {
		t.Fatalf("block: %v", err)
	}
	removed, err := svc.Unblock(ctx, "6.6.6.6")
	if err != nil || !removed {
		t.Fatalf("unblock = %v, %v", removed, err)
	}
	removed, err = svc.Unblock(ctx, "6.6.6.6")
	if err != nil || removed {
		t.Fatalf("second unblock = %v, %v", removed, err)
	}
}

func TestPromote_IsIdempotent(t *testing.T) {
	svc, store := setupServiceTest(t)
	ctx := context.Background()

	reason := "Multiple attempts to access /admin: 11 times in the last hour"
	if _, _, err := store.GetOrCreateSuspiciousIP(ctx, "1.2.3.4", reason); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := svc.Promote(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !first.Created || first.Entry.ReasonOrEmpty() != reason {
		t.Fatalf("unexpected outcome %+v", first)
	}

	suspicious, err := store.GetSuspiciousIP(ctx, "1.2.3.4")
	if err != nil || suspicious.Flagged {
		t.Fatalf("suspicious row must be unflagged: %+v, %v", suspicious, err)
	}

	second, err := svc.Promote(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("second promote: %v", err)
	}
	if second.Created {
		t.Fatalf("second promote must not create")
	}

	_, total, err := store.ListBlockedIPs(ctx, database.Page{})
	if err != nil || total != 1 {
		t.Fatalf("expected exactly one block entry, got %d (%v)", total, err)
	}
}

func TestPromoteAll_ReportsPerAddress(t *testing.T) {
	svc, store := setupServiceTest(t)
	ctx := context.Background()

	if _, _, err := store.GetOrCreateSuspiciousIP(ctx, "10.0.0.1", "Excessive requests: 150 requests in the last hour"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outcomes, err := svc.PromoteAll(ctx, []string{"10.0.0.1", "10.0.0.2", "bogus"})
	if err != nil {
		t.Fatalf("promote all: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Created || outcomes[0].Error != "" {
		t.Fatalf("first outcome %+v", outcomes[0])
	}
	if outcomes[1].Error == "" || outcomes[2].Error == "" {
		t.Fatalf("unknown and invalid addresses must report errors: %+v", outcomes)
	}
}

func TestBlock_RejectsOverlongReason(t *testing.T) {
	svc, store := setupServiceTest(t)
	ctx := context.Background()

	_, _, err := svc.Block(ctx, "203.0.113.9", strings.Repeat("r", 300))
	if !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
	var reasonErr *InvalidReasonError
	if !errors.As(err, &reasonErr) || reasonErr.Length != 300 {
		t.Fatalf("unexpected error %v", err)
	}

	if blocked, err := store.IsIPBlocked(ctx, "203.0.113.9"); err != nil || blocked {
		t.Fatalf("rejected block must not be stored: blocked=%v err=%v", blocked, err)
	}

	if _, created, err := svc.Block(ctx, "203.0.113.9", strings.Repeat("r", 255)); err != nil || !created {
		t.Fatalf("reason at the limit: created=%v err=%v", created, err)
	}
}

func TestUpdateReason(t *testing.T) {
	svc, _ := setupServiceTest(t)
	ctx := context.Background()

	if _, _, err := svc.Block(ctx, "198.51.100.8", "typo"); err != nil {
		t.Fatalf("block: %v", err)
	}

	entry, err := svc.UpdateReason(ctx, "198.51.100.8", "  port scan  ")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if entry.ReasonOrEmpty() != "port scan" {
		t.Fatalf("reason = %q", entry.ReasonOrEmpty())
	}

	if _, err := svc.UpdateReason(ctx, "198.51.100.8", strings.Repeat("r", 256)); !errors.Is(err, ErrInvalidReason) {
		t.Fatalf("expected ErrInvalidReason, got %v", err)
	}
	if _, err := svc.UpdateReason(ctx, "198.51.100.9", "x"); !errors.Is(err, database.ErrBlockedNotFound) {
		t.Fatalf("expected ErrBlockedNotFound, got %v", err)
	}
}
