package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iptrack/internal/domain"
)

// GetOrCreateSuspiciousIP records address as suspicious with reason unless a
// row already exists. Existing rows keep their reason and flag.
func (s *Store) GetOrCreateSuspiciousIP(ctx context.Context, address, reason string) (domain.SuspiciousIP, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.SuspiciousIP{}, false, err
	}

	entry := domain.SuspiciousIP{
		IPAddress:  address,
		Reason:     reason,
		DetectedAt: s.now(),
		Flagged:    true,
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return domain.SuspiciousIP{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return entry, true, nil
	}

	existing, err := findSuspiciousIP(db, address)
	if err != nil {
		return domain.SuspiciousIP{}, false, err
	}
	return existing, false, nil
}

func (s *Store) GetSuspiciousIP(ctx context.Context, address string) (domain.SuspiciousIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.SuspiciousIP{}, err
	}
	return findSuspiciousIP(db, address)
}

// ListSuspiciousIPs returns one page of suspicious addresses, newest first.
// With flaggedOnly set, reviewed (unflagged) rows are skipped.
func (s *Store) ListSuspiciousIPs(ctx context.Context, page Page, flaggedOnly bool) ([]domain.SuspiciousIP, int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	query := db.Model(&domain.SuspiciousIP{})
	if flaggedOnly {
		query = query.Where("flagged = ?", true)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []domain.SuspiciousIP
	err = query.Order("detected_at DESC").
		Order("id DESC").
		Limit(page.Size).
		Offset(page.offset()).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SetSuspiciousFlag updates the review flag of an existing row.
func (s *Store) SetSuspiciousFlag(ctx context.Context, address string, flagged bool) (domain.SuspiciousIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.SuspiciousIP{}, err
	}

	res := db.Model(&domain.SuspiciousIP{}).
		Where("ip_address = ?", address).
		Update("flagged", flagged)
	if res.Error != nil {
		return domain.SuspiciousIP{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.SuspiciousIP{}, ErrSuspiciousNotFound
	}
	return findSuspiciousIP(db, address)
}

// PromoteSuspiciousIP moves a suspicious address onto the block list in one
// transaction: the block entry carries the detection reason, cut to the
// block reason column, and the suspicious row is unflagged. Promoting an address that is already blocked
// succeeds with created=false and leaves the existing block entry alone.
func (s *Store) PromoteSuspiciousIP(ctx context.Context, address string) (domain.BlockedIP, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.BlockedIP{}, false, err
	}

	var (
		entry   domain.BlockedIP
		created bool
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		suspicious, err := findSuspiciousIP(tx, address)
		if err != nil {
			return err
		}

		reason := domain.TruncateReason(suspicious.Reason)
		entry, created, err = insertBlockedIP(tx, address, &reason, s.now())
		if err != nil {
			return err
		}

		if suspicious.Flagged {
			if err := tx.Model(&domain.SuspiciousIP{}).
				Where("id = ?", suspicious.ID).
				Update("flagged", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.BlockedIP{}, false, err
	}
	return entry, created, nil
}

func findSuspiciousIP(db *gorm.DB, address string) (domain.SuspiciousIP, error) {
	var entry domain.SuspiciousIP
	err := db.Where("ip_address = ?", address).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SuspiciousIP{}, ErrSuspiciousNotFound
	}
	if err != nil {
		return domain.SuspiciousIP{}, err
	}
	return entry, nil
}
