package database

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iptrack/internal/domain"
)

// IsIPBlocked reports whether address has a block list entry.
func (s *Store) IsIPBlocked(ctx context.Context, address string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.Model(&domain.BlockedIP{}).
		Where("ip_address = ?", address).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// BlockIP inserts address into the block list unless it is already there.
// An existing entry is returned untouched together with created=false.
func (s *Store) BlockIP(ctx context.Context, address string, reason *string) (domain.BlockedIP, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.BlockedIP{}, false, err
	}
	return insertBlockedIP(db, address, reason, s.now())
}

// UnblockIP removes address from the block list. It returns false when no
// entry existed.
func (s *Store) UnblockIP(ctx context.Context, address string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	res := db.Where("ip_address = ?", address).Delete(&domain.BlockedIP{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetBlockedIP(ctx context.Context, address string) (domain.BlockedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.BlockedIP{}, err
	}

	var entry domain.BlockedIP
	err = db.Where("ip_address = ?", address).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.BlockedIP{}, ErrBlockedNotFound
	}
	if err != nil {
		return domain.BlockedIP{}, err
	}
	return entry, nil
}

// UpdateBlockedReason replaces the reason of an existing entry. A nil reason
// clears it.
func (s *Store) UpdateBlockedReason(ctx context.Context, address string, reason *string) (domain.BlockedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.BlockedIP{}, err
	}

	res := db.Model(&domain.BlockedIP{}).
		Where("ip_address = ?", address).
		Update("reason", reason)
	if res.Error != nil {
		return domain.BlockedIP{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.BlockedIP{}, ErrBlockedNotFound
	}

	var entry domain.BlockedIP
	if err := db.Where("ip_address = ?", address).First(&entry).Error; err != nil {
		return domain.BlockedIP{}, err
	}
	return entry, nil
}

// ListBlockedIPs returns one page of entries, most recently blocked first.
func (s *Store) ListBlockedIPs(ctx context.Context, page Page) ([]domain.BlockedIP, int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	var total int64
	if err := db.Model(&domain.BlockedIP{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []domain.BlockedIP
	err = db.Order("blocked_at DESC").
		Order("id DESC").
		Limit(page.Size).
		Offset(page.offset()).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// insertBlockedIP runs the insert-if-absent on db, which may be a transaction.
func insertBlockedIP(db *gorm.DB, address string, reason *string, now time.Time) (domain.BlockedIP, bool, error) {
	entry := domain.BlockedIP{
		IPAddress: address,
		Reason:    reason,
		BlockedAt: now,
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip_address"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return domain.BlockedIP{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		return entry, true, nil
	}

	var existing domain.BlockedIP
	if err := db.Where("ip_address = ?", address).First(&existing).Error; err != nil {
		return domain.BlockedIP{}, false, err
	}
	return existing, false, nil
}
