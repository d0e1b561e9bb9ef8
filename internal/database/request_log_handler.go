package database

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"iptrack/internal/domain"
)

// AddressCount is one row of a count-by-address aggregation.
type AddressCount struct {
	IPAddress string `gorm:"column:ip_address"`
	Count     int64  `gorm:"column:request_count"`
}

// CountryCount is one row of the top-countries aggregation.
type CountryCount struct {
	Country string `gorm:"column:country" json:"country"`
	Count   int64  `gorm:"column:request_count" json:"count"`
}

// RequestLogStats summarises the request log.
type RequestLogStats struct {
	TotalRequests   int64          `json:"total_requests"`
	UniqueIPs       int64          `json:"unique_ips"`
	RequestsLast24h int64          `json:"requests_last_24h"`
	TopCountries    []CountryCount `json:"top_countries"`
}

var timestampColumn = clause.Column{Name: "timestamp"}

// InsertRequestLog appends a record. The timestamp is assigned here when the
// caller left it unset; the path is truncated to the column size.
func (s *Store) InsertRequestLog(ctx context.Context, entry *domain.RequestLog) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	entry.Path = domain.TruncatePath(entry.Path)

	return db.Create(entry).Error
}

// CountRequestsByAddress returns every address with more than minCount
// records since the given instant, ordered by address.
func (s *Store) CountRequestsByAddress(ctx context.Context, since time.Time, minCount int) ([]AddressCount, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []AddressCount
	err = db.Model(&domain.RequestLog{}).
		Select("ip_address, COUNT(*) AS request_count").
		Where(clause.Gte{Column: timestampColumn, Value: since.UTC()}).
		Group("ip_address").
		Having("COUNT(*) > ?", minCount).
		Order("ip_address ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CountPathPrefixByAddress is CountRequestsByAddress restricted to records
// whose path starts with prefix (case-sensitive).
func (s *Store) CountPathPrefixByAddress(ctx context.Context, prefix string, since time.Time, minCount int) ([]AddressCount, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return s.CountRequestsByAddress(ctx, since, minCount)
	}

	var rows []AddressCount
	err = db.Model(&domain.RequestLog{}).
		Select("ip_address, COUNT(*) AS request_count").
		Where(clause.Gte{Column: timestampColumn, Value: since.UTC()}).
		Where("substr(path, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix).
		Group("ip_address").
		Having("COUNT(*) > ?", minCount).
		Order("ip_address ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListRequestLogs returns one page of records, newest first, and the total.
func (s *Store) ListRequestLogs(ctx context.Context, page Page) ([]domain.RequestLog, int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	var total int64
	if err := db.Model(&domain.RequestLog{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []domain.RequestLog
	err = db.Order(clause.OrderByColumn{Column: timestampColumn, Desc: true}).
		Order("id DESC").
		Limit(page.Size).
		Offset(page.offset()).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (s *Store) GetRequestLog(ctx context.Context, id uint64) (domain.RequestLog, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.RequestLog{}, err
	}

	var entry domain.RequestLog
	err = db.First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RequestLog{}, ErrRequestLogNotFound
	}
	if err != nil {
		return domain.RequestLog{}, err
	}
	return entry, nil
}

// GetRequestLogStats computes totals, distinct addresses, the trailing 24h
// volume and the five most frequent countries.
func (s *Store) GetRequestLogStats(ctx context.Context) (RequestLogStats, error) {
	var stats RequestLogStats

	db, err := s.conn(ctx)
	if err != nil {
		return stats, err
	}

	if err := db.Model(&domain.RequestLog{}).Count(&stats.TotalRequests).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&domain.RequestLog{}).Distinct("ip_address").Count(&stats.UniqueIPs).Error; err != nil {
		return stats, err
	}

	since := s.now().Add(-24 * time.Hour)
	if err := db.Model(&domain.RequestLog{}).
		Where(clause.Gte{Column: timestampColumn, Value: since}).
		Count(&stats.RequestsLast24h).Error; err != nil {
		return stats, err
	}

	stats.TopCountries = make([]CountryCount, 0, 5)
	err = db.Model(&domain.RequestLog{}).
		Select("country, COUNT(*) AS request_count").
		Where("country IS NOT NULL").
		Group("country").
		Order("request_count DESC").
		Order("country ASC").
		Limit(5).
		Scan(&stats.TopCountries).Error
	if err != nil {
		return stats, err
	}

	return stats, nil
}
