package domain

import (
	"time"
	"unicode/utf8"
)

// MaxPathLength bounds the stored request path.
const MaxPathLength = 500

// RequestLog is one admitted inbound request. Rows are append-only.
type RequestLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// IPAddress holds the normalized client address (IPv4 dotted or canonical IPv6).
	IPAddress string `gorm:"size:45;index;not null" json:"ip_address"`
	Path      string `gorm:"size:500;not null" json:"path"`

	Country *string `gorm:"size:100" json:"country"`
	City    *string `gorm:"size:100" json:"city"`

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

// TruncatePath cuts p down to MaxPathLength runes.
func TruncatePath(p string) string {
	return truncateRunes(p, MaxPathLength)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
