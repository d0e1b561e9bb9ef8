package domain

import "time"

// MaxReasonLength bounds the stored block reason in runes.
const MaxReasonLength = 255

// BlockedIP is an address that is denied access. IPAddress is unique.
type BlockedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IPAddress string  `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`
	Reason    *string `gorm:"size:255" json:"reason"`

	BlockedAt time.Time `gorm:"autoCreateTime" json:"blocked_at"`
}

// ReasonOrEmpty returns the block reason or "" when none was recorded.
func (b BlockedIP) ReasonOrEmpty() string {
	if b.Reason == nil {
		return ""
	}
	return *b.Reason
}

// TruncateReason cuts r down to MaxReasonLength runes.
func TruncateReason(r string) string {
	return truncateRunes(r, MaxReasonLength)
}
