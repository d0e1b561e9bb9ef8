package domain

import "time"

// SuspiciousIP is an address flagged by anomaly detection and awaiting review.
// The first detected reason is kept; later detections never overwrite it.
type SuspiciousIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	IPAddress string `gorm:"size:45;uniqueIndex;not null" json:"ip_address"`
	Reason    string `gorm:"type:text;not null" json:"reason"`

	DetectedAt time.Time `gorm:"autoCreateTime" json:"detected_at"`

	// Flagged stays true until an operator blocks the address.
	Flagged bool `gorm:"not null;default:true" json:"flagged"`
}
