package dto

import "iptrack/internal/domain"

// Page wraps one page of a collection.
type Page[T any] struct {
	Count    int64 `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Results  []T   `json:"results"`
}

// LogOverview is the landing page payload: the latest requests and the total.
type LogOverview struct {
	TotalLogs  int64               `json:"total_logs"`
	RecentLogs []domain.RequestLog `json:"recent_logs"`
}
