package models

import "time"

// UsageStats reports request counts against the sliding-window quota.
type UsageStats struct {
	RequestsLastHour  int `json:"requests_last_hour"`
	RequestsToday     int `json:"requests_today"`
	RemainingThisHour int `json:"remaining_this_hour"`
	MaxPerHour        int `json:"max_per_hour"`
}

// RateRecord is one admitted request in the persistent window store.
// Rows are appended on admission and pruned once they age out of the window.
type RateRecord struct {
	ID                int64     `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	PromptFingerprint string    `json:"prompt_fingerprint"`
	ResponseLength    int       `json:"response_length"`
}

// CacheStats reports response cache performance metrics.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
