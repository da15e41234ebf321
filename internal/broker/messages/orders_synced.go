package messages

import "time"

// OrdersSynced is emitted after a page of orders has been committed.
type OrdersSynced struct {
	RunID      string    `json:"run_id"`
	Track      string    `json:"track"`
	Page       int       `json:"page"`
	TotalPages int       `json:"total_pages"`
	Saved      int       `json:"saved"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	SyncedAt   time.Time `json:"synced_at"`
}
