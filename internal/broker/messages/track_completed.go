package messages

import "time"

const (
	TrackStatusCompleted = "completed"
	TrackStatusFailed    = "failed"
	TrackStatusCancelled = "cancelled"
)

// TrackCompleted closes a sync run of one track.
type TrackCompleted struct {
	RunID       string    `json:"run_id"`
	Track       string    `json:"track"`
	Status      string    `json:"status"`
	Processed   int64     `json:"processed"`
	Saved       int64     `json:"saved"`
	Skipped     int64     `json:"skipped"`
	FailedPages int       `json:"failed_pages"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`

	Error *string `json:"error,omitempty"`
}
