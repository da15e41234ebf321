package models

import "time"

// ResumeState is the durable sync checkpoint.
// Page fields hold the next page to process for a track; 0 is treated as 1.
type ResumeState struct {
	NormalCurrentPage  int        `json:"normal_current_page"`
	PendingCurrentPage int        `json:"pending_current_page"`
	TotalPages         int        `json:"total_pages"`
	ProcessedOrders    int64      `json:"processed_orders"`
	LastSyncTime       *time.Time `json:"last_sync_time,omitempty"`

	NormalLastSuccess  *time.Time `json:"normal_last_success,omitempty"`
	PendingLastSuccess *time.Time `json:"pending_last_success,omitempty"`
}

func (s ResumeState) Page(tr Track) int {
	p := s.NormalCurrentPage
	if tr == TrackPending {
		p = s.PendingCurrentPage
	}
	if p < 1 {
		return 1
	}
	return p
}

func (s *ResumeState) SetPage(tr Track, page int) {
	if tr == TrackPending {
		s.PendingCurrentPage = page
		return
	}
	s.NormalCurrentPage = page
}

func (s ResumeState) LastSuccess(tr Track) *time.Time {
	if tr == TrackPending {
		return s.PendingLastSuccess
	}
	return s.NormalLastSuccess
}

func (s *ResumeState) SetLastSuccess(tr Track, at time.Time) {
	if tr == TrackPending {
		s.PendingLastSuccess = &at
		return
	}
	s.NormalLastSuccess = &at
}
