package models

import "fmt"

// Track is one of the two independent sync pipelines.
type Track string

const (
	TrackNormal  Track = "normal"
	TrackPending Track = "pending"
)

func Tracks() []Track {
	return []Track{TrackNormal, TrackPending}
}

func ParseTrack(s string) (Track, error) {
	switch Track(s) {
	case TrackNormal, TrackPending:
		return Track(s), nil
	}
	return "", fmt.Errorf("unknown track %q", s)
}

// Состояния sync-трека.
type TrackState string

const (
	TrackStateIdle    TrackState = "idle"
	TrackStateRunning TrackState = "running"
	TrackStateFailed  TrackState = "failed"
)

// Table is the relational table the track writes to.
func (t Track) Table() string {
	if t == TrackPending {
		return "pending_orders"
	}
	return "orders"
}
