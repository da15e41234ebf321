package models

import "time"

type TimelineEvent struct {
	OrderID        string
	TrackingNumber string
	Code           string
	Value          string
	Date           *time.Time
	IsDone         bool
	Description    string
	SequenceOrder  int
}
