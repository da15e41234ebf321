package transform

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingTrackingNumber means the payload has no identity to upsert against.
var ErrMissingTrackingNumber = errors.New("tracking number missing")

// MalformedDataError describes one field that had an unexpected type or value
// and was replaced by its default.
type MalformedDataError struct {
	Field  string
	Reason string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed %s: %s", e.Field, e.Reason)
}

type Anomalies []*MalformedDataError

func (a Anomalies) Fields() []string {
	out := make([]string, 0, len(a))
	for _, e := range a {
		out = append(out, e.Field)
	}
	return out
}

func (a Anomalies) Error() string {
	parts := make([]string, 0, len(a))
	for _, e := range a {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
