package syncer

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/models"
)

var (
	ErrAlreadyRunning = errors.New("track already running")
	ErrInvalidRequest = errors.New("invalid request")
)

type counts struct {
	Processed int64
	Saved     int64
	Skipped   int64
	Failed    int64
}

func (c *counts) add(o counts) {
	c.Processed += o.Processed
	c.Saved += o.Saved
	c.Skipped += o.Skipped
	c.Failed += o.Failed
}

// trackFSM guards one track: Idle -> Running -> Idle | Failed.
// A second begin while Running is refused.
type trackFSM struct {
	track models.Track

	mu          sync.Mutex
	state       models.TrackState
	runID       string
	startedAt   time.Time
	finishedAt  time.Time
	page        int
	totalPages  int
	counts      counts
	failedPages int
	lastError   string
	lastLogAt   time.Time
}

func newTrackFSM(tr models.Track) *trackFSM {
	return &trackFSM{track: tr, state: models.TrackStateIdle}
}

func (t *trackFSM) begin(runID string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == models.TrackStateRunning {
		return errors.Wrapf(ErrAlreadyRunning, "%s (run %s)", t.track, t.runID)
	}
	t.state = models.TrackStateRunning
	t.runID = runID
	t.startedAt = now
	t.finishedAt = time.Time{}
	t.page, t.totalPages, t.failedPages = 0, 0, 0
	t.counts = counts{}
	t.lastLogAt = time.Time{}
	return nil
}

func (t *trackFSM) progress(page, totalPages int, c counts, failedPage bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = page
	t.totalPages = totalPages
	t.counts.add(c)
	if failedPage {
		t.failedPages++
	}
}

// shouldLog returns true at most once per interval.
func (t *trackFSM) shouldLog(now time.Time, every time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.lastLogAt.IsZero() && now.Sub(t.lastLogAt) < every {
		return false
	}
	t.lastLogAt = now
	return true
}

func (t *trackFSM) finish(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishedAt = now
	if err != nil {
		t.state = models.TrackStateFailed
		t.lastError = err.Error()
		return
	}
	t.state = models.TrackStateIdle
	t.lastError = ""
}

func (t *trackFSM) snapshot() TrackStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := TrackStats{
		Track:       t.track,
		State:       t.state,
		RunID:       t.runID,
		Page:        t.page,
		TotalPages:  t.totalPages,
		Processed:   t.counts.Processed,
		Saved:       t.counts.Saved,
		Skipped:     t.counts.Skipped,
		Failed:      t.counts.Failed,
		FailedPages: t.failedPages,
		LastError:   t.lastError,
	}
	if !t.startedAt.IsZero() {
		s := t.startedAt
		st.StartedAt = &s
	}
	if !t.finishedAt.IsZero() {
		f := t.finishedAt
		st.FinishedAt = &f
	}
	return st
}
