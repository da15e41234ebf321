package syncer

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/broker/messages"
	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/transform"
)

type API interface {
	Search(ctx context.Context, req bosta.SearchRequest) (bosta.SearchPage, error)
	Detail(ctx context.Context, trackingNumber string) ([]byte, error)
}

type Store interface {
	SaveBatch(ctx context.Context, table string, records []models.Record) (int, error)
	LookupOrderIDs(ctx context.Context, trackingNumbers []string) (map[string]string, error)
	UpdatePendingStatus(ctx context.Context, upd models.PendingStatusUpdate) error
}

type Checkpoint interface {
	Load(ctx context.Context) (models.ResumeState, error)
	Update(ctx context.Context, fn func(st *models.ResumeState)) (models.ResumeState, error)
}

type Publisher interface {
	OrdersSynced(ctx context.Context, m messages.OrdersSynced) error
	TrackCompleted(ctx context.Context, m messages.TrackCompleted) error
}

// RateLimiter throttles detail fetches across all workers of all processes.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

type Syncer struct {
	api        API
	store      Store
	checkpoint Checkpoint
	tr         *transform.Transformer
	publisher  Publisher
	rl         RateLimiter
	metrics    *Metrics
	now        func() time.Time

	pageSize      int
	workers       int
	interval      time.Duration
	retryDelay    time.Duration
	drainGrace    time.Duration
	progressEvery time.Duration

	tracks map[models.Track]*trackFSM
	wg     sync.WaitGroup

	triggerCh chan struct{}
	retryCh   chan models.Track
	failedCh  chan models.Track
	scheduled atomic.Bool

	startedAt           time.Time
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	cycles              atomic.Int64
}

func New(api API, store Store, cp Checkpoint, tr *transform.Transformer) *Syncer {
	if tr == nil {
		tr = transform.New(nil)
	}
	s := &Syncer{
		api:           api,
		store:         store,
		checkpoint:    cp,
		tr:            tr,
		now:           time.Now,
		pageSize:      50,
		workers:       20,
		interval:      30 * time.Minute,
		retryDelay:    time.Minute,
		drainGrace:    30 * time.Second,
		progressEvery: 2 * time.Second,
		tracks:        make(map[models.Track]*trackFSM, 2),
		triggerCh:     make(chan struct{}, 1),
		retryCh:       make(chan models.Track, 2),
		failedCh:      make(chan models.Track, 2),
		startedAt:     time.Now().UTC(),
	}
	for _, t := range models.Tracks() {
		s.tracks[t] = newTrackFSM(t)
	}
	return s
}

func (s *Syncer) WithSettings(pageSize, workers int, interval, retryDelay, drainGrace time.Duration) *Syncer {
	if pageSize > 0 {
		s.pageSize = pageSize
	}
	if workers > 0 {
		s.workers = workers
	}
	if interval > 0 {
		s.interval = interval
	}
	if retryDelay > 0 {
		s.retryDelay = retryDelay
	}
	if drainGrace > 0 {
		s.drainGrace = drainGrace
	}
	return s
}

func (s *Syncer) WithPublisher(p Publisher) *Syncer {
	s.publisher = p
	return s
}

func (s *Syncer) WithRateLimiter(rl RateLimiter) *Syncer {
	s.rl = rl
	return s
}

func (s *Syncer) WithMetrics(m *Metrics) *Syncer {
	s.metrics = m
	return s
}

func (s *Syncer) WithClock(now func() time.Time) *Syncer {
	if now != nil {
		s.now = now
	}
	return s
}

type TrackStats struct {
	Track       models.Track      `json:"track"`
	State       models.TrackState `json:"state"`
	RunID       string            `json:"runId,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	FinishedAt  *time.Time        `json:"finishedAt,omitempty"`
	Page        int               `json:"page"`
	TotalPages  int               `json:"totalPages"`
	Processed   int64             `json:"processed"`
	Saved       int64             `json:"saved"`
	Skipped     int64             `json:"skipped"`
	Failed      int64             `json:"failed"`
	FailedPages int               `json:"failedPages"`
	LastError   string            `json:"lastError,omitempty"`
}

type Stats struct {
	StartedAt     time.Time    `json:"startedAt"`
	LastCycleAt   *time.Time   `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time   `json:"lastTriggerAt,omitempty"`
	Cycles        int64        `json:"cycles"`
	Tracks        []TrackStats `json:"tracks"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt: s.startedAt,
		Cycles:    s.cycles.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	for _, tr := range models.Tracks() {
		st.Tracks = append(st.Tracks, s.tracks[tr].snapshot())
	}
	return st
}

// Result is the outcome of one track run.
type Result struct {
	RunID       string       `json:"runId"`
	Track       models.Track `json:"track"`
	Status      string       `json:"status"`
	StartPage   int          `json:"startPage"`
	TotalPages  int          `json:"totalPages"`
	Processed   int64        `json:"processed"`
	Saved       int64        `json:"saved"`
	Skipped     int64        `json:"skipped"`
	Failed      int64        `json:"failed"`
	FailedPages int          `json:"failedPages"`
	StartedAt   time.Time    `json:"startedAt"`
	FinishedAt  time.Time    `json:"finishedAt"`
}

// RunTrack runs one full pass of a track and blocks until it ends.
func (s *Syncer) RunTrack(ctx context.Context, tr models.Track) (Result, error) {
	fsm, runID, err := s.begin(tr)
	if err != nil {
		return Result{}, err
	}
	return s.execute(ctx, fsm, runID)
}

// StartTrack launches a track run in the background. ctx bounds the run, not
// the call. ErrAlreadyRunning is returned at once if the track is busy.
func (s *Syncer) StartTrack(ctx context.Context, tr models.Track) error {
	fsm, runID, err := s.begin(tr)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.execute(ctx, fsm, runID)
	}()
	return nil
}

// Wait blocks until every background run has returned.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

func (s *Syncer) begin(tr models.Track) (*trackFSM, string, error) {
	fsm, ok := s.tracks[tr]
	if !ok {
		return nil, "", errors.Errorf("unknown track %q", tr)
	}
	runID := uuid.NewString()
	if err := fsm.begin(runID, s.now().UTC()); err != nil {
		return nil, "", err
	}
	return fsm, runID, nil
}

func (s *Syncer) execute(ctx context.Context, fsm *trackFSM, runID string) (res Result, err error) {
	tr := fsm.track
	res = Result{RunID: runID, Track: tr, StartedAt: s.now().UTC()}
	s.metrics.started(tr)
	slog.Info("sync track started", "track", tr, "run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
			slog.Error("sync track panicked", "track", tr, "run_id", runID, "panic", r)
		}

		res.FinishedAt = s.now().UTC()
		res.Status = messages.TrackStatusCompleted
		switch {
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			res.Status = messages.TrackStatusCancelled
		case err != nil:
			res.Status = messages.TrackStatusFailed
		}

		fsm.finish(res.FinishedAt, err)
		s.metrics.finished(tr, res.FinishedAt.Sub(res.StartedAt).Seconds())
		s.publishCompleted(ctx, res, err)

		if err != nil {
			slog.Error("sync track finished with error", "track", tr, "run_id", runID, "status", res.Status, "error", err.Error())
			if res.Status == messages.TrackStatusFailed {
				s.notifyFailed(tr)
			}
			return
		}
		slog.Info("sync track finished", "track", tr, "run_id", runID,
			"pages", res.TotalPages, "saved", res.Saved, "skipped", res.Skipped,
			"failed", res.Failed, "failed_pages", res.FailedPages,
			"took", res.FinishedAt.Sub(res.StartedAt).String())
	}()

	err = s.runTrack(ctx, fsm, &res)
	return res, err
}

func (s *Syncer) publishCompleted(ctx context.Context, res Result, runErr error) {
	if s.publisher == nil {
		return
	}
	msg := messages.TrackCompleted{
		RunID:       res.RunID,
		Track:       string(res.Track),
		Status:      res.Status,
		Processed:   res.Processed,
		Saved:       res.Saved,
		Skipped:     res.Skipped,
		FailedPages: res.FailedPages,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
	}
	if runErr != nil {
		e := runErr.Error()
		msg.Error = &e
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.publisher.TrackCompleted(pctx, msg); err != nil {
		slog.Warn("publish track completed", "track", res.Track, "error", err.Error())
	}
}

// UpdatePendingStatus applies an operator transition to a pending order.
func (s *Syncer) UpdatePendingStatus(ctx context.Context, trackingNumber, status, receivedBy, notes string) error {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return errors.Wrap(ErrInvalidRequest, "tracking number is required")
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if !models.IsValidPendingStatus(status) {
		return errors.Wrapf(ErrInvalidRequest, "status %q", status)
	}
	err := s.store.UpdatePendingStatus(ctx, models.PendingStatusUpdate{
		TrackingNumber: trackingNumber,
		Status:         status,
		ReceivedBy:     strings.TrimSpace(receivedBy),
		Notes:          strings.TrimSpace(notes),
		At:             s.now().In(s.tr.Location()),
	})
	if err != nil {
		return err
	}
	slog.Info("pending order status updated", "tracking_number", trackingNumber, "status", status)
	return nil
}
