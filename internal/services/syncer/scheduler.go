package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/models"
)

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (s *Syncer) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Run launches both tracks right away and then every interval. Tracks run in
// the background and never wait for each other; a track still running at the
// next tick is left alone. A failed run is retried after retryDelay. On
// cancellation Run waits for in-flight runs to drain.
func (s *Syncer) Run(ctx context.Context) error {
	s.scheduled.Store(true)
	defer s.scheduled.Store(false)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	var retries []*time.Timer
	defer func() {
		for _, r := range retries {
			r.Stop()
		}
	}()

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			return ctx.Err()
		case <-t.C:
			s.cycle(ctx)
		case <-s.triggerCh:
			s.cycle(ctx)
		case tr := <-s.failedCh:
			slog.Warn("sync track failed, retry scheduled", "track", tr, "in", s.retryDelay.String())
			retries = append(retries, time.AfterFunc(s.retryDelay, func() {
				select {
				case s.retryCh <- tr:
				default:
				}
			}))
		case tr := <-s.retryCh:
			s.launch(ctx, tr)
		}
	}
}

func (s *Syncer) cycle(ctx context.Context) {
	s.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())
	s.cycles.Add(1)
	for _, tr := range models.Tracks() {
		s.launch(ctx, tr)
	}
}

func (s *Syncer) launch(ctx context.Context, tr models.Track) {
	err := s.StartTrack(ctx, tr)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyRunning):
		slog.Info("sync track still running, skipped", "track", tr)
	default:
		slog.Error("launch sync track", "track", tr, "error", err.Error())
		s.notifyFailed(tr)
	}
}

func (s *Syncer) notifyFailed(tr models.Track) {
	if !s.scheduled.Load() {
		return
	}
	select {
	case s.failedCh <- tr:
	default:
	}
}
