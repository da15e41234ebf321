package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/broker/messages"
	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
)

func filterFor(tr models.Track) bosta.Filter {
	if tr == models.TrackPending {
		return bosta.FilterPending
	}
	return bosta.FilterAll
}

// runTrack walks the track's pages from its checkpoint to the end.
//
// The checkpoint holds the next page to process and only moves forward after
// a page is persisted. A page whose search or persist fails is counted and
// skipped; from then on the checkpoint stays at that page for the rest of the
// run, so a restart resumes there. A finished run resets it to 1.
func (s *Syncer) runTrack(ctx context.Context, fsm *trackFSM, res *Result) error {
	tr := fsm.track
	filter := filterFor(tr)

	first, err := s.api.Search(ctx, bosta.SearchRequest{Page: 1, Limit: s.pageSize, Filter: filter})
	if err != nil {
		s.metrics.page(tr, "failed")
		return errors.Wrap(err, "search page 1")
	}
	total := first.TotalPages()
	res.TotalPages = total

	state, err := s.checkpoint.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load checkpoint")
	}

	if total == 0 {
		slog.Info("no orders to sync", "track", tr)
		return s.complete(ctx, tr, res)
	}

	start := state.Page(tr)
	if start > total {
		slog.Warn("checkpoint past last page, starting over", "track", tr, "checkpoint", start, "total_pages", total)
		start = 1
	}
	res.StartPage = start
	if start > 1 {
		slog.Info("resuming track", "track", tr, "page", start, "total_pages", total)
	}

	frozen := false
	for page := start; page <= total; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tns := first.TrackingNumbers
		if page > 1 {
			sp, err := s.api.Search(ctx, bosta.SearchRequest{Page: page, Limit: s.pageSize, Filter: filter})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("search page", "track", tr, "page", page, "error", err.Error())
				frozen = true
				s.account(fsm, res, page, total, counts{}, true)
				continue
			}
			tns = sp.TrackingNumbers
		}

		// страница доживает до конца даже после сигнала остановки, но не дольше drainGrace
		pctx, cancel := drainContext(ctx, s.drainGrace)
		c, err := s.processPage(pctx, tr, tns)
		if err != nil {
			cancel()
			slog.Error("persist page", "track", tr, "page", page, "error", err.Error())
			frozen = true
			s.account(fsm, res, page, total, c, true)
			continue
		}

		err = s.advance(pctx, tr, page, total, c.Saved, frozen)
		cancel()
		if err != nil {
			return err
		}

		s.account(fsm, res, page, total, c, false)
		s.publishPage(ctx, res, page, c)
		s.logProgress(fsm, res, page, total)
	}

	return s.complete(ctx, tr, res)
}

// account folds a finished page, ok or failed, into the run result, the live
// stats and the metrics with a single progress update.
func (s *Syncer) account(fsm *trackFSM, res *Result, page, total int, c counts, failed bool) {
	res.Processed += c.Processed
	res.Saved += c.Saved
	res.Skipped += c.Skipped
	res.Failed += c.Failed
	outcome := "ok"
	if failed {
		res.FailedPages++
		outcome = "failed"
	}
	fsm.progress(page, total, c, failed)
	s.metrics.orderCounts(fsm.track, c)
	s.metrics.page(fsm.track, outcome)
}

// advance records a persisted page. The page cursor only moves while no
// earlier page of this run has failed.
func (s *Syncer) advance(ctx context.Context, tr models.Track, page, total int, saved int64, frozen bool) error {
	now := s.now().UTC()
	_, err := s.checkpoint.Update(ctx, func(st *models.ResumeState) {
		if !frozen {
			st.SetPage(tr, page+1)
		}
		st.TotalPages = total
		st.ProcessedOrders += saved
		st.LastSyncTime = &now
	})
	return errors.Wrapf(err, "checkpoint page %d", page)
}

func (s *Syncer) complete(ctx context.Context, tr models.Track, res *Result) error {
	now := s.now().UTC()
	cctx, cancel := drainContext(ctx, s.drainGrace)
	defer cancel()
	_, err := s.checkpoint.Update(cctx, func(st *models.ResumeState) {
		st.SetPage(tr, 1)
		st.LastSyncTime = &now
		if res.FailedPages == 0 {
			st.SetLastSuccess(tr, now)
		}
	})
	return errors.Wrap(err, "reset checkpoint")
}

func (s *Syncer) logProgress(fsm *trackFSM, res *Result, page, total int) {
	if !fsm.shouldLog(s.now(), s.progressEvery) && page != total {
		return
	}
	slog.Info("sync progress", "track", fsm.track, "page", page, "total_pages", total,
		"saved", res.Saved, "skipped", res.Skipped, "failed", res.Failed)
}

func (s *Syncer) publishPage(ctx context.Context, res *Result, page int, c counts) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.publisher.OrdersSynced(pctx, messages.OrdersSynced{
		RunID:      res.RunID,
		Track:      string(res.Track),
		Page:       page,
		TotalPages: res.TotalPages,
		Saved:      int(c.Saved),
		Skipped:    int(c.Skipped),
		Failed:     int(c.Failed),
		SyncedAt:   s.now().UTC(),
	})
	if err != nil {
		slog.Warn("publish orders synced", "track", res.Track, "page", page, "error", err.Error())
	}
}

// drainContext outlives ctx by at most grace.
func drainContext(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(grace, cancel)
	})
	return dctx, func() {
		stop()
		cancel()
	}
}
