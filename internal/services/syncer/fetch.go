package syncer

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/transform"
)

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeRecord
	outcomeSkipped
)

// processPage fetches details for one page through the worker pool,
// transforms them and persists the survivors in a single batch. Per-order
// failures never fail the page; only the batch write can.
func (s *Syncer) processPage(ctx context.Context, tr models.Track, tns []string) (counts, error) {
	c := counts{Processed: int64(len(tns))}
	if len(tns) == 0 {
		return c, nil
	}

	records := make([]models.Record, len(tns))
	results := make([]outcome, len(tns))

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, tn := range tns {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("order worker panicked", "track", tr, "tracking_number", tn, "panic", r)
					records[i], results[i] = nil, outcomeFailed
				}
			}()
			records[i], results[i] = s.fetchOne(ctx, tr, tn)
			return nil
		})
	}
	_ = g.Wait()

	batch := make([]models.Record, 0, len(tns))
	for i, r := range results {
		switch r {
		case outcomeRecord:
			batch = append(batch, records[i])
		case outcomeSkipped:
			c.Skipped++
		default:
			c.Failed++
		}
	}
	if len(batch) == 0 {
		return c, nil
	}

	if tr == models.TrackPending {
		s.linkOriginalOrders(ctx, batch)
	}

	saved, err := s.store.SaveBatch(ctx, tr.Table(), batch)
	if err != nil {
		c.Failed += int64(len(batch))
		return c, err
	}
	c.Saved = int64(saved)
	return c, nil
}

func (s *Syncer) fetchOne(ctx context.Context, tr models.Track, tn string) (models.Record, outcome) {
	if s.rl != nil {
		if err := s.rl.Wait(ctx); err != nil {
			slog.Error("rate limiter", "tracking_number", tn, "error", err.Error())
			return nil, outcomeFailed
		}
	}

	raw, err := s.api.Detail(ctx, tn)
	if err != nil {
		if bosta.IsNotFound(err) {
			slog.Warn("order not found, skipped", "track", tr, "tracking_number", tn)
			return nil, outcomeSkipped
		}
		slog.Error("fetch order detail", "track", tr, "tracking_number", tn, "error", err.Error())
		return nil, outcomeFailed
	}

	rec, anomalies, err := s.tr.Transform(raw, tr)
	if len(anomalies) > 0 {
		slog.Warn("malformed order fields defaulted", "track", tr, "tracking_number", tn, "fields", anomalies.Fields())
	}
	if err != nil {
		if errors.Is(err, transform.ErrMissingTrackingNumber) {
			slog.Warn("order without tracking number dropped", "track", tr, "requested", tn)
		} else {
			slog.Error("transform order", "track", tr, "tracking_number", tn, "error", err.Error())
		}
		return nil, outcomeFailed
	}
	return rec, outcomeRecord
}

// linkOriginalOrders fills original_order_id from the orders table in one query.
func (s *Syncer) linkOriginalOrders(ctx context.Context, batch []models.Record) {
	keys := make([]string, 0, len(batch))
	for _, r := range batch {
		keys = append(keys, r.Key())
	}
	ids, err := s.store.LookupOrderIDs(ctx, keys)
	if err != nil {
		slog.Warn("lookup original orders", "error", err.Error())
		return
	}
	for _, r := range batch {
		p, ok := r.(*models.PendingOrder)
		if !ok {
			continue
		}
		if id, found := ids[p.TrackingNumber]; found {
			p.OriginalOrderID = &id
		}
	}
}
