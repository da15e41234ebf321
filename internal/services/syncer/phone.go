package syncer

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/transform"
)

const maxPhonePages = 100

type PhoneResult struct {
	Phone      string `json:"phone"`
	TotalCount int    `json:"totalCount"`
	Pages      int    `json:"pages"`
	Processed  int64  `json:"processed"`
	Saved      int64  `json:"saved"`
	Skipped    int64  `json:"skipped"`
	Failed     int64  `json:"failed"`
}

// SyncPhone pulls the orders of one customer into the orders table. Only the
// first page is fetched unless all is set, and never more than 100 pages.
// It does not touch the track checkpoints.
func (s *Syncer) SyncPhone(ctx context.Context, phone string, all bool) (PhoneResult, error) {
	clean := transform.CleanPhone(phone)
	if clean == "" {
		return PhoneResult{}, errors.Wrapf(ErrInvalidRequest, "phone %q", phone)
	}
	res := PhoneResult{Phone: clean}

	req := bosta.SearchRequest{Page: 1, Limit: s.pageSize, Filter: bosta.FilterAll, Phone: clean}
	first, err := s.api.Search(ctx, req)
	if err != nil {
		return res, errors.Wrap(err, "search by phone")
	}
	res.TotalCount = first.TotalCount

	last := 1
	if all {
		last = min(first.TotalPages(), maxPhonePages)
	}

	for page := 1; page <= last; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		tns := first.TrackingNumbers
		if page > 1 {
			req.Page = page
			sp, err := s.api.Search(ctx, req)
			if err != nil {
				slog.Error("search by phone", "phone", clean, "page", page, "error", err.Error())
				continue
			}
			tns = sp.TrackingNumbers
		}
		if len(tns) == 0 {
			break
		}

		c, err := s.processPage(ctx, models.TrackNormal, tns)
		res.Pages++
		res.Processed += c.Processed
		res.Saved += c.Saved
		res.Skipped += c.Skipped
		res.Failed += c.Failed
		if err != nil {
			return res, err
		}
	}

	slog.Info("phone sync done", "phone", clean, "pages", res.Pages, "saved", res.Saved)
	return res, nil
}
