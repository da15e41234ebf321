package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/BostaSync/internal/broker/messages"
	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
	"github.com/BearBump/BostaSync/internal/transform"
)

func newTestSyncer(api *fakeAPI, store *fakeStore, cp *memCheckpoint) *Syncer {
	return New(api, store, cp, transform.New(nil)).
		WithSettings(api.pageSize, 4, time.Hour, 20*time.Millisecond, time.Second)
}

func TestRunTrack_FullPass(t *testing.T) {
	api := newFakeAPI(5, 2)
	store := newFakeStore()
	cp := &memCheckpoint{}
	pub := &fakePublisher{}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := newTestSyncer(api, store, cp).WithPublisher(pub).WithMetrics(m)

	res, err := s.RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, messages.TrackStatusCompleted, res.Status)
	require.Equal(t, 3, res.TotalPages)
	require.Equal(t, int64(5), res.Processed)
	require.Equal(t, int64(5), res.Saved)
	require.NotEmpty(t, res.RunID)

	// page 1 comes from the initial search
	require.Equal(t, []int{1, 2, 3}, api.searchedPages())
	require.ElementsMatch(t, []string{"T1", "T2", "T3", "T4", "T5"}, store.savedKeys())
	require.Equal(t, "orders", store.calls[0].table)

	require.Equal(t, []int{2, 3, 4, 1}, cp.pages(models.TrackNormal))
	st := cp.snapshot()
	require.Equal(t, 3, st.TotalPages)
	require.Equal(t, int64(5), st.ProcessedOrders)
	require.NotNil(t, st.NormalLastSuccess)
	require.Nil(t, st.PendingLastSuccess)

	require.Len(t, pub.pages, 3)
	require.Equal(t, res.RunID, pub.pages[2].RunID)
	require.Equal(t, 3, pub.pages[2].Page)
	require.Equal(t, 1, pub.pages[2].Saved)
	// a broker failure does not fail the run
	require.Len(t, pub.completed, 1)
	require.Equal(t, messages.TrackStatusCompleted, pub.completed[0].Status)

	require.Equal(t, 3.0, testutil.ToFloat64(m.pages.WithLabelValues("normal", "ok")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.orders.WithLabelValues("normal", "saved")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.running.WithLabelValues("normal")))

	stats := s.Stats()
	require.Equal(t, models.TrackStateIdle, stats.Tracks[0].State)
	require.Equal(t, int64(5), stats.Tracks[0].Saved)
}

func TestRunTrack_ResumesAfterCheckpoint(t *testing.T) {
	api := newFakeAPI(5, 1)
	store := newFakeStore()
	cp := &memCheckpoint{state: models.ResumeState{NormalCurrentPage: 3}}
	s := newTestSyncer(api, store, cp)

	res, err := s.RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, 3, res.StartPage)
	require.Equal(t, []int{1, 3, 4, 5}, api.searchedPages())
	require.Equal(t, []string{"T3", "T4", "T5"}, store.savedKeys())
	require.Equal(t, []int{4, 5, 6, 1}, cp.pages(models.TrackNormal))
}

func TestRunTrack_StaleCheckpointStartsOver(t *testing.T) {
	api := newFakeAPI(2, 1)
	store := newFakeStore()
	cp := &memCheckpoint{state: models.ResumeState{NormalCurrentPage: 9}}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, 1, res.StartPage)
	require.Equal(t, []string{"T1", "T2"}, store.savedKeys())
}

func TestRunTrack_NotFoundIsSkipped(t *testing.T) {
	api := newFakeAPI(4, 4)
	api.notFound["T2"] = true
	store := newFakeStore()
	cp := &memCheckpoint{}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, messages.TrackStatusCompleted, res.Status)
	require.Equal(t, int64(1), res.Skipped)
	require.Equal(t, int64(3), res.Saved)
	require.Zero(t, res.Failed)
	require.Equal(t, 4, api.detailCalls())
	require.NotContains(t, store.savedKeys(), "T2")
	require.NotNil(t, cp.snapshot().NormalLastSuccess)
}

func TestRunTrack_OrderFailuresDoNotFailPage(t *testing.T) {
	api := newFakeAPI(3, 3)
	api.failDetail["T1"] = true
	api.badDetail["T3"] = true
	store := newFakeStore()
	cp := &memCheckpoint{}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Failed)
	require.Equal(t, int64(1), res.Saved)
	require.Equal(t, []string{"T2"}, store.savedKeys())
	// the page still counts as done
	require.Equal(t, []int{2, 1}, cp.pages(models.TrackNormal))
}

func TestRunTrack_FailedSearchFreezesCheckpoint(t *testing.T) {
	api := newFakeAPI(4, 1)
	api.failSearch[2] = true
	store := newFakeStore()
	cp := &memCheckpoint{}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedPages)
	require.Equal(t, []string{"T1", "T3", "T4"}, store.savedKeys())
	require.Equal(t, []int{2, 2, 2, 1}, cp.pages(models.TrackNormal))
	require.Nil(t, cp.snapshot().NormalLastSuccess)
}

func TestRunTrack_PersistFailureIsNotCheckpointed(t *testing.T) {
	api := newFakeAPI(2, 1)
	store := newFakeStore()
	store.failOn[1] = true
	cp := &memCheckpoint{}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, 1, res.FailedPages)
	require.Equal(t, int64(1), res.Failed)
	require.Equal(t, int64(1), res.Saved)
	require.Equal(t, []int{1, 1}, cp.pages(models.TrackNormal))
}

func TestRunTrack_PersistFailureStats(t *testing.T) {
	api := newFakeAPI(2, 1)
	store := newFakeStore()
	store.failOn[2] = true
	m := NewMetrics(prometheus.NewRegistry())
	s := newTestSyncer(api, store, &memCheckpoint{}).WithMetrics(m)

	res, err := s.RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)

	st := s.Stats().Tracks[0]
	require.Equal(t, 2, st.Page)
	require.Equal(t, 2, st.TotalPages)
	require.Equal(t, 1, st.FailedPages)
	require.Equal(t, res.FailedPages, st.FailedPages)
	require.Equal(t, res.Processed, st.Processed)
	require.Equal(t, int64(1), st.Saved)
	require.Equal(t, int64(1), st.Failed)

	require.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("normal", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("normal", "failed")))
}

func TestAccount_FailedPageIsOneUpdate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	s := newTestSyncer(newFakeAPI(1, 1), newFakeStore(), &memCheckpoint{}).WithMetrics(m)
	fsm := s.tracks[models.TrackPending]
	res := &Result{}

	s.account(fsm, res, 3, 5, counts{Processed: 2, Failed: 2}, true)

	st := fsm.snapshot()
	require.Equal(t, 3, st.Page)
	require.Equal(t, 5, st.TotalPages)
	require.Equal(t, 1, st.FailedPages)
	require.Equal(t, int64(2), st.Failed)
	require.Equal(t, 1, res.FailedPages)
	require.Equal(t, int64(2), res.Failed)
	require.Equal(t, 1.0, testutil.ToFloat64(m.pages.WithLabelValues("pending", "failed")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.pages.WithLabelValues("pending", "ok")))
}

func TestRunTrack_FirstPageFailureLeavesCheckpoint(t *testing.T) {
	api := newFakeAPI(10, 1)
	api.failSearch[1] = true
	store := newFakeStore()
	cp := &memCheckpoint{state: models.ResumeState{NormalCurrentPage: 4}}
	pub := &fakePublisher{}
	s := newTestSyncer(api, store, cp).WithPublisher(pub)

	res, err := s.RunTrack(context.Background(), models.TrackNormal)
	require.Error(t, err)
	require.Contains(t, err.Error(), "search page 1")
	require.Equal(t, messages.TrackStatusFailed, res.Status)
	require.Empty(t, cp.history)
	require.Equal(t, 4, cp.snapshot().NormalCurrentPage)

	st := s.Stats().Tracks[0]
	require.Equal(t, models.TrackStateFailed, st.State)
	require.Contains(t, st.LastError, "search page 1")
	require.NotNil(t, pub.completed[0].Error)

	// a failed track can be started again
	api.setFailSearch(1, false)
	_, err = s.RunTrack(context.Background(), models.TrackNormal)
	require.NoError(t, err)
	require.Equal(t, models.TrackStateIdle, s.Stats().Tracks[0].State)
}

func TestRunTrack_ZeroOrdersSucceeds(t *testing.T) {
	api := newFakeAPI(0, 50)
	store := newFakeStore()
	cp := &memCheckpoint{state: models.ResumeState{PendingCurrentPage: 3}}

	res, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackPending)
	require.NoError(t, err)
	require.Equal(t, messages.TrackStatusCompleted, res.Status)
	require.Empty(t, store.calls)
	require.Equal(t, 1, cp.snapshot().Page(models.TrackPending))
	require.NotNil(t, cp.snapshot().PendingLastSuccess)
}

func TestRunTrack_PendingLinksOriginalOrder(t *testing.T) {
	api := newFakeAPI(2, 2)
	store := newFakeStore()
	store.orderIDs["T1"] = "orig-1"
	cp := &memCheckpoint{}

	_, err := newTestSyncer(api, store, cp).RunTrack(context.Background(), models.TrackPending)
	require.NoError(t, err)
	require.Equal(t, bosta.FilterPending, api.searches[0].Filter)

	require.Len(t, store.calls, 1)
	call := store.calls[0]
	require.Equal(t, "pending_orders", call.table)
	p1 := call.recs[0].(*models.PendingOrder)
	require.Equal(t, "orig-1", *p1.OriginalOrderID)
	require.Equal(t, models.PendingTypeExchange, p1.OrderType)
	require.Nil(t, call.recs[1].(*models.PendingOrder).OriginalOrderID)
}

func TestStartTrack_MutualExclusion(t *testing.T) {
	api := newFakeAPI(2, 2)
	api.block = make(chan struct{})
	store := newFakeStore()
	cp := &memCheckpoint{state: models.ResumeState{NormalCurrentPage: 1}}
	s := newTestSyncer(api, store, cp)
	ctx := context.Background()

	require.NoError(t, s.StartTrack(ctx, models.TrackNormal))
	require.Eventually(t, func() bool { return api.detailCalls() > 0 }, time.Second, 5*time.Millisecond)

	err := s.StartTrack(ctx, models.TrackNormal)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = s.RunTrack(ctx, models.TrackNormal)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Empty(t, cp.pages(models.TrackNormal), "rejected start must not touch the checkpoint")
	require.Equal(t, models.TrackStateRunning, s.Stats().Tracks[0].State)

	// the other track is independent
	require.NoError(t, s.StartTrack(ctx, models.TrackPending))

	close(api.block)
	s.Wait()
	for _, st := range s.Stats().Tracks {
		require.Equal(t, models.TrackStateIdle, st.State, st.Track)
	}
	require.Len(t, store.calls, 2)
}

func TestRunTrack_CancelStopsBetweenPages(t *testing.T) {
	api := newFakeAPI(3, 1)
	api.block = make(chan struct{})
	store := newFakeStore()
	cp := &memCheckpoint{}
	s := newTestSyncer(api, store, cp)

	ctx, cancel := context.WithCancel(context.Background())
	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := s.RunTrack(ctx, models.TrackNormal)
		done <- out{res, err}
	}()

	require.Eventually(t, func() bool { return api.detailCalls() > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	// in-flight page drains after the signal
	close(api.block)

	o := <-done
	require.ErrorIs(t, o.err, context.Canceled)
	require.Equal(t, messages.TrackStatusCancelled, o.res.Status)
	require.Equal(t, []string{"T1"}, store.savedKeys())
	require.Equal(t, []int{2}, cp.pages(models.TrackNormal))
}

func TestRunTrack_PanicIsRecovered(t *testing.T) {
	api := newFakeAPI(1, 1)
	store := newFakeStore()
	store.panics = true
	s := newTestSyncer(api, store, &memCheckpoint{})

	res, err := s.RunTrack(context.Background(), models.TrackNormal)
	require.Error(t, err)
	require.Contains(t, err.Error(), "panic")
	require.Equal(t, messages.TrackStatusFailed, res.Status)
	require.Equal(t, models.TrackStateFailed, s.Stats().Tracks[0].State)
}

func TestSyncPhone(t *testing.T) {
	api := newFakeAPI(3, 1)
	store := newFakeStore()
	cp := &memCheckpoint{}
	s := newTestSyncer(api, store, cp)
	ctx := context.Background()

	res, err := s.SyncPhone(ctx, "+20 100 123 4567", false)
	require.NoError(t, err)
	require.Equal(t, "01001234567", res.Phone)
	require.Equal(t, 1, res.Pages)
	require.Equal(t, int64(1), res.Saved)
	require.Equal(t, "01001234567", api.searches[0].Phone)

	res, err = s.SyncPhone(ctx, "01001234567", true)
	require.NoError(t, err)
	require.Equal(t, 3, res.Pages)
	require.Equal(t, int64(3), res.Saved)
	require.Empty(t, cp.history)

	_, err = s.SyncPhone(ctx, "n/a", true)
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUpdatePendingStatus(t *testing.T) {
	store := newFakeStore()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSyncer(newFakeAPI(0, 1), store, &memCheckpoint{}).WithClock(func() time.Time { return at })

	require.NoError(t, s.UpdatePendingStatus(context.Background(), " P1 ", "RECEIVED", "omar", "ok"))
	require.Len(t, store.updates, 1)
	u := store.updates[0]
	require.Equal(t, "P1", u.TrackingNumber)
	require.Equal(t, models.PendingStatusReceived, u.Status)
	require.Equal(t, transform.BusinessZone, u.At.Location().String())
	require.True(t, u.At.Equal(at))

	err := s.UpdatePendingStatus(context.Background(), "P1", "lost", "", "")
	require.True(t, errors.Is(err, ErrInvalidRequest))
	err = s.UpdatePendingStatus(context.Background(), "", "pending", "", "")
	require.True(t, errors.Is(err, ErrInvalidRequest))
}
