package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/BostaSync/internal/models"
)

func tablesSaved(store *fakeStore) map[string]int {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := map[string]int{}
	for _, c := range store.calls {
		out[c.table]++
	}
	return out
}

func TestRun_LaunchesBothTracksAndStopsOnCancel(t *testing.T) {
	api := newFakeAPI(1, 1)
	store := newFakeStore()
	s := newTestSyncer(api, store, &memCheckpoint{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		saved := tablesSaved(store)
		return saved["orders"] == 1 && saved["pending_orders"] == 1
	}, time.Second, 5*time.Millisecond)

	s.Trigger()
	require.Eventually(t, func() bool { return s.Stats().Cycles == 2 }, time.Second, 5*time.Millisecond)
	require.NotNil(t, s.Stats().LastTriggerAt)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRun_SlowTrackDoesNotBlockOther(t *testing.T) {
	api := newFakeAPI(1, 1)
	api.block = make(chan struct{})
	store := newFakeStore()
	s := newTestSyncer(api, store, &memCheckpoint{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	// both tracks are in flight at the same time
	require.Eventually(t, func() bool { return api.detailCalls() == 2 }, time.Second, 5*time.Millisecond)

	// a tick while both are busy must not queue anything
	s.Trigger()
	require.Eventually(t, func() bool { return s.Stats().Cycles == 2 }, time.Second, 5*time.Millisecond)
	for _, st := range s.Stats().Tracks {
		require.Equal(t, models.TrackStateRunning, st.State)
	}
	close(api.block)
}

func TestRun_RetriesFailedTrack(t *testing.T) {
	api := newFakeAPI(1, 1)
	api.failSearch[1] = true
	store := newFakeStore()
	s := newTestSyncer(api, store, &memCheckpoint{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, st := range s.Stats().Tracks {
			if st.State != models.TrackStateFailed {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	api.setFailSearch(1, false)
	require.Eventually(t, func() bool {
		saved := tablesSaved(store)
		return saved["orders"] >= 1 && saved["pending_orders"] >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), s.Stats().Cycles)
}
