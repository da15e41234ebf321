package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/BearBump/BostaSync/internal/broker/messages"
	"github.com/BearBump/BostaSync/internal/integrations/bosta"
	"github.com/BearBump/BostaSync/internal/models"
)

// fakeAPI serves total orders split into pages of pageSize. Tracking numbers
// are "<prefix><n>".
type fakeAPI struct {
	mu sync.Mutex

	prefix   string
	total    int
	pageSize int

	failSearch map[int]bool
	notFound   map[string]bool
	failDetail map[string]bool
	badDetail  map[string]bool

	// block, when set, holds every Detail call until closed
	block chan struct{}

	searches []bosta.SearchRequest
	details  int
}

func newFakeAPI(total, pageSize int) *fakeAPI {
	return &fakeAPI{
		prefix:     "T",
		total:      total,
		pageSize:   pageSize,
		failSearch: map[int]bool{},
		notFound:   map[string]bool{},
		failDetail: map[string]bool{},
		badDetail:  map[string]bool{},
	}
}

func (a *fakeAPI) Search(ctx context.Context, req bosta.SearchRequest) (bosta.SearchPage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searches = append(a.searches, req)

	if a.failSearch[req.Page] {
		return bosta.SearchPage{}, &bosta.TransientError{StatusCode: 503}
	}
	out := bosta.SearchPage{TotalCount: a.total, PageSize: a.pageSize}
	from := (req.Page - 1) * a.pageSize
	for i := from; i < from+a.pageSize && i < a.total; i++ {
		out.TrackingNumbers = append(out.TrackingNumbers, fmt.Sprintf("%s%d", a.prefix, i+1))
	}
	return out, nil
}

func (a *fakeAPI) Detail(ctx context.Context, tn string) ([]byte, error) {
	a.mu.Lock()
	a.details++
	block := a.block
	nf, fail, bad := a.notFound[tn], a.failDetail[tn], a.badDetail[tn]
	a.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	switch {
	case nf:
		return nil, &bosta.NotFoundError{Path: "/deliveries/business/" + tn}
	case fail:
		return nil, &bosta.TransientError{StatusCode: 502}
	case bad:
		return []byte(`{"state":{"code":45}}`), nil
	}
	return []byte(fmt.Sprintf(`{"_id":"id-%s","trackingNumber":"%s","state":{"code":45,"value":"Delivered"},"type":{"value":"Exchange"},"cod":100}`, tn, tn)), nil
}

func (a *fakeAPI) setFailSearch(page int, fail bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failSearch[page] = fail
}

func (a *fakeAPI) detailCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.details
}

func (a *fakeAPI) searchedPages() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.searches))
	for _, r := range a.searches {
		out = append(out, r.Page)
	}
	return out
}

type saveCall struct {
	table string
	keys  []string
	recs  []models.Record
}

type fakeStore struct {
	mu       sync.Mutex
	calls    []saveCall
	failOn   map[int]bool // 1-based SaveBatch call number
	orderIDs map[string]string
	updates  []models.PendingStatusUpdate
	panics   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{failOn: map[int]bool{}, orderIDs: map[string]string{}}
}

func (s *fakeStore) SaveBatch(ctx context.Context, table string, recs []models.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(recs))
	for _, r := range recs {
		keys = append(keys, r.Key())
	}
	s.calls = append(s.calls, saveCall{table: table, keys: keys, recs: recs})
	if s.panics {
		panic("driver exploded")
	}
	if s.failOn[len(s.calls)] {
		return 0, errors.New("tx aborted")
	}
	return len(recs), nil
}

func (s *fakeStore) LookupOrderIDs(ctx context.Context, tns []string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for _, tn := range tns {
		if id, ok := s.orderIDs[tn]; ok {
			out[tn] = id
		}
	}
	return out, nil
}

func (s *fakeStore) UpdatePendingStatus(ctx context.Context, upd models.PendingStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, upd)
	return nil
}

func (s *fakeStore) savedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		out = append(out, c.keys...)
	}
	return out
}

// memCheckpoint records every persisted state.
type memCheckpoint struct {
	mu      sync.Mutex
	state   models.ResumeState
	history []models.ResumeState
	loadErr error
}

func (c *memCheckpoint) Load(ctx context.Context) (models.ResumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.loadErr
}

func (c *memCheckpoint) Update(ctx context.Context, fn func(st *models.ResumeState)) (models.ResumeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state
	fn(&next)
	c.state = next
	c.history = append(c.history, next)
	return next, nil
}

func (c *memCheckpoint) pages(tr models.Track) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.history))
	for _, st := range c.history {
		out = append(out, st.Page(tr))
	}
	return out
}

func (c *memCheckpoint) snapshot() models.ResumeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type fakePublisher struct {
	mu        sync.Mutex
	pages     []messages.OrdersSynced
	completed []messages.TrackCompleted
}

func (p *fakePublisher) OrdersSynced(ctx context.Context, m messages.OrdersSynced) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, m)
	return nil
}

func (p *fakePublisher) TrackCompleted(ctx context.Context, m messages.TrackCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, m)
	return errors.New("broker down")
}
