package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/models"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	viewer  = "viewer"
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var now = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// newWorld returns a memory gateway with a viewer, an author and n top-level
// posts, newest first as p00, p01, ...
func newWorld(t *testing.T, n int) *gateway.Memory {
	t.Helper()
	m := gateway.NewMemory()
	m.SetClock(clock)
	gateway.RegisterDefaultProcedures(m)

	require.NoError(t, m.Seed(gateway.TableUsers,
		gateway.Row{"id": viewer, "username": "viewer", "level": int64(1), "xp": int64(0)},
		gateway.Row{"id": "author", "username": "author", "level": int64(5), "xp": int64(420)},
	))
	for i := 0; i < n; i++ {
		require.NoError(t, m.Seed(gateway.TableTweets, gateway.Row{
			"id":         postID(i),
			"user_id":    "author",
			"content":    fmt.Sprintf("post %d", i),
			"created_at": now.Add(-time.Duration(i) * time.Minute),
		}))
	}
	return m
}

func postID(i int) string { return fmt.Sprintf("p%02d", i) }

func ids(posts []models.EnrichedPost) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

// stubGateway counts calls and injects failures on top of another gateway.
type stubGateway struct {
	gateway.Gateway

	fetches   atomic.Int32
	counts    atomic.Int32
	procs     atomic.Int32
	inflight  atomic.Int32
	peak      atomic.Int32
	delay     time.Duration
	failTable string
	failErr   error
}

func (s *stubGateway) enter() func() {
	n := s.inflight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return func() { s.inflight.Add(-1) }
}

func (s *stubGateway) FetchRows(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	s.fetches.Add(1)
	defer s.enter()()
	if table == s.failTable {
		return nil, s.failErr
	}
	return s.Gateway.FetchRows(ctx, table, q)
}

func (s *stubGateway) CountRows(ctx context.Context, table string, filters ...gateway.Filter) (int, error) {
	s.counts.Add(1)
	defer s.enter()()
	if table == s.failTable {
		return 0, s.failErr
	}
	return s.Gateway.CountRows(ctx, table, filters...)
}

func (s *stubGateway) InvokeProcedure(ctx context.Context, name string, params gateway.Params) ([]gateway.Row, error) {
	s.procs.Add(1)
	defer s.enter()()
	return s.Gateway.InvokeProcedure(ctx, name, params)
}

func (s *stubGateway) calls() int32 {
	return s.fetches.Load() + s.counts.Load() + s.procs.Load()
}

// fakePager serves pages from fixed lists per feed type. A call can be held back
// until its gate is closed.
type fakePager struct {
	mu    sync.Mutex
	feeds map[models.FeedType][]models.EnrichedPost
	gates map[int]chan struct{}
	calls int
	err   error
}

func newFakePager() *fakePager {
	return &fakePager{
		feeds: map[models.FeedType][]models.EnrichedPost{},
		gates: map[int]chan struct{}{},
	}
}

func (f *fakePager) fill(ft models.FeedType, prefix string, n int) {
	posts := make([]models.EnrichedPost, n)
	for i := range posts {
		posts[i].ID = fmt.Sprintf("%s%02d", prefix, i)
	}
	f.mu.Lock()
	f.feeds[ft] = posts
	f.mu.Unlock()
}

// hold makes the nth call (1-based) block until the returned channel is closed.
func (f *fakePager) hold(n int) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[n] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakePager) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakePager) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakePager) Page(ctx context.Context, cfg models.FeedConfig, viewerID string, offset, limit int) (Page, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[f.calls]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Page{}, f.err
	}
	all := f.feeds[cfg.Type]
	if offset >= len(all) {
		return Page{Posts: []models.EnrichedPost{}}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	page := append([]models.EnrichedPost(nil), all[offset:end]...)
	return Page{Posts: page, Fetched: len(page)}, nil
}
