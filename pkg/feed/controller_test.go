package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"xpsocial/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerPaginatesUntilExhausted(t *testing.T) {
	gw := &stubGateway{Gateway: newWorld(t, 25)}
	c := NewController(newSource(gw), viewer, models.FeedConfig{Type: models.FeedPublic}, WithPageSize(10))
	ctx := context.Background()

	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.LoadFirstPage(ctx))
	s := c.Snapshot()
	assert.Len(t, s.Posts, 10)
	assert.Equal(t, 10, s.Offset)
	assert.True(t, s.HasMore)
	assert.Equal(t, StateReady, s.State)

	ran, err := c.LoadMore(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	s = c.Snapshot()
	assert.Len(t, s.Posts, 20)
	assert.Equal(t, 20, s.Offset)
	assert.True(t, s.HasMore)

	ran, err = c.LoadMore(ctx)
	require.NoError(t, err)
	require.True(t, ran)
	s = c.Snapshot()
	assert.Len(t, s.Posts, 25)
	assert.Equal(t, 25, s.Offset)
	assert.False(t, s.HasMore)
	assert.Equal(t, StateExhausted, s.State)
	assert.Equal(t, "p24", s.Posts[24].ID)

	before := gw.calls()
	ran, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, before, gw.calls(), "exhausted feed must not hit the gateway")
	assert.Len(t, c.Snapshot().Posts, 25)
}

func TestControllerFullPageKeepsHasMore(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 10)
	c := NewController(p, viewer, models.FeedConfig{})

	require.NoError(t, c.LoadFirstPage(context.Background()))
	assert.True(t, c.Snapshot().HasMore)

	p.fill(models.FeedPublic, "b", 7)
	require.NoError(t, c.LoadFirstPage(context.Background()))
	s := c.Snapshot()
	assert.False(t, s.HasMore)
	assert.Len(t, s.Posts, 7)
	assert.Equal(t, "b00", s.Posts[0].ID, "refresh replaces the list")
}

func TestControllerEmptyFeed(t *testing.T) {
	p := newFakePager()
	c := NewController(p, viewer, models.FeedConfig{Type: models.FeedFollowing})

	require.NoError(t, c.LoadFirstPage(context.Background()))
	s := c.Snapshot()
	assert.NotNil(t, s.Posts)
	assert.Empty(t, s.Posts)
	assert.False(t, s.HasMore)
	assert.Equal(t, models.FeedFollowing.EmptyMessage(), s.EmptyMessage)
}

func TestControllerLoadMoreIsNoopBeforeFirstPage(t *testing.T) {
	p := newFakePager()
	c := NewController(p, viewer, models.FeedConfig{})

	ran, err := c.LoadMore(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Zero(t, p.callCount())
}

func TestControllerLoadMoreIsNoopWhileLoading(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 30)
	c := NewController(p, viewer, models.FeedConfig{})
	ctx := context.Background()
	require.NoError(t, c.LoadFirstPage(ctx))

	// A refresh is in flight.
	gate := p.hold(2)
	done := make(chan error, 1)
	go func() { done <- c.LoadFirstPage(ctx) }()
	require.Eventually(t, func() bool { return p.callCount() == 2 }, timeout, tick)

	ran, err := c.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, 2, p.callCount())
	assert.True(t, c.Snapshot().Loading)

	close(gate)
	require.NoError(t, <-done)

	// A load-more is in flight.
	gate = p.hold(3)
	go func() {
		_, err := c.LoadMore(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return p.callCount() == 3 }, timeout, tick)

	ran, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, StateLoadingMore, c.State())

	close(gate)
	require.NoError(t, <-done)
	assert.Len(t, c.Snapshot().Posts, 20)
}

func TestControllerLatestFirstPageWins(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 10)
	c := NewController(p, viewer, models.FeedConfig{})
	ctx := context.Background()

	gate := p.hold(1)
	first := make(chan error, 1)
	go func() { first <- c.LoadFirstPage(ctx) }()
	require.Eventually(t, func() bool { return p.callCount() == 1 }, timeout, tick)

	require.NoError(t, c.LoadFirstPage(ctx))
	close(gate)
	assert.ErrorIs(t, <-first, ErrStale)

	s := c.Snapshot()
	assert.Len(t, s.Posts, 10)
	assert.Equal(t, 10, s.Offset)
	assert.False(t, s.Loading)
}

func TestControllerResetDiscardsSupersededFeed(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "pub", 10)
	p.fill(models.FeedPopular, "pop", 3)
	c := NewController(p, viewer, models.FeedConfig{Type: models.FeedPublic})
	ctx := context.Background()

	gate := p.hold(1)
	slow := make(chan error, 1)
	go func() { slow <- c.LoadFirstPage(ctx) }()
	require.Eventually(t, func() bool { return p.callCount() == 1 }, timeout, tick)

	require.NoError(t, c.Reset(ctx, models.FeedConfig{Type: models.FeedPopular}))
	close(gate)
	assert.ErrorIs(t, <-slow, ErrStale)

	s := c.Snapshot()
	assert.Equal(t, models.FeedConfig{Type: models.FeedPopular, WindowDays: 7}, s.Config)
	assert.Equal(t, []string{"pop00", "pop01", "pop02"}, ids(s.Posts))
	assert.Equal(t, 3, s.Offset)
}

func TestControllerResetClearsListImmediately(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "pub", 10)
	p.fill(models.FeedFollowing, "fol", 2)

	var mu sync.Mutex
	var seen []Snapshot
	c := NewController(p, viewer, models.FeedConfig{}, WithObserver(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadFirstPage(ctx))

	mu.Lock()
	seen = nil
	mu.Unlock()
	require.NoError(t, c.Reset(ctx, models.FeedConfig{Type: models.FeedFollowing}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.Empty(t, seen[0].Posts, "previous feed must not stay visible after a switch")
	assert.False(t, seen[1].Loading)
	assert.Equal(t, []string{"fol00", "fol01"}, ids(seen[1].Posts))
}

func TestControllerStaleLoadMoreIsDropped(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 30)
	p.fill(models.FeedPopular, "pop", 2)
	c := NewController(p, viewer, models.FeedConfig{})
	ctx := context.Background()
	require.NoError(t, c.LoadFirstPage(ctx))

	gate := p.hold(2)
	more := make(chan error, 1)
	go func() {
		_, err := c.LoadMore(ctx)
		more <- err
	}()
	require.Eventually(t, func() bool { return p.callCount() == 2 }, timeout, tick)

	require.NoError(t, c.Reset(ctx, models.FeedConfig{Type: models.FeedPopular}))
	close(gate)
	assert.ErrorIs(t, <-more, ErrStale)

	s := c.Snapshot()
	assert.Equal(t, []string{"pop00", "pop01"}, ids(s.Posts))
	assert.False(t, s.LoadingMore)
}

func TestControllerFailureKeepsState(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 25)

	var reported []error
	c := NewController(p, viewer, models.FeedConfig{}, WithErrorHandler(func(_ models.FeedConfig, err error) {
		reported = append(reported, err)
	}))
	ctx := context.Background()
	require.NoError(t, c.LoadFirstPage(ctx))

	boom := errors.New("network down")
	p.failWith(boom)

	ran, err := c.LoadMore(ctx)
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	s := c.Snapshot()
	assert.Len(t, s.Posts, 10)
	assert.Equal(t, 10, s.Offset)
	assert.True(t, s.HasMore)
	assert.False(t, s.LoadingMore)
	assert.False(t, s.Loading)

	err = c.LoadFirstPage(ctx)
	assert.ErrorIs(t, err, boom)
	s = c.Snapshot()
	assert.Len(t, s.Posts, 10, "failed refresh keeps the displayed list")
	assert.Equal(t, 10, s.Offset)
	assert.False(t, s.Loading)

	require.Len(t, reported, 2)

	// Recovery through the same trigger.
	p.failWith(nil)
	ran, err = c.LoadMore(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, c.Snapshot().Posts, 20)
}

func TestControllerDedupesShiftedPages(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 10)
	c := NewController(p, viewer, models.FeedConfig{}, WithPageSize(5))
	ctx := context.Background()
	require.NoError(t, c.LoadFirstPage(ctx))

	// Two new posts land at the head; the next offset page repeats a03 and a04.
	p.mu.Lock()
	shifted := append([]models.EnrichedPost{post("new1", 0, 0, 0), post("new2", 0, 0, 0)}, p.feeds[models.FeedPublic]...)
	p.feeds[models.FeedPublic] = shifted
	p.mu.Unlock()

	_, err := c.LoadMore(ctx)
	require.NoError(t, err)
	s := c.Snapshot()
	assert.Equal(t, []string{"a00", "a01", "a02", "a03", "a04", "a05", "a06", "a07"}, ids(s.Posts))
	assert.Equal(t, 10, s.Offset)
}

func TestControllersAreIndependent(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 12)
	p.fill(models.FeedPopular, "b", 4)
	ctx := context.Background()

	pub := NewController(p, viewer, models.FeedConfig{Type: models.FeedPublic})
	pop := NewController(p, viewer, models.FeedConfig{Type: models.FeedPopular})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); assert.NoError(t, pub.LoadFirstPage(ctx)) }()
	go func() { defer wg.Done(); assert.NoError(t, pop.LoadFirstPage(ctx)) }()
	wg.Wait()

	assert.Len(t, pub.Snapshot().Posts, 10)
	assert.Len(t, pop.Snapshot().Posts, 4)
}

func TestControllerObserverDoesNotHoldLock(t *testing.T) {
	p := newFakePager()
	p.fill(models.FeedPublic, "a", 3)
	release := make(chan struct{})

	var (
		mu   sync.Mutex
		seen []State
		c    *Controller
	)
	c = NewController(p, viewer, models.FeedConfig{}, WithObserver(func(s Snapshot) {
		st := c.State()
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
		if s.State == StateExhausted {
			<-release
		}
	}))

	done := make(chan error, 1)
	go func() { done <- c.LoadFirstPage(context.Background()) }()

	// A slow observer must not block readers of the controller.
	require.Eventually(t, func() bool {
		return c.State() == StateExhausted && len(c.Snapshot().Posts) == 3
	}, timeout, tick)

	close(release)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateLoadingFirstPage, StateExhausted}, seen)
}
