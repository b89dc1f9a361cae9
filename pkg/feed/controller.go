package feed

import (
	"context"
	"errors"
	"sync"

	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/sirupsen/logrus"
)

const DefaultPageSize = 10

// ErrStale is returned to a caller whose response arrived after a newer first-page
// request had started. The response was discarded.
var ErrStale = errors.New("feed: response superseded by a newer request")

type State string

const (
	StateIdle             State = "idle"
	StateLoadingFirstPage State = "loading_first_page"
	StateReady            State = "ready"
	StateLoadingMore      State = "loading_more"
	StateExhausted        State = "exhausted"
)

// Pager fetches one page of a feed. *Source is the production implementation.
type Pager interface {
	Page(ctx context.Context, cfg models.FeedConfig, viewerID string, offset, limit int) (Page, error)
}

// Snapshot is the part of the feed state a screen renders.
type Snapshot struct {
	Config       models.FeedConfig     `json:"config"`
	State        State                 `json:"state"`
	Posts        []models.EnrichedPost `json:"tweets"`
	Offset       int                   `json:"offset"`
	HasMore      bool                  `json:"has_more"`
	Loading      bool                  `json:"loading"`
	LoadingMore  bool                  `json:"loading_more"`
	EmptyMessage string                `json:"empty_message,omitempty"`
}

type ControllerOption func(*Controller)

func WithPageSize(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithDefaultWindow sets the popular window used when a config leaves it at zero.
func WithDefaultWindow(days int) ControllerOption {
	return func(c *Controller) {
		if days > 0 {
			c.windowDays = days
		}
	}
}

// WithObserver registers fn to receive a snapshot after every state change. fn
// runs outside the controller lock, one call at a time and in change order.
func WithObserver(fn func(Snapshot)) ControllerOption {
	return func(c *Controller) { c.observe = fn }
}

// WithErrorHandler registers the toast collaborator for failed page loads.
func WithErrorHandler(fn func(models.FeedConfig, error)) ControllerOption {
	return func(c *Controller) { c.onError = fn }
}

// Controller owns the page state of one feed screen. Every response is tagged with
// the generation it was requested under and dropped if a newer first-page load has
// started since, so a slow page from a previous feed type can never overwrite the
// current one.
type Controller struct {
	pager      Pager
	viewerID   string
	pageSize   int
	windowDays int
	observe    func(Snapshot)
	onError    func(models.FeedConfig, error)
	log        *logrus.Entry

	mu          sync.Mutex
	cfg         models.FeedConfig
	gen         uint64
	loaded      bool
	posts       []models.EnrichedPost
	offset      int
	hasMore     bool
	loading     bool
	loadingMore bool
	seq         uint64

	pubMu     sync.Mutex
	published uint64
}

func NewController(pager Pager, viewerID string, cfg models.FeedConfig, opts ...ControllerOption) *Controller {
	c := &Controller{
		pager:      pager,
		viewerID:   viewerID,
		pageSize:   DefaultPageSize,
		windowDays: models.DefaultPopularWindowDays,
		log:        logging.For("feed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg = cfg.WithDefaults(c.windowDays)
	return c
}

// LoadFirstPage (re)loads the feed from offset zero. The current list stays
// visible until the new page is ready and is then replaced.
func (c *Controller) LoadFirstPage(ctx context.Context) error {
	gen, cfg := c.beginFirstPage(nil)
	return c.finishFirstPage(ctx, gen, cfg)
}

// Reset switches the feed to cfg, clearing the list right away so content of the
// previous feed is never shown next to the new one, then loads the first page.
func (c *Controller) Reset(ctx context.Context, cfg models.FeedConfig) error {
	gen, cfg := c.beginFirstPage(&cfg)
	return c.finishFirstPage(ctx, gen, cfg)
}

func (c *Controller) beginFirstPage(next *models.FeedConfig) (uint64, models.FeedConfig) {
	c.mu.Lock()
	c.gen++
	if next != nil {
		c.cfg = next.WithDefaults(c.windowDays)
		c.posts = nil
		c.offset = 0
		c.hasMore = false
		c.loaded = false
	}
	c.loading = true
	c.loadingMore = false
	gen, cfg := c.gen, c.cfg
	publish := c.notifyLocked()
	c.mu.Unlock()

	publish()
	return gen, cfg
}

func (c *Controller) finishFirstPage(ctx context.Context, gen uint64, cfg models.FeedConfig) error {
	page, err := c.pager.Page(ctx, cfg, c.viewerID, 0, c.pageSize)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return ErrStale
	}
	c.loading = false
	if err != nil {
		publish := c.notifyLocked()
		c.mu.Unlock()
		publish()
		c.fail(cfg, 0, err)
		return err
	}

	c.posts = dedupe(nil, page.Posts)
	c.offset = page.Fetched
	c.hasMore = page.Fetched == c.pageSize
	c.loaded = true
	publish := c.notifyLocked()
	c.mu.Unlock()

	publish()
	return nil
}

// LoadMore appends the next page. It returns false without touching the gateway
// when the feed is exhausted, not loaded yet, or already loading.
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if !c.loaded || !c.hasMore || c.loading || c.loadingMore {
		c.mu.Unlock()
		return false, nil
	}
	c.loadingMore = true
	gen, cfg, offset := c.gen, c.cfg, c.offset
	publish := c.notifyLocked()
	c.mu.Unlock()
	publish()

	page, err := c.pager.Page(ctx, cfg, c.viewerID, offset, c.pageSize)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return true, ErrStale
	}
	c.loadingMore = false
	if err != nil {
		publish := c.notifyLocked()
		c.mu.Unlock()
		publish()
		c.fail(cfg, offset, err)
		return true, err
	}

	c.posts = dedupe(c.posts, page.Posts)
	c.offset += page.Fetched
	c.hasMore = page.Fetched == c.pageSize
	publish = c.notifyLocked()
	c.mu.Unlock()

	publish()
	return true, nil
}

func (c *Controller) Config() models.FeedConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.loading:
		return StateLoadingFirstPage
	case c.loadingMore:
		return StateLoadingMore
	case !c.loaded:
		return StateIdle
	case !c.hasMore:
		return StateExhausted
	default:
		return StateReady
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		Config:      c.cfg,
		State:       c.stateLocked(),
		Posts:       append(make([]models.EnrichedPost, 0, len(c.posts)), c.posts...),
		Offset:      c.offset,
		HasMore:     c.hasMore,
		Loading:     c.loading,
		LoadingMore: c.loadingMore,
	}
	if c.loaded && !c.loading && len(c.posts) == 0 {
		s.EmptyMessage = c.cfg.Type.EmptyMessage()
	}
	return s
}

// notifyLocked captures the state for the observer. The returned func delivers it
// and must be called after c.mu is released. Snapshots overtaken by a later one
// are skipped so the observer never sees state go backwards.
func (c *Controller) notifyLocked() func() {
	if c.observe == nil {
		return func() {}
	}
	c.seq++
	snap, seq := c.snapshotLocked(), c.seq
	return func() {
		c.pubMu.Lock()
		defer c.pubMu.Unlock()
		if seq <= c.published {
			return
		}
		c.published = seq
		c.observe(snap)
	}
}

func (c *Controller) fail(cfg models.FeedConfig, offset int, err error) {
	c.log.WithError(err).WithFields(logrus.Fields{
		"feed_type": cfg.Type,
		"offset":    offset,
		"viewer_id": c.viewerID,
	}).Warn("feed page load failed")
	if c.onError != nil {
		c.onError(cfg, err)
	}
}

// dedupe appends the posts of next not already in list. Offset paging can repeat
// a post when newer posts arrive between two page loads.
func dedupe(list, next []models.EnrichedPost) []models.EnrichedPost {
	seen := make(map[string]struct{}, len(list)+len(next))
	for _, p := range list {
		seen[p.ID] = struct{}{}
	}
	for _, p := range next {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		list = append(list, p)
	}
	return list
}
