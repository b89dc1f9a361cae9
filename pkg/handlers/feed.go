package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/feed"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	feedService    = "feed"
	requestTimeout = 15 * time.Second
)

// Sender is the part of *hub.Hub the action handlers write through.
type Sender interface {
	Reply(original envelope.Envelope, data any)
	ReplyError(original envelope.Envelope, code int, msg string)
	SendEvent(connID, action, service string, data any) bool
}

// Registrar is the part of *hub.Hub used to wire actions.
type Registrar interface {
	On(action string, fn func(envelope.Envelope))
	OnDisconnect(fn func(connID string))
}

type FeedUpdate struct {
	Screen string `json:"screen"`
	feed.Snapshot
}

type Toast struct {
	Screen  string `json:"screen,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type feedRequest struct {
	Screen     string `json:"screen"`
	FeedType   string `json:"feed_type"`
	WindowDays int    `json:"window_days"`
}

// FeedHandler keeps one feed controller per (connection, screen) and pushes
// every state change to that connection as a feed.update event.
type FeedHandler struct {
	out        Sender
	pager      feed.Pager
	pageSize   int
	windowDays int
	log        *logrus.Entry

	mu          sync.Mutex
	controllers map[string]*feed.Controller
}

func NewFeed(out Sender, pager feed.Pager, pageSize, windowDays int) *FeedHandler {
	return &FeedHandler{
		out:         out,
		pager:       pager,
		pageSize:    pageSize,
		windowDays:  windowDays,
		log:         logging.For("feed-handler"),
		controllers: make(map[string]*feed.Controller),
	}
}

func (f *FeedHandler) RegisterActions(r Registrar) {
	r.On("feed.open", f.open)
	r.On("feed.more", f.more)
	r.On("feed.refresh", f.refresh)
	r.On("feed.close", f.close)
	r.OnDisconnect(f.dropConn)
}

func (f *FeedHandler) open(env envelope.Envelope) {
	req, err := envelope.ParseData[feedRequest](env)
	if err != nil {
		f.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	if env.UserID == "" {
		f.out.ReplyError(env, http.StatusUnauthorized, "sign in to see your feed")
		return
	}
	ft, err := models.ParseFeedType(req.FeedType)
	if err != nil {
		f.out.ReplyError(env, http.StatusBadRequest, err.Error())
		return
	}
	cfg := models.FeedConfig{Type: ft, WindowDays: req.WindowDays}
	screen := screenName(req.Screen)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	c, existed := f.controller(env, screen, cfg)
	if existed {
		err = c.Reset(ctx, cfg)
	} else {
		err = c.LoadFirstPage(ctx)
	}
	f.finish(env, screen, c, err)
}

func (f *FeedHandler) more(env envelope.Envelope) {
	req, _ := envelope.ParseData[feedRequest](env)
	screen := screenName(req.Screen)
	c := f.lookup(env.ConnID, screen)
	if c == nil {
		f.out.ReplyError(env, http.StatusNotFound, "feed not open: "+screen)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	_, err := c.LoadMore(ctx)
	f.finish(env, screen, c, err)
}

func (f *FeedHandler) refresh(env envelope.Envelope) {
	req, _ := envelope.ParseData[feedRequest](env)
	screen := screenName(req.Screen)
	c := f.lookup(env.ConnID, screen)
	if c == nil {
		f.out.ReplyError(env, http.StatusNotFound, "feed not open: "+screen)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	f.finish(env, screen, c, c.LoadFirstPage(ctx))
}

func (f *FeedHandler) close(env envelope.Envelope) {
	req, _ := envelope.ParseData[feedRequest](env)
	screen := screenName(req.Screen)

	f.mu.Lock()
	delete(f.controllers, key(env.ConnID, screen))
	f.mu.Unlock()

	f.out.Reply(env, map[string]string{"screen": screen})
}

// finish answers the request with the controller's current snapshot. A stale
// response is not an error for the caller: the newer request publishes its own.
func (f *FeedHandler) finish(env envelope.Envelope, screen string, c *feed.Controller, err error) {
	if err != nil && !errors.Is(err, feed.ErrStale) {
		f.out.ReplyError(env, http.StatusBadGateway, "could not load feed")
		return
	}
	f.out.Reply(env, FeedUpdate{Screen: screen, Snapshot: c.Snapshot()})
}

func (f *FeedHandler) controller(env envelope.Envelope, screen string, cfg models.FeedConfig) (*feed.Controller, bool) {
	k := key(env.ConnID, screen)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.controllers[k]; ok {
		return c, true
	}

	connID := env.ConnID
	c := feed.NewController(f.pager, env.UserID, cfg,
		feed.WithPageSize(f.pageSize),
		feed.WithDefaultWindow(f.windowDays),
		feed.WithObserver(func(s feed.Snapshot) {
			f.out.SendEvent(connID, "feed.update", feedService, FeedUpdate{Screen: screen, Snapshot: s})
		}),
		feed.WithErrorHandler(func(cfg models.FeedConfig, err error) {
			f.out.SendEvent(connID, "toast", feedService, Toast{
				Screen:  screen,
				Kind:    "error",
				Message: "Failed to load " + string(cfg.Type) + " tweets",
			})
		}),
	)
	f.controllers[k] = c
	return c, false
}

func (f *FeedHandler) lookup(connID, screen string) *feed.Controller {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.controllers[key(connID, screen)]
}

func (f *FeedHandler) dropConn(connID string) {
	prefix := connID + ":"
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.controllers {
		if strings.HasPrefix(k, prefix) {
			delete(f.controllers, k)
		}
	}
}

// OpenFeeds reports how many feed controllers are live.
func (f *FeedHandler) OpenFeeds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.controllers)
}

func screenName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "home"
	}
	return s
}

func key(connID, screen string) string {
	return connID + ":" + screen
}
