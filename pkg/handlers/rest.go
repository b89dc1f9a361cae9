package handlers

import (
	"errors"

	"xpsocial/pkg/feed"
	"xpsocial/pkg/middleware"
	"xpsocial/pkg/models"
	"xpsocial/pkg/services"

	"github.com/gofiber/fiber/v2"
)

// API exposes the feed and interactions over plain HTTP. Feed pages are
// stateless: the client carries the offset returned by the previous page.
type API struct {
	pager      feed.Pager
	posts      PostReader
	svc        services.InteractionService
	inbox      services.NotificationService
	trending   services.TrendingService
	pageSize   int
	windowDays int
}

// APIDeps are the collaborators of the REST routes. *feed.Source serves as both
// Pager and Posts.
type APIDeps struct {
	Pager         feed.Pager
	Posts         PostReader
	Interactions  services.InteractionService
	Notifications services.NotificationService
	Trending      services.TrendingService
	PageSize      int
	WindowDays    int
}

func NewAPI(d APIDeps) *API {
	if d.PageSize <= 0 {
		d.PageSize = feed.DefaultPageSize
	}
	return &API{
		pager:      d.Pager,
		posts:      d.Posts,
		svc:        d.Interactions,
		inbox:      d.Notifications,
		trending:   d.Trending,
		pageSize:   d.PageSize,
		windowDays: d.WindowDays,
	}
}

// Register mounts the routes. authMW guards the routes that need a viewer.
func (a *API) Register(app fiber.Router, authMW fiber.Handler) {
	api := app.Group("/api")
	api.Get("/trending", a.Trending)

	priv := api.Group("", authMW)
	priv.Get("/feed/:type", a.FeedPage)
	priv.Post("/posts", a.CreatePost)
	priv.Get("/posts/:id", a.PostDetail)
	priv.Post("/posts/:id/like", a.Like)
	priv.Post("/posts/:id/repost", a.Repost)
	priv.Post("/users/:id/follow", a.Follow)
	priv.Get("/notifications", a.Notifications)
	priv.Post("/notifications/read", a.MarkNotificationsRead)
}

type pageResponse struct {
	Config       models.FeedConfig     `json:"config"`
	Posts        []models.EnrichedPost `json:"tweets"`
	Offset       int                   `json:"offset"`
	NextOffset   int                   `json:"next_offset"`
	HasMore      bool                  `json:"has_more"`
	EmptyMessage string                `json:"empty_message,omitempty"`
}

func (a *API) FeedPage(c *fiber.Ctx) error {
	ft, err := models.ParseFeedType(c.Params("type"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	cfg := models.FeedConfig{Type: ft, WindowDays: c.QueryInt("window_days", 0)}.WithDefaults(a.windowDays)

	page, err := a.pager.Page(c.UserContext(), cfg, middleware.ViewerFrom(c).ID, offset, a.pageSize)
	if err != nil {
		if errors.Is(err, feed.ErrNoViewer) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "could not load feed"})
	}

	resp := pageResponse{
		Config:     cfg,
		Posts:      page.Posts,
		Offset:     offset,
		NextOffset: offset + page.Fetched,
		HasMore:    page.Fetched == a.pageSize,
	}
	if resp.Posts == nil {
		resp.Posts = []models.EnrichedPost{}
	}
	if offset == 0 && len(resp.Posts) == 0 {
		resp.EmptyMessage = ft.EmptyMessage()
	}
	return c.JSON(resp)
}

func (a *API) Trending(c *fiber.Ctx) error {
	tags, err := a.trending.Trending(c.UserContext(), c.QueryInt("limit", services.DefaultTrendingLimit))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"hashtags": tags})
}

func (a *API) CreatePost(c *fiber.Ctx) error {
	var in models.NewPost
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	post, err := a.svc.CreatePost(c.UserContext(), middleware.ViewerFrom(c), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

func (a *API) Like(c *fiber.Ctx) error {
	res, err := a.svc.ToggleLike(c.UserContext(), middleware.ViewerFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (a *API) Repost(c *fiber.Ctx) error {
	res, err := a.svc.ToggleRepost(c.UserContext(), middleware.ViewerFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (a *API) Follow(c *fiber.Ctx) error {
	res, err := a.svc.ToggleFollow(c.UserContext(), middleware.ViewerFrom(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (a *API) PostDetail(c *fiber.Ctx) error {
	d, err := a.posts.Detail(c.UserContext(), c.Params("id"), middleware.ViewerFrom(c).ID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(d)
}

func (a *API) Notifications(c *fiber.Ctx) error {
	inbox, err := loadInbox(c.UserContext(), a.inbox, middleware.ViewerFrom(c), c.QueryInt("limit", services.DefaultNotificationLimit))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(inbox)
}

func (a *API) MarkNotificationsRead(c *fiber.Ctx) error {
	var in markReadReq
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
		}
	}
	n, err := a.inbox.MarkRead(c.UserContext(), middleware.ViewerFrom(c), in.IDs)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}

func writeError(c *fiber.Ctx, err error) error {
	code, msg := errorStatus(err)
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
