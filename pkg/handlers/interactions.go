package handlers

import (
	"context"
	"errors"
	"net/http"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/feed"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"
	"xpsocial/pkg/services"

	"github.com/sirupsen/logrus"
)

// InteractionHandler serves the write actions of a tweet card and the trending
// sidebar over the websocket.
type InteractionHandler struct {
	out      Sender
	svc      services.InteractionService
	trending services.TrendingService
	log      *logrus.Entry
}

func NewInteractions(out Sender, svc services.InteractionService, trending services.TrendingService) *InteractionHandler {
	return &InteractionHandler{out: out, svc: svc, trending: trending, log: logging.For("interactions-handler")}
}

func (h *InteractionHandler) RegisterActions(r Registrar) {
	r.On("post.like", h.like)
	r.On("post.repost", h.repost)
	r.On("user.follow", h.follow)
	r.On("post.create", h.create)
	r.On("trending.list", h.trendingList)
}

type postRef struct {
	TweetID string `json:"tweet_id"`
}

func (h *InteractionHandler) like(env envelope.Envelope) {
	req, err := envelope.ParseData[postRef](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := h.svc.ToggleLike(ctx, viewerOf(env), req.TweetID)
	h.respond(env, res, err)
}

func (h *InteractionHandler) repost(env envelope.Envelope) {
	req, err := envelope.ParseData[postRef](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := h.svc.ToggleRepost(ctx, viewerOf(env), req.TweetID)
	h.respond(env, res, err)
}

func (h *InteractionHandler) follow(env envelope.Envelope) {
	type followReq struct {
		UserID string `json:"user_id"`
	}
	req, err := envelope.ParseData[followReq](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	res, err := h.svc.ToggleFollow(ctx, viewerOf(env), req.UserID)
	h.respond(env, res, err)
}

func (h *InteractionHandler) create(env envelope.Envelope) {
	req, err := envelope.ParseData[models.NewPost](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	post, err := h.svc.CreatePost(ctx, viewerOf(env), req)
	h.respond(env, post, err)
}

func (h *InteractionHandler) trendingList(env envelope.Envelope) {
	type trendingReq struct {
		Limit int `json:"limit"`
	}
	req, _ := envelope.ParseData[trendingReq](env)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	tags, err := h.trending.Trending(ctx, req.Limit)
	h.respond(env, map[string]any{"hashtags": tags}, err)
}

func (h *InteractionHandler) respond(env envelope.Envelope, data any, err error) {
	respond(h.out, h.log, env, data, err)
}

// respond replies with data, or with the status errorStatus picks for err.
// Server side failures are logged with the action that caused them.
func respond(out Sender, log *logrus.Entry, env envelope.Envelope, data any, err error) {
	if err != nil {
		code, msg := errorStatus(err)
		if code >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"action":  env.Action,
				"user_id": env.UserID,
			}).Error("action failed")
		}
		out.ReplyError(env, code, msg)
		return
	}
	out.Reply(env, data)
}

// errorStatus maps service errors to a status code and a message safe to show.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrUnauthenticated), errors.Is(err, feed.ErrNoViewer):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, services.ErrPostNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, feed.ErrPostNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, services.ErrSelfFollow),
		errors.Is(err, models.ErrEmptyContent),
		errors.Is(err, models.ErrContentTooLong):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "something went wrong, try again"
	}
}

func viewerOf(env envelope.Envelope) models.Viewer {
	return models.Viewer{ID: env.UserID, Username: env.Username}
}
