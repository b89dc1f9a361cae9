package handlers

import (
	"context"
	"net/http"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/feed"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"
	"xpsocial/pkg/services"

	"github.com/sirupsen/logrus"
)

// PostReader loads one post with its replies. *feed.Source implements it.
type PostReader interface {
	Detail(ctx context.Context, postID, viewerID string) (feed.Detail, error)
}

// PostHandler serves the tweet detail view and the notification inbox.
type PostHandler struct {
	out   Sender
	posts PostReader
	inbox services.NotificationService
	log   *logrus.Entry
}

func NewPosts(out Sender, posts PostReader, inbox services.NotificationService) *PostHandler {
	return &PostHandler{out: out, posts: posts, inbox: inbox, log: logging.For("posts-handler")}
}

func (h *PostHandler) RegisterActions(r Registrar) {
	r.On("post.detail", h.detail)
	r.On("notifications.list", h.listNotifications)
	r.On("notifications.read", h.markRead)
}

func (h *PostHandler) detail(env envelope.Envelope) {
	req, err := envelope.ParseData[postRef](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	d, err := h.posts.Detail(ctx, req.TweetID, env.UserID)
	respond(h.out, h.log, env, d, err)
}

// Inbox is the notifications.list reply and the GET /api/notifications body.
type Inbox struct {
	Notifications []models.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func loadInbox(ctx context.Context, inbox services.NotificationService, viewer models.Viewer, limit int) (Inbox, error) {
	list, err := inbox.List(ctx, viewer, limit)
	if err != nil {
		return Inbox{}, err
	}
	unread, err := inbox.UnreadCount(ctx, viewer)
	if err != nil {
		return Inbox{}, err
	}
	return Inbox{Notifications: list, Unread: unread}, nil
}

func (h *PostHandler) listNotifications(env envelope.Envelope) {
	type listReq struct {
		Limit int `json:"limit"`
	}
	req, _ := envelope.ParseData[listReq](env)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	inbox, err := loadInbox(ctx, h.inbox, viewerOf(env), req.Limit)
	respond(h.out, h.log, env, inbox, err)
}

type markReadReq struct {
	IDs []string `json:"ids"`
}

func (h *PostHandler) markRead(env envelope.Envelope) {
	req, err := envelope.ParseData[markReadReq](env)
	if err != nil {
		h.out.ReplyError(env, http.StatusBadRequest, "invalid payload")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	n, err := h.inbox.MarkRead(ctx, viewerOf(env), req.IDs)
	respond(h.out, h.log, env, map[string]int{"updated": n}, err)
}
