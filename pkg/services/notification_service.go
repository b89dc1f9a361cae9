package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	DefaultNotificationLimit = 20
	maxNotificationLimit     = 100
)

var errNoRecipient = errors.New("notification has no recipient")

// NotificationService is the inbox. As a Notifier it stores every notification
// before handing it to the live delivery path.
type NotificationService interface {
	Notifier
	List(ctx context.Context, viewer models.Viewer, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, viewer models.Viewer) (int, error)
	// MarkRead marks the given notifications of viewer as read, or all of them
	// when ids is empty, and returns how many changed.
	MarkRead(ctx context.Context, viewer models.Viewer, ids []string) (int, error)
}

type notificationService struct {
	gw   gateway.Gateway
	next Notifier
	log  *logrus.Entry
}

// NewNotificationService wraps next, which may be nil, with inbox storage.
func NewNotificationService(gw gateway.Gateway, next Notifier) NotificationService {
	return &notificationService{gw: gw, next: next, log: logging.For("notifications")}
}

// Notify stores n and then pushes it. A failed insert is logged and the live
// push still happens, without an id.
func (s *notificationService) Notify(ctx context.Context, n models.Notification) error {
	if n.RecipientID == "" {
		return errNoRecipient
	}
	n.Describe()

	stored, err := s.store(ctx, n)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"type":      n.Type,
			"recipient": n.RecipientID,
		}).Warn("notification not stored")
	} else {
		n = stored
	}

	if s.next == nil {
		return nil
	}
	return s.next.Notify(ctx, n)
}

func (s *notificationService) store(ctx context.Context, n models.Notification) (models.Notification, error) {
	data, err := n.DataJSON()
	if err != nil {
		return n, err
	}
	row, err := s.gw.InsertRow(ctx, gateway.TableNotifications, gateway.Row{
		"user_id": n.RecipientID,
		"type":    string(n.Type),
		"title":   n.Title,
		"message": n.Message,
		"data":    data,
		"read":    false,
	})
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	return models.NotificationFromRow(row)
}

func (s *notificationService) List(ctx context.Context, viewer models.Viewer, limit int) ([]models.Notification, error) {
	if !viewer.Authenticated() {
		return nil, ErrUnauthenticated
	}
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}

	rows, err := s.gw.FetchRows(ctx, gateway.TableNotifications, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("user_id", viewer.ID)},
		Order:   []gateway.Order{{Column: "created_at", Desc: true}},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		n, err := models.NotificationFromRow(row)
		if err != nil {
			s.log.WithError(err).Debug("skipping malformed notification row")
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, viewer models.Viewer) (int, error) {
	if !viewer.Authenticated() {
		return 0, ErrUnauthenticated
	}
	n, err := s.gw.CountRows(ctx, gateway.TableNotifications,
		gateway.Eq("user_id", viewer.ID), gateway.Eq("read", false))
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (s *notificationService) MarkRead(ctx context.Context, viewer models.Viewer, ids []string) (int, error) {
	if !viewer.Authenticated() {
		return 0, ErrUnauthenticated
	}

	params := gateway.Params{"p_user_id": viewer.ID}
	var clean []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) > 0 {
		params["p_notification_ids"] = clean
	}

	rows, err := s.gw.InvokeProcedure(ctx, gateway.ProcMarkNotifsRead, params)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := models.Int(rows[0]["updated_count"])
	return n, nil
}
