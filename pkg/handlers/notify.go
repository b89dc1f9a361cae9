package handlers

import (
	"context"
	"fmt"

	"xpsocial/pkg/broker"
	"xpsocial/pkg/envelope"
	"xpsocial/pkg/models"
)

// Deliverer is the part of *hub.Hub that fans an envelope out to a user.
type Deliverer interface {
	Deliver(env envelope.Envelope) int
}

// LocalNotifier delivers notifications straight to this instance's hub. It is
// used when no broker is available.
type LocalNotifier struct {
	Hub Deliverer
}

func (n LocalNotifier) Notify(_ context.Context, note models.Notification) error {
	env, err := envelope.NewEvent(broker.ActionNotification, "social", note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	env.UserID = note.RecipientID
	n.Hub.Deliver(env)
	return nil
}

// RelayNotifications forwards broker notifications to the local connections of
// their recipient.
func RelayNotifications(b *broker.Broker, h Deliverer) {
	b.On(broker.ActionNotification, func(env envelope.Envelope) {
		h.Deliver(env)
	})
	b.Subscribe(broker.NotificationsChannel)
}
