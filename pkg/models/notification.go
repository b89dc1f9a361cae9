package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type NotificationType string

const (
	NotifyLike    NotificationType = "like"
	NotifyRetweet NotificationType = "retweet"
	NotifyReply   NotificationType = "reply"
	NotifyFollow  NotificationType = "follow"
)

// Notification is stored in the recipient's inbox and relayed over the broker
// to every connection of RecipientID.
type Notification struct {
	ID          string           `json:"id,omitempty"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title,omitempty"`
	Message     string           `json:"message,omitempty"`
	ActorID     string           `json:"actor_id"`
	ActorName   string           `json:"actor_name,omitempty"`
	RecipientID string           `json:"recipient_id"`
	TweetID     string           `json:"tweet_id,omitempty"`
	XP          int              `json:"xp,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}

// notificationData is the JSON kept in the notifications.data column.
type notificationData struct {
	ActorID   string `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	TweetID   string `json:"tweet_id,omitempty"`
	XP        int    `json:"xp,omitempty"`
}

// Describe fills Title and Message when they are empty.
func (n *Notification) Describe() {
	actor := n.ActorName
	if actor == "" {
		actor = "Someone"
	}
	var title, msg string
	switch n.Type {
	case NotifyLike:
		title, msg = "New like", actor+" liked your tweet"
	case NotifyRetweet:
		title, msg = "New retweet", actor+" retweeted your tweet"
	case NotifyReply:
		title, msg = "New reply", actor+" replied to your tweet"
	case NotifyFollow:
		title, msg = "New follower", actor+" started following you"
	default:
		title, msg = "Notification", string(n.Type)
	}
	if n.XP > 0 {
		msg = fmt.Sprintf("%s (+%d XP)", msg, n.XP)
	}
	if n.Title == "" {
		n.Title = title
	}
	if n.Message == "" {
		n.Message = msg
	}
}

// DataJSON encodes the actor and target fields for the data column.
func (n Notification) DataJSON() (string, error) {
	raw, err := json.Marshal(notificationData{
		ActorID:   n.ActorID,
		ActorName: n.ActorName,
		TweetID:   n.TweetID,
		XP:        n.XP,
	})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// NotificationFromRow maps a notifications table row.
func NotificationFromRow(row map[string]any) (Notification, error) {
	var n Notification

	id, ok := str(row["id"])
	if !ok || id == "" {
		return n, fmt.Errorf("%w: notification without id", ErrMalformedRow)
	}
	created, err := timestamp(row["created_at"])
	if err != nil {
		return n, fmt.Errorf("%w: notification %s: %v", ErrMalformedRow, id, err)
	}

	n = Notification{
		ID:          id,
		Type:        NotificationType(optString(row, "type")),
		Title:       optString(row, "title"),
		Message:     optString(row, "message"),
		RecipientID: optString(row, "user_id"),
		CreatedAt:   created,
	}
	if read, ok := row["read"].(bool); ok {
		n.Read = read
	}

	if raw, ok := str(row["data"]); ok && raw != "" {
		var d notificationData
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return n, fmt.Errorf("%w: notification %s data: %v", ErrMalformedRow, id, err)
		}
		n.ActorID, n.ActorName, n.TweetID, n.XP = d.ActorID, d.ActorName, d.TweetID, d.XP
	}
	return n, nil
}
