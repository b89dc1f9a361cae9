package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	LikeXP   = 5
	RepostXP = 10
	PostXP   = 10
)

var (
	ErrUnauthenticated = errors.New("sign in required")
	ErrPostNotFound    = errors.New("post not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrSelfFollow      = errors.New("you cannot follow yourself")
)

// Notifier delivers a notification to every connection of its recipient.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// ToggleResult is the state of a like or repost edge after a toggle.
type ToggleResult struct {
	PostID    string `json:"tweet_id"`
	Active    bool   `json:"active"`
	Count     int    `json:"count"`
	XPAwarded int    `json:"xp_awarded,omitempty"`
}

type FollowResult struct {
	UserID    string `json:"user_id"`
	Following bool   `json:"following"`
	Followers int    `json:"followers"`
}

type InteractionService interface {
	ToggleLike(ctx context.Context, viewer models.Viewer, postID string) (ToggleResult, error)
	ToggleRepost(ctx context.Context, viewer models.Viewer, postID string) (ToggleResult, error)
	ToggleFollow(ctx context.Context, viewer models.Viewer, targetID string) (FollowResult, error)
	CreatePost(ctx context.Context, viewer models.Viewer, in models.NewPost) (models.Post, error)
}

type interactionService struct {
	gw       gateway.Gateway
	notifier Notifier
	trending TrendingService
	flights  singleflight.Group
	now      func() time.Time
	log      *logrus.Entry
}

// edge describes one toggleable viewer-to-post relation.
type edge struct {
	table     string
	xp        int
	xpEvent   string
	notifType models.NotificationType
}

var (
	likeEdge   = edge{table: gateway.TableLikes, xp: LikeXP, xpEvent: "like_received", notifType: models.NotifyLike}
	repostEdge = edge{table: gateway.TableRetweets, xp: RepostXP, xpEvent: "retweet_received", notifType: models.NotifyRetweet}
)

// NewInteractionService wires the write side of the feed. notifier and trending
// may be nil.
func NewInteractionService(gw gateway.Gateway, notifier Notifier, trending TrendingService) InteractionService {
	return &interactionService{
		gw:       gw,
		notifier: notifier,
		trending: trending,
		now:      time.Now,
		log:      logging.For("interactions"),
	}
}

func (s *interactionService) ToggleLike(ctx context.Context, viewer models.Viewer, postID string) (ToggleResult, error) {
	return s.toggle(ctx, viewer, postID, likeEdge)
}

func (s *interactionService) ToggleRepost(ctx context.Context, viewer models.Viewer, postID string) (ToggleResult, error) {
	return s.toggle(ctx, viewer, postID, repostEdge)
}

// toggle flips the edge for (viewer, post). Concurrent toggles of the same edge
// share one execution so a double click cannot insert twice.
func (s *interactionService) toggle(ctx context.Context, viewer models.Viewer, postID string, e edge) (ToggleResult, error) {
	if !viewer.Authenticated() {
		return ToggleResult{}, ErrUnauthenticated
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return ToggleResult{}, ErrPostNotFound
	}

	key := e.table + ":" + viewer.ID + ":" + postID
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.doToggle(ctx, viewer, postID, e)
	})
	if err != nil {
		return ToggleResult{}, err
	}
	return v.(ToggleResult), nil
}

func (s *interactionService) doToggle(ctx context.Context, viewer models.Viewer, postID string, e edge) (ToggleResult, error) {
	post, err := s.post(ctx, postID)
	if err != nil {
		return ToggleResult{}, err
	}

	filters := []gateway.Filter{gateway.Eq("user_id", viewer.ID), gateway.Eq("tweet_id", postID)}
	exists, err := gateway.Exists(ctx, s.gw, e.table, filters...)
	if err != nil {
		return ToggleResult{}, fmt.Errorf("check %s: %w", e.table, err)
	}

	res := ToggleResult{PostID: postID, Active: !exists}
	if exists {
		if _, err := s.gw.DeleteRow(ctx, e.table, filters...); err != nil {
			return ToggleResult{}, fmt.Errorf("delete %s: %w", e.table, err)
		}
	} else {
		if _, err := s.gw.InsertRow(ctx, e.table, gateway.Row{"user_id": viewer.ID, "tweet_id": postID}); err != nil {
			return ToggleResult{}, fmt.Errorf("insert %s: %w", e.table, err)
		}
	}

	res.Count, err = s.gw.CountRows(ctx, e.table, gateway.Eq("tweet_id", postID))
	if err != nil {
		return ToggleResult{}, fmt.Errorf("count %s: %w", e.table, err)
	}

	if res.Active && post.AuthorID != viewer.ID {
		if s.awardXP(ctx, post.AuthorID, e.xpEvent, e.xp, postID) {
			res.XPAwarded = e.xp
		}
		s.notify(ctx, models.Notification{
			Type:        e.notifType,
			ActorID:     viewer.ID,
			ActorName:   viewer.Username,
			RecipientID: post.AuthorID,
			TweetID:     postID,
			XP:          res.XPAwarded,
		})
	}
	return res, nil
}

func (s *interactionService) ToggleFollow(ctx context.Context, viewer models.Viewer, targetID string) (FollowResult, error) {
	if !viewer.Authenticated() {
		return FollowResult{}, ErrUnauthenticated
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == viewer.ID {
		return FollowResult{}, ErrSelfFollow
	}

	key := gateway.TableFollows + ":" + viewer.ID + ":" + targetID
	v, err, _ := s.flights.Do(key, func() (any, error) {
		return s.doToggleFollow(ctx, viewer, targetID)
	})
	if err != nil {
		return FollowResult{}, err
	}
	return v.(FollowResult), nil
}

func (s *interactionService) doToggleFollow(ctx context.Context, viewer models.Viewer, targetID string) (FollowResult, error) {
	found, err := gateway.Exists(ctx, s.gw, gateway.TableUsers, gateway.Eq("id", targetID))
	if err != nil {
		return FollowResult{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return FollowResult{}, ErrUserNotFound
	}

	filters := []gateway.Filter{gateway.Eq("follower_id", viewer.ID), gateway.Eq("following_id", targetID)}
	exists, err := gateway.Exists(ctx, s.gw, gateway.TableFollows, filters...)
	if err != nil {
		return FollowResult{}, fmt.Errorf("check follow: %w", err)
	}

	res := FollowResult{UserID: targetID, Following: !exists}
	if exists {
		if _, err := s.gw.DeleteRow(ctx, gateway.TableFollows, filters...); err != nil {
			return FollowResult{}, fmt.Errorf("unfollow: %w", err)
		}
	} else {
		if _, err := s.gw.InsertRow(ctx, gateway.TableFollows, gateway.Row{"follower_id": viewer.ID, "following_id": targetID}); err != nil {
			return FollowResult{}, fmt.Errorf("follow: %w", err)
		}
		s.notify(ctx, models.Notification{
			Type:        models.NotifyFollow,
			ActorID:     viewer.ID,
			ActorName:   viewer.Username,
			RecipientID: targetID,
		})
	}

	res.Followers, err = s.gw.CountRows(ctx, gateway.TableFollows, gateway.Eq("following_id", targetID))
	if err != nil {
		return FollowResult{}, fmt.Errorf("count followers: %w", err)
	}
	return res, nil
}

func (s *interactionService) CreatePost(ctx context.Context, viewer models.Viewer, in models.NewPost) (models.Post, error) {
	if !viewer.Authenticated() {
		return models.Post{}, ErrUnauthenticated
	}
	content, err := models.NormalizeContent(in.Content)
	if err != nil {
		return models.Post{}, err
	}

	var parent models.Post
	values := gateway.Row{"user_id": viewer.ID, "content": content}
	if in.MediaURL != nil && strings.TrimSpace(*in.MediaURL) != "" {
		values["media_url"] = strings.TrimSpace(*in.MediaURL)
	}
	if in.ParentID != nil && *in.ParentID != "" {
		parent, err = s.post(ctx, *in.ParentID)
		if err != nil {
			return models.Post{}, err
		}
		values["parent_id"] = parent.ID
	}

	row, err := s.gw.InsertRow(ctx, gateway.TableTweets, values)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}
	post, err := models.PostFromRow(row)
	if err != nil {
		return models.Post{}, fmt.Errorf("insert post: %w", err)
	}

	s.awardXP(ctx, viewer.ID, "tweet", PostXP, post.ID)
	if parent.ID != "" && parent.AuthorID != viewer.ID {
		s.notify(ctx, models.Notification{
			Type:        models.NotifyReply,
			ActorID:     viewer.ID,
			ActorName:   viewer.Username,
			RecipientID: parent.AuthorID,
			TweetID:     post.ID,
		})
	}
	if s.trending != nil && strings.Contains(content, "#") {
		s.trending.Invalidate(ctx)
	}
	return post, nil
}

func (s *interactionService) post(ctx context.Context, id string) (models.Post, error) {
	rows, err := s.gw.FetchRows(ctx, gateway.TableTweets, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", id)},
		Limit:   1,
	})
	if err != nil {
		return models.Post{}, fmt.Errorf("load post: %w", err)
	}
	if len(rows) == 0 {
		return models.Post{}, ErrPostNotFound
	}
	return models.PostFromRow(rows[0])
}

// awardXP reports whether the award was recorded. The interaction itself is
// already committed, so failures are only logged.
func (s *interactionService) awardXP(ctx context.Context, userID, event string, amount int, refID string) bool {
	_, err := s.gw.InvokeProcedure(ctx, gateway.ProcAwardXP, gateway.Params{
		"p_user_id":      userID,
		"p_event_type":   event,
		"p_xp_amount":    amount,
		"p_reference_id": refID,
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"event":   event,
		}).Warn("award xp failed")
		return false
	}
	return true
}

func (s *interactionService) notify(ctx context.Context, n models.Notification) {
	if s.notifier == nil {
		return
	}
	n.CreatedAt = s.now().UTC()
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"type":      n.Type,
			"recipient": n.RecipientID,
		}).Warn("notification dropped")
	}
}
