package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var ErrMalformedRow = errors.New("malformed row")

// FeedItemFromRow maps a tweet_feed view row (tweet columns plus author_*).
func FeedItemFromRow(row map[string]any) (FeedItem, error) {
	return feedItem(row, "id", func(a *Author) {
		a.Username = optString(row, "author_username")
		a.DisplayName = optString(row, "author_display_name")
		a.AvatarURL = optString(row, "author_avatar_url")
		a.Level = optInt(row, "author_level")
		a.XP = optInt(row, "author_xp")
	})
}

// FeedItemFromFollowingRow maps a get_following_feed result row.
func FeedItemFromFollowingRow(row map[string]any) (FeedItem, error) {
	return feedItem(row, "tweet_id", func(a *Author) {
		a.Username = optString(row, "username")
		a.AvatarURL = optString(row, "avatar_url")
		a.Level = optInt(row, "user_level")
		a.XP = optInt(row, "user_xp")
	})
}

// PostFromRow maps a tweets table row.
func PostFromRow(row map[string]any) (Post, error) {
	it, err := feedItem(row, "id", func(*Author) {})
	return it.Post, err
}

func feedItem(row map[string]any, idKey string, author func(*Author)) (FeedItem, error) {
	var it FeedItem

	id, ok := str(row[idKey])
	if !ok || id == "" {
		return it, fmt.Errorf("%w: missing %s", ErrMalformedRow, idKey)
	}
	userID, ok := str(row["user_id"])
	if !ok || userID == "" {
		return it, fmt.Errorf("%w: post %s has no user_id", ErrMalformedRow, id)
	}
	content, ok := str(row["content"])
	if !ok {
		return it, fmt.Errorf("%w: post %s has no content", ErrMalformedRow, id)
	}
	created, err := timestamp(row["created_at"])
	if err != nil {
		return it, fmt.Errorf("%w: post %s: %v", ErrMalformedRow, id, err)
	}

	it.Post = Post{
		ID:        id,
		AuthorID:  userID,
		Content:   content,
		MediaURL:  optStringPtr(row, "media_url"),
		ParentID:  optStringPtr(row, "parent_id"),
		CreatedAt: created,
	}
	it.Author = Author{ID: userID}
	author(&it.Author)
	return it, nil
}

func str(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}

func optString(row map[string]any, key string) string {
	s, _ := str(row[key])
	return s
}

func optStringPtr(row map[string]any, key string) *string {
	s, ok := str(row[key])
	if !ok || s == "" {
		return nil
	}
	return &s
}

func optInt(row map[string]any, key string) int {
	n, _ := Int(row[key])
	return n
}

// Int converts the numeric shapes drivers and JSON decoding produce.
func Int(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func timestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("created_at has type %T", v)
	}
}
