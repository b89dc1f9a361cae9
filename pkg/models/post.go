package models

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const MaxContentLength = 280

var (
	ErrEmptyContent   = errors.New("post content is empty")
	ErrContentTooLong = errors.New("post content exceeds 280 characters")
)

type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"user_id"`
	Content   string    `json:"content"`
	MediaURL  *string   `json:"media_url,omitempty"`
	ParentID  *string   `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Post) IsReply() bool {
	return p.ParentID != nil
}

// FeedItem is a post joined with a snapshot of its author.
type FeedItem struct {
	Post
	Author Author `json:"user"`
}

// EnrichedPost carries the per-viewer engagement view of a post. Counts and
// flags are recomputed on every page fetch; EngagementScore is only set by the
// popular ranking.
type EnrichedPost struct {
	FeedItem
	LikeCount         int      `json:"likes_count"`
	RepostCount       int      `json:"retweets_count"`
	ReplyCount        int      `json:"replies_count"`
	ViewerHasLiked    bool     `json:"is_liked"`
	ViewerHasReposted bool     `json:"is_retweeted"`
	EngagementScore   *float64 `json:"engagement_score,omitempty"`
}

type NewPost struct {
	Content  string  `json:"content"`
	MediaURL *string `json:"media_url,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
}

// NormalizeContent trims the text and enforces the length limit in runes.
func NormalizeContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}
