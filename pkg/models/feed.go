package models

import (
	"fmt"
	"strings"
)

type FeedType string

const (
	FeedPublic    FeedType = "public"
	FeedFollowing FeedType = "following"
	FeedPopular   FeedType = "popular"
)

const DefaultPopularWindowDays = 7

func ParseFeedType(s string) (FeedType, error) {
	switch ft := FeedType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FeedPublic, FeedFollowing, FeedPopular:
		return ft, nil
	case "":
		return FeedPublic, nil
	default:
		return "", fmt.Errorf("unknown feed type %q", s)
	}
}

// EmptyMessage is what a screen shows when the first page comes back empty.
func (ft FeedType) EmptyMessage() string {
	switch ft {
	case FeedFollowing:
		return "No tweets from people you follow yet. Try following some users!"
	case FeedPopular:
		return "No popular tweets this week. Start engaging with content to see trending tweets!"
	default:
		return "No tweets yet. Be the first to post!"
	}
}

// FeedConfig selects what a feed controller shows. WindowDays only applies to
// the popular feed.
type FeedConfig struct {
	Type       FeedType `json:"feed_type"`
	WindowDays int      `json:"window_days,omitempty"`
}

func (c FeedConfig) WithDefaults(windowDays int) FeedConfig {
	if c.Type == "" {
		c.Type = FeedPublic
	}
	if windowDays <= 0 {
		windowDays = DefaultPopularWindowDays
	}
	if c.Type != FeedPopular {
		c.WindowDays = 0
	} else if c.WindowDays <= 0 {
		c.WindowDays = windowDays
	}
	return c
}
