package gateway

import "fmt"

const (
	TableUsers     = "users"
	TableTweets    = "tweets"
	TableTweetFeed = "tweet_feed"
	TableLikes     = "likes"
	TableRetweets  = "retweets"
	TableFollows   = "follows"
	TableXPEvents  = "xp_events"

	TableNotifications = "notifications"
)

const (
	ProcFollowingFeed    = "get_following_feed"
	ProcAwardXP          = "award_xp"
	ProcTrendingHashtags = "get_trending_hashtags"
	ProcMarkNotifsRead   = "mark_notifications_read"
)

// tables lists the columns callers may read, filter, order or write per table.
var tables = map[string][]string{
	TableUsers:  {"id", "username", "display_name", "avatar_url", "level", "xp", "created_at"},
	TableTweets: {"id", "user_id", "content", "media_url", "parent_id", "created_at"},
	TableTweetFeed: {
		"id", "user_id", "content", "media_url", "parent_id", "created_at",
		"author_username", "author_display_name", "author_avatar_url", "author_level", "author_xp",
	},
	TableLikes:    {"id", "user_id", "tweet_id", "created_at"},
	TableRetweets: {"id", "user_id", "tweet_id", "created_at"},
	TableFollows:  {"id", "follower_id", "following_id", "created_at"},
	TableXPEvents: {"id", "user_id", "event_type", "xp_amount", "reference_id", "created_at"},
	TableNotifications: {
		"id", "user_id", "type", "title", "message", "data", "read", "created_at",
	},
}

// procedures lists the accepted named parameters, in declaration order.
var procedures = map[string][]string{
	ProcFollowingFeed:    {"p_user_id", "p_limit", "p_offset"},
	ProcAwardXP:          {"p_user_id", "p_event_type", "p_xp_amount", "p_reference_id"},
	ProcTrendingHashtags: {"p_limit"},
	ProcMarkNotifsRead:   {"p_user_id", "p_notification_ids"},
}

func checkTable(table string) ([]string, error) {
	cols, ok := tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return cols, nil
}

func checkColumn(table, column string) error {
	cols, err := checkTable(table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if c == column {
			return nil
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, column)
}

func checkProcedure(name string, params Params) ([]string, error) {
	names, ok := procedures[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcedure, name)
	}
	for k := range params {
		found := false
		for _, n := range names {
			if n == k {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s(%s)", ErrUnknownColumn, name, k)
		}
	}
	return names, nil
}
