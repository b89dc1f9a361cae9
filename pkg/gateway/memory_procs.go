package gateway

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// RegisterDefaultProcedures installs Go versions of the procedures shipped in the
// Postgres migrations.
func RegisterDefaultProcedures(m *Memory) {
	m.Register(ProcFollowingFeed, followingFeed)
	m.Register(ProcAwardXP, awardXP)
	m.Register(ProcTrendingHashtags, trendingHashtags)
	m.Register(ProcMarkNotifsRead, markNotificationsRead)
}

func followingFeed(ctx context.Context, m *Memory, p Params) ([]Row, error) {
	follows, err := m.FetchRows(ctx, TableFollows, Query{Filters: []Filter{Eq("follower_id", p["p_user_id"])}})
	if err != nil {
		return nil, err
	}
	following := make(map[string]bool, len(follows))
	for _, f := range follows {
		following[fmt.Sprint(f["following_id"])] = true
	}

	feed, err := m.FetchRows(ctx, TableTweetFeed, Query{
		Filters: []Filter{IsNull("parent_id")},
		Order:   []Order{{Column: "created_at", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	out := []Row{}
	for _, t := range feed {
		if !following[fmt.Sprint(t["user_id"])] {
			continue
		}
		out = append(out, Row{
			"tweet_id":   t["id"],
			"user_id":    t["user_id"],
			"content":    t["content"],
			"media_url":  t["media_url"],
			"parent_id":  t["parent_id"],
			"created_at": t["created_at"],
			"username":   t["author_username"],
			"avatar_url": t["author_avatar_url"],
			"user_level": t["author_level"],
			"user_xp":    t["author_xp"],
		})
	}

	offset, _ := toFloat(p["p_offset"])
	limit, _ := toFloat(p["p_limit"])
	if int(offset) >= len(out) {
		return []Row{}, nil
	}
	out = out[int(offset):]
	if limit > 0 && len(out) > int(limit) {
		out = out[:int(limit)]
	}
	return out, nil
}

func awardXP(ctx context.Context, m *Memory, p Params) ([]Row, error) {
	amount, ok := toFloat(p["p_xp_amount"])
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("award_xp: invalid amount %v", p["p_xp_amount"])
	}

	if _, err := m.InsertRow(ctx, TableXPEvents, Row{
		"user_id":      p["p_user_id"],
		"event_type":   p["p_event_type"],
		"xp_amount":    int64(amount),
		"reference_id": p["p_reference_id"],
	}); err != nil {
		return nil, err
	}

	var result Row
	n, err := m.Update(TableUsers, func(u Row) {
		xp, _ := toFloat(u["xp"])
		xp += amount
		u["xp"] = int64(xp)
		u["level"] = int64(xp)/100 + 1
		result = Row{"new_xp": u["xp"], "new_level": u["level"]}
	}, Eq("id", p["p_user_id"]))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("award_xp: user %v not found", p["p_user_id"])
	}
	return []Row{result}, nil
}

func trendingHashtags(ctx context.Context, m *Memory, p Params) ([]Row, error) {
	now := m.Now()
	tweets, err := m.FetchRows(ctx, TableTweets, Query{
		Filters: []Filter{Gte("created_at", now.Add(-7*24*time.Hour))},
	})
	if err != nil {
		return nil, err
	}

	type tally struct {
		count, recent int64
	}
	counts := map[string]*tally{}
	dayAgo := now.Add(-24 * time.Hour)
	for _, t := range tweets {
		content, _ := t["content"].(string)
		created, _ := t["created_at"].(time.Time)
		seen := map[string]bool{}
		for _, match := range hashtagPattern.FindAllStringSubmatch(content, -1) {
			tag := "#" + strings.ToLower(match[1])
			if seen[tag] {
				continue
			}
			seen[tag] = true
			c, ok := counts[tag]
			if !ok {
				c = &tally{}
				counts[tag] = c
			}
			c.count++
			if created.After(dayAgo) {
				c.recent++
			}
		}
	}

	out := make([]Row, 0, len(counts))
	for tag, c := range counts {
		out = append(out, Row{"hashtag": tag, "count": c.count, "recent_count": c.recent})
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := out[i]["count"].(int64), out[j]["count"].(int64)
		if ci != cj {
			return ci > cj
		}
		return out[i]["hashtag"].(string) < out[j]["hashtag"].(string)
	})

	if limit, ok := toFloat(p["p_limit"]); ok && limit > 0 && len(out) > int(limit) {
		out = out[:int(limit)]
	}
	return out, nil
}

// markNotificationsRead marks the listed unread notifications of p_user_id as
// read, or all of them when no ids are given.
func markNotificationsRead(ctx context.Context, m *Memory, p Params) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var only map[string]bool
	if ids, ok := p["p_notification_ids"].([]string); ok {
		only = make(map[string]bool, len(ids))
		for _, id := range ids {
			only[id] = true
		}
	}

	n := 0
	_, err := m.Update(TableNotifications, func(r Row) {
		if only != nil && !only[fmt.Sprint(r["id"])] {
			return
		}
		r["read"] = true
		n++
	}, Eq("user_id", p["p_user_id"]), Eq("read", false))
	if err != nil {
		return nil, err
	}
	return []Row{{"updated_count": int64(n)}}, nil
}
