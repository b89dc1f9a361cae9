package feed

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
)

// Page is one fetched, enriched and (for popular) ranked slice of a feed.
// Fetched is the raw number of rows the gateway returned, before malformed rows
// were dropped or the ranking filtered anything out; it drives the cursor.
type Page struct {
	Posts   []models.EnrichedPost
	Fetched int
}

// DefaultReplyLimit caps the replies loaded with a post detail.
const DefaultReplyLimit = 100

var ErrPostNotFound = errors.New("post not found")

// Detail is one post with its direct replies, oldest first. Every item carries
// the same engagement data as a feed page.
type Detail struct {
	Post    models.EnrichedPost   `json:"tweet"`
	Replies []models.EnrichedPost `json:"replies"`
}

type Source struct {
	gw         gateway.Gateway
	agg        *Aggregator
	now        func() time.Time
	replyLimit int
	log        *logrus.Entry
}

type SourceOption func(*Source)

func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) { s.now = now }
}

// WithReplyLimit sets how many replies Detail loads.
func WithReplyLimit(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.replyLimit = n
		}
	}
}

func NewSource(gw gateway.Gateway, agg *Aggregator, opts ...SourceOption) *Source {
	s := &Source{
		gw:         gw,
		agg:        agg,
		now:        time.Now,
		replyLimit: DefaultReplyLimit,
		log:        logging.For("feed"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Page fetches limit top-level posts starting at offset.
func (s *Source) Page(ctx context.Context, cfg models.FeedConfig, viewerID string, offset, limit int) (Page, error) {
	if viewerID == "" {
		return Page{}, ErrNoViewer
	}
	cfg = cfg.WithDefaults(models.DefaultPopularWindowDays)

	var (
		rows   []gateway.Row
		mapper func(map[string]any) (models.FeedItem, error)
		err    error
	)

	switch cfg.Type {
	case models.FeedFollowing:
		mapper = models.FeedItemFromFollowingRow
		rows, err = s.gw.InvokeProcedure(ctx, gateway.ProcFollowingFeed, gateway.Params{
			"p_user_id": viewerID,
			"p_limit":   limit,
			"p_offset":  offset,
		})
	case models.FeedPublic, models.FeedPopular:
		mapper = models.FeedItemFromRow
		filters := []gateway.Filter{gateway.IsNull("parent_id")}
		if cfg.Type == models.FeedPopular {
			since := s.now().Add(-time.Duration(cfg.WindowDays) * 24 * time.Hour)
			filters = append(filters, gateway.Gte("created_at", since))
		}
		rows, err = s.gw.FetchRows(ctx, gateway.TableTweetFeed, gateway.Query{
			Filters: filters,
			Order:   []gateway.Order{{Column: "created_at", Desc: true}},
			Offset:  offset,
			Limit:   limit,
		})
	default:
		return Page{}, fmt.Errorf("feed: unknown feed type %q", cfg.Type)
	}
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s page at %d: %w", cfg.Type, offset, err)
	}

	items := make([]models.FeedItem, 0, len(rows))
	for _, r := range rows {
		it, err := mapper(r)
		if err != nil {
			s.log.WithError(err).WithField("feed_type", cfg.Type).Warn("dropping malformed feed row")
			continue
		}
		if it.IsReply() {
			s.log.WithField("post_id", it.ID).Warn("dropping reply returned by top-level feed")
			continue
		}
		items = append(items, it)
	}

	posts, err := s.agg.Enrich(ctx, items, viewerID)
	if err != nil {
		return Page{}, err
	}
	if cfg.Type == models.FeedPopular {
		posts = Rank(posts)
	}

	return Page{Posts: posts, Fetched: len(rows)}, nil
}

// Detail loads postID and its replies and enriches them in one fan-out.
func (s *Source) Detail(ctx context.Context, postID, viewerID string) (Detail, error) {
	if viewerID == "" {
		return Detail{}, ErrNoViewer
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Detail{}, ErrPostNotFound
	}

	rows, err := s.gw.FetchRows(ctx, gateway.TableTweetFeed, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", postID)},
		Limit:   1,
	})
	if err != nil {
		return Detail{}, fmt.Errorf("fetch post %s: %w", postID, err)
	}
	if len(rows) == 0 {
		return Detail{}, ErrPostNotFound
	}
	root, err := models.FeedItemFromRow(rows[0])
	if err != nil {
		return Detail{}, fmt.Errorf("post %s: %w", postID, err)
	}

	replyRows, err := s.gw.FetchRows(ctx, gateway.TableTweetFeed, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("parent_id", postID)},
		Order:   []gateway.Order{{Column: "created_at"}},
		Limit:   s.replyLimit,
	})
	if err != nil {
		return Detail{}, fmt.Errorf("fetch replies of %s: %w", postID, err)
	}

	items := make([]models.FeedItem, 0, len(replyRows)+1)
	items = append(items, root)
	for _, r := range replyRows {
		it, err := models.FeedItemFromRow(r)
		if err != nil {
			s.log.WithError(err).WithField("post_id", postID).Warn("dropping malformed reply row")
			continue
		}
		items = append(items, it)
	}

	posts, err := s.agg.Enrich(ctx, items, viewerID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Post: posts[0], Replies: posts[1:]}, nil
}
