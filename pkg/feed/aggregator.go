package feed

import (
	"context"
	"errors"
	"fmt"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/models"

	"golang.org/x/sync/errgroup"
)

const DefaultFanoutLimit = 16

var ErrNoViewer = errors.New("feed: enrichment requires an authenticated viewer")

// Aggregator resolves engagement counts and viewer flags for a page of posts.
type Aggregator struct {
	gw    gateway.Gateway
	limit int
}

// NewAggregator bounds the number of in-flight gateway calls per page at limit
// (DefaultFanoutLimit when limit <= 0).
func NewAggregator(gw gateway.Gateway, limit int) *Aggregator {
	if limit <= 0 {
		limit = DefaultFanoutLimit
	}
	return &Aggregator{gw: gw, limit: limit}
}

// Enrich returns one EnrichedPost per input item, in input order. Every count and
// flag is fetched independently; the first failure cancels the rest and fails the
// whole page.
func (a *Aggregator) Enrich(ctx context.Context, items []models.FeedItem, viewerID string) ([]models.EnrichedPost, error) {
	if viewerID == "" {
		return nil, ErrNoViewer
	}

	out := make([]models.EnrichedPost, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(a.limit)

	for i := range items {
		out[i].FeedItem = items[i]
		p := &out[i]
		id := items[i].ID

		eg.Go(func() error {
			return a.count(egCtx, &p.LikeCount, gateway.TableLikes, gateway.Eq("tweet_id", id))
		})
		eg.Go(func() error {
			return a.count(egCtx, &p.RepostCount, gateway.TableRetweets, gateway.Eq("tweet_id", id))
		})
		eg.Go(func() error {
			return a.count(egCtx, &p.ReplyCount, gateway.TableTweets, gateway.Eq("parent_id", id))
		})
		eg.Go(func() error {
			return a.exists(egCtx, &p.ViewerHasLiked, gateway.TableLikes,
				gateway.Eq("user_id", viewerID), gateway.Eq("tweet_id", id))
		})
		eg.Go(func() error {
			return a.exists(egCtx, &p.ViewerHasReposted, gateway.TableRetweets,
				gateway.Eq("user_id", viewerID), gateway.Eq("tweet_id", id))
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("enrich page: %w", err)
	}
	return out, nil
}

func (a *Aggregator) count(ctx context.Context, dst *int, table string, filters ...gateway.Filter) error {
	n, err := a.gw.CountRows(ctx, table, filters...)
	if err != nil {
		return fmt.Errorf("count %s: %w", table, err)
	}
	if n < 0 {
		n = 0
	}
	*dst = n
	return nil
}

func (a *Aggregator) exists(ctx context.Context, dst *bool, table string, filters ...gateway.Filter) error {
	ok, err := gateway.Exists(ctx, a.gw, table, filters...)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", table, err)
	}
	*dst = ok
	return nil
}
