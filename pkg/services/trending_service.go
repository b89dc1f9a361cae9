package services

import (
	"context"
	"fmt"
	"time"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/logging"
	"xpsocial/pkg/models"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	DefaultTrendingLimit = 5
	maxTrendingLimit     = 50
	trendingKeyPrefix    = "trending:"
)

// ProtoCache is the slice of *cache.Redis the services rely on.
type ProtoCache interface {
	GetProto(ctx context.Context, key string, dest proto.Message) bool
	SetProto(ctx context.Context, key string, msg proto.Message, ttl time.Duration)
	DelPattern(ctx context.Context, pattern string)
}

type TrendingService interface {
	Trending(ctx context.Context, limit int) ([]models.Hashtag, error)
	Invalidate(ctx context.Context)
}

type trendingService struct {
	gw    gateway.Gateway
	cache ProtoCache
	ttl   time.Duration
	log   *logrus.Entry
}

// NewTrendingService returns a service reading get_trending_hashtags through cache.
// A nil cache disables caching.
func NewTrendingService(gw gateway.Gateway, cache ProtoCache, ttl time.Duration) TrendingService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &trendingService{gw: gw, cache: cache, ttl: ttl, log: logging.For("trending")}
}

func (s *trendingService) Trending(ctx context.Context, limit int) ([]models.Hashtag, error) {
	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}

	key := fmt.Sprintf("%s%d", trendingKeyPrefix, limit)
	if s.cache != nil {
		var cached structpb.ListValue
		if s.cache.GetProto(ctx, key, &cached) {
			return hashtagsFromList(&cached), nil
		}
	}

	rows, err := s.gw.InvokeProcedure(ctx, gateway.ProcTrendingHashtags, gateway.Params{"p_limit": limit})
	if err != nil {
		return nil, fmt.Errorf("trending hashtags: %w", err)
	}

	tags := make([]models.Hashtag, 0, len(rows))
	for _, row := range rows {
		h, ok := models.HashtagFromRow(row)
		if !ok {
			s.log.WithField("row", row).Debug("skipping malformed hashtag row")
			continue
		}
		tags = append(tags, h)
	}

	if s.cache != nil {
		list, err := hashtagsToList(tags)
		if err != nil {
			s.log.WithError(err).Warn("encode trending list")
		} else {
			s.cache.SetProto(ctx, key, list, s.ttl)
		}
	}
	return tags, nil
}

// Invalidate drops every cached trending list.
func (s *trendingService) Invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.DelPattern(ctx, trendingKeyPrefix+"*")
	}
}

func hashtagsToList(tags []models.Hashtag) (*structpb.ListValue, error) {
	values := make([]any, len(tags))
	for i, h := range tags {
		values[i] = map[string]any{
			"hashtag":      h.Hashtag,
			"count":        h.Count,
			"recent_count": h.RecentCount,
		}
	}
	return structpb.NewList(values)
}

func hashtagsFromList(list *structpb.ListValue) []models.Hashtag {
	tags := make([]models.Hashtag, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		f := v.GetStructValue().GetFields()
		tag := f["hashtag"].GetStringValue()
		if tag == "" {
			continue
		}
		tags = append(tags, models.Hashtag{
			Hashtag:     tag,
			Count:       int(f["count"].GetNumberValue()),
			RecentCount: int(f["recent_count"].GetNumberValue()),
		})
	}
	return tags
}
