package feed

import (
	"sort"

	"xpsocial/pkg/models"
)

const (
	likeWeight   = 1.0
	repostWeight = 2.0
	replyWeight  = 1.5
)

// Score is the weighted engagement of a post: reposts count double a like and
// replies one and a half.
func Score(p models.EnrichedPost) float64 {
	return float64(p.LikeCount)*likeWeight +
		float64(p.RepostCount)*repostWeight +
		float64(p.ReplyCount)*replyWeight
}

// Rank returns the posts with a positive score ordered by score, highest first.
// Equal scores keep their input order. The input slice is not modified.
func Rank(posts []models.EnrichedPost) []models.EnrichedPost {
	ranked := make([]models.EnrichedPost, 0, len(posts))
	for _, p := range posts {
		s := Score(p)
		if s <= 0 {
			continue
		}
		p.EngagementScore = &s
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].EngagementScore > *ranked[j].EngagementScore
	})
	return ranked
}
