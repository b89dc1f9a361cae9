package models

type Hashtag struct {
	Hashtag     string `json:"hashtag"`
	Count       int    `json:"count"`
	RecentCount int    `json:"recent_count"`
}

// HashtagFromRow maps a get_trending_hashtags result row.
func HashtagFromRow(row map[string]any) (Hashtag, bool) {
	tag, ok := str(row["hashtag"])
	if !ok || tag == "" {
		return Hashtag{}, false
	}
	count, _ := Int(row["count"])
	recent, _ := Int(row["recent_count"])
	return Hashtag{Hashtag: tag, Count: count, RecentCount: recent}, true
}
