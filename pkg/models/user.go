package models

// Author is the denormalized user summary embedded in feed items.
type Author struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Level       int    `json:"level"`
	XP          int    `json:"xp"`
}

// Viewer identifies the authenticated caller of a request.
type Viewer struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (v Viewer) Authenticated() bool {
	return v.ID != ""
}
