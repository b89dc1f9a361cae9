package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/middleware"
	"xpsocial/pkg/models"
	"xpsocial/pkg/services"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveries struct {
	envs []envelope.Envelope
}

func (d *deliveries) Deliver(env envelope.Envelope) int {
	d.envs = append(d.envs, env)
	return 1
}

func TestLikeActionNotifiesAuthor(t *testing.T) {
	m := newWorld(t, 2)
	d := &deliveries{}
	svc := services.NewInteractionService(m, LocalNotifier{Hub: d}, nil)
	rec := &recorder{}
	h := NewInteractions(rec, svc, services.NewTrendingService(m, nil, 0))

	h.like(request(t, "post.like", "c1", "viewer", map[string]string{"tweet_id": "p01"}))
	reply := last(t, rec.take(), "reply")
	res := reply.data.(services.ToggleResult)
	assert.True(t, res.Active)
	assert.Equal(t, services.LikeXP, res.XPAwarded)

	require.Len(t, d.envs, 1)
	assert.Equal(t, "author", d.envs[0].UserID)
	note, err := envelope.ParseData[models.Notification](d.envs[0])
	require.NoError(t, err)
	assert.Equal(t, models.NotifyLike, note.Type)
}

func TestInteractionErrorsMapToCodes(t *testing.T) {
	m := newWorld(t, 1)
	rec := &recorder{}
	h := NewInteractions(rec, services.NewInteractionService(m, nil, nil), services.NewTrendingService(m, nil, 0))

	h.repost(request(t, "post.repost", "c1", "", map[string]string{"tweet_id": "p00"}))
	assert.Equal(t, http.StatusUnauthorized, last(t, rec.take(), "error").code)

	h.repost(request(t, "post.repost", "c1", "viewer", map[string]string{"tweet_id": "nope"}))
	assert.Equal(t, http.StatusNotFound, last(t, rec.take(), "error").code)

	h.follow(request(t, "user.follow", "c1", "viewer", map[string]string{"user_id": "viewer"}))
	assert.Equal(t, http.StatusBadRequest, last(t, rec.take(), "error").code)

	h.create(request(t, "post.create", "c1", "viewer", map[string]string{"content": strings.Repeat("x", 281)}))
	assert.Equal(t, http.StatusBadRequest, last(t, rec.take(), "error").code)

	h.create(request(t, "post.create", "c1", "viewer", map[string]string{"content": "hello"}))
	post := last(t, rec.take(), "reply").data.(models.Post)
	assert.Equal(t, "hello", post.Content)

	h.trendingList(request(t, "trending.list", "c1", "viewer", map[string]int{"limit": 3}))
	got := last(t, rec.take(), "reply").data.(map[string]any)
	assert.Len(t, got["hashtags"], 1)
}

func TestErrorStatusHidesInternalErrors(t *testing.T) {
	code, msg := errorStatus(errBoom)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, msg, "boom")
}

const testSecret = "handlers-secret"

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID, "username": userID}).
		SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func newTestApp(t *testing.T, n int) *fiber.App {
	t.Helper()
	m := newWorld(t, n)
	trending := services.NewTrendingService(m, nil, 0)
	src := newPager(m)
	inbox := services.NewNotificationService(m, nil)
	api := NewAPI(APIDeps{
		Pager:         src,
		Posts:         src,
		Interactions:  services.NewInteractionService(m, inbox, trending),
		Notifications: inbox,
		Trending:      trending,
		PageSize:      10,
		WindowDays:    7,
	})
	app := fiber.New()
	api.Register(app, middleware.Auth(testSecret))
	return app
}

func TestAPIFeedPagination(t *testing.T) {
	app := newTestApp(t, 15)

	req := httptest.NewRequest("GET", "/api/feed/public", nil)
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := readAll(t, resp)
	page := decode[pageResponse](t, body)
	assert.Len(t, page.Posts, 10)
	assert.Equal(t, 10, page.NextOffset)
	assert.True(t, page.HasMore)

	req = httptest.NewRequest("GET", "/api/feed/public?offset=10", nil)
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	page = decode[pageResponse](t, readAll(t, resp))
	assert.Len(t, page.Posts, 5)
	assert.False(t, page.HasMore)
	assert.Equal(t, "p10", page.Posts[0].ID)
}

func TestAPIFeedRequiresAuthAndKnownType(t *testing.T) {
	app := newTestApp(t, 1)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/feed/public", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/feed/bogus", nil)
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestAPIWriteRoutes(t *testing.T) {
	app := newTestApp(t, 1)

	req := httptest.NewRequest("POST", "/api/posts", strings.NewReader(`{"content":"from http #api"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	req = httptest.NewRequest("POST", "/api/posts/p00/like", nil)
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	res := decode[services.ToggleResult](t, readAll(t, resp))
	assert.True(t, res.Active)

	req = httptest.NewRequest("POST", "/api/users/viewer/follow", nil)
	req.Header.Set("Authorization", bearerFor(t, "viewer"))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/trending?limit=2", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	tags := decode[map[string][]models.Hashtag](t, readAll(t, resp))
	names := []string{}
	for _, h := range tags["hashtags"] {
		names = append(names, h.Hashtag)
	}
	assert.ElementsMatch(t, []string{"#api", "#go"}, names)
}

func TestLocalNotifierTargetsRecipient(t *testing.T) {
	d := &deliveries{}
	err := LocalNotifier{Hub: d}.Notify(context.Background(), models.Notification{Type: models.NotifyFollow, RecipientID: "author"})
	require.NoError(t, err)
	require.Len(t, d.envs, 1)
	assert.Equal(t, "notification", d.envs[0].Action)
	assert.Equal(t, "author", d.envs[0].UserID)
}
