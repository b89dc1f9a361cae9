package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"xpsocial/pkg/envelope"
	"xpsocial/pkg/feed"
	"xpsocial/pkg/gateway"
	"xpsocial/pkg/models"

	"github.com/stretchr/testify/require"
)

type sent struct {
	kind   string // reply, error, event
	action string
	connID string
	code   int
	data   any
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) Reply(original envelope.Envelope, data any) {
	r.add(sent{kind: "reply", action: original.Action, connID: original.ConnID, data: data})
}

func (r *recorder) ReplyError(original envelope.Envelope, code int, msg string) {
	r.add(sent{kind: "error", action: original.Action, connID: original.ConnID, code: code, data: msg})
}

func (r *recorder) SendEvent(connID, action, _ string, data any) bool {
	r.add(sent{kind: "event", action: action, connID: connID, data: data})
	return true
}

func (r *recorder) add(s sent) {
	r.mu.Lock()
	r.out = append(r.out, s)
	r.mu.Unlock()
}

func (r *recorder) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.out
	r.out = nil
	return out
}

// last returns the final message of the given kind.
func last(t *testing.T, msgs []sent, kind string) sent {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].kind == kind {
			return msgs[i]
		}
	}
	t.Fatalf("no %s message in %+v", kind, msgs)
	return sent{}
}

type registry struct {
	actions     map[string]func(envelope.Envelope)
	disconnects []func(string)
}

func (r *registry) On(action string, fn func(envelope.Envelope)) {
	if r.actions == nil {
		r.actions = map[string]func(envelope.Envelope){}
	}
	r.actions[action] = fn
}

func (r *registry) OnDisconnect(fn func(string)) {
	r.disconnects = append(r.disconnects, fn)
}

func request(t *testing.T, action, connID, userID string, data any) envelope.Envelope {
	t.Helper()
	env, err := envelope.NewEvent(action, "test", data)
	require.NoError(t, err)
	env.ConnID = connID
	env.UserID = userID
	env.Username = userID
	return env
}

func newWorld(t *testing.T, n int) *gateway.Memory {
	t.Helper()
	m := gateway.NewMemory()
	gateway.RegisterDefaultProcedures(m)
	require.NoError(t, m.Seed(gateway.TableUsers,
		gateway.Row{"id": "viewer", "username": "viewer", "level": int64(1), "xp": int64(0)},
		gateway.Row{"id": "author", "username": "author", "level": int64(2), "xp": int64(150)},
	))
	base := time.Now()
	for i := 0; i < n; i++ {
		require.NoError(t, m.Seed(gateway.TableTweets, gateway.Row{
			"id":         fmt.Sprintf("p%02d", i),
			"user_id":    "author",
			"content":    fmt.Sprintf("post %d #go", i),
			"created_at": base.Add(-time.Duration(i) * time.Minute),
		}))
	}
	return m
}

func newPager(gw gateway.Gateway) *feed.Source {
	return feed.NewSource(gw, feed.NewAggregator(gw, 4))
}

type failingPager struct{ err error }

func (f failingPager) Page(context.Context, models.FeedConfig, string, int, int) (feed.Page, error) {
	return feed.Page{}, f.err
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return v
}

func readAll(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return b
}

var errBoom = errors.New("boom")
