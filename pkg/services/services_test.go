package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"xpsocial/pkg/gateway"
	"xpsocial/pkg/models"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

var (
	alice = models.Viewer{ID: "alice", Username: "alice"}
	bob   = models.Viewer{ID: "bob", Username: "bob"}
)

func newWorld(t *testing.T) *gateway.Memory {
	t.Helper()
	m := gateway.NewMemory()
	gateway.RegisterDefaultProcedures(m)
	require.NoError(t, m.Seed(gateway.TableUsers,
		gateway.Row{"id": "alice", "username": "alice", "level": int64(1), "xp": int64(0)},
		gateway.Row{"id": "bob", "username": "bob", "level": int64(1), "xp": int64(0)},
	))
	require.NoError(t, m.Seed(gateway.TableTweets,
		gateway.Row{"id": "t1", "user_id": "bob", "content": "hello #go", "created_at": m.Now()},
	))
	return m
}

func userXP(t *testing.T, m *gateway.Memory, id string) int {
	t.Helper()
	rows, err := m.FetchRows(context.Background(), gateway.TableUsers, gateway.Query{
		Filters: []gateway.Filter{gateway.Eq("id", id)},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	xp, _ := models.Int(rows[0]["xp"])
	return xp
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.sent...)
}

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	gets    int
	hits    int
}

func newMemCache() *memCache { return &memCache{entries: map[string][]byte{}} }

func (c *memCache) GetProto(_ context.Context, key string, dest proto.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	b, ok := c.entries[key]
	if !ok {
		return false
	}
	c.hits++
	return proto.Unmarshal(b, dest) == nil
}

func (c *memCache) SetProto(_ context.Context, key string, msg proto.Message, _ time.Duration) {
	b, err := proto.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.entries[key] = b
	c.mu.Unlock()
}

func (c *memCache) DelPattern(_ context.Context, pattern string) {
	prefix := strings.TrimSuffix(pattern, "*")
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// countingGateway counts procedure calls and can fail award_xp.
type countingGateway struct {
	gateway.Gateway
	mu       sync.Mutex
	procs    map[string]int
	failProc string
}

func (g *countingGateway) InvokeProcedure(ctx context.Context, name string, params gateway.Params) ([]gateway.Row, error) {
	g.mu.Lock()
	if g.procs == nil {
		g.procs = map[string]int{}
	}
	g.procs[name]++
	fail := name == g.failProc
	g.mu.Unlock()
	if fail {
		return nil, errors.New("procedure unavailable")
	}
	return g.Gateway.InvokeProcedure(ctx, name, params)
}

func (g *countingGateway) count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.procs[name]
}
