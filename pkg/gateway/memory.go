package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProcedureFunc implements a stored procedure for the in-memory gateway. It runs
// with the gateway lock released and may call back into m.
type ProcedureFunc func(ctx context.Context, m *Memory, params Params) ([]Row, error)

// Memory is an in-process gateway used by tests and by the "memory" driver for
// local development. The tweet_feed view is derived from tweets and users on read.
type Memory struct {
	mu     sync.RWMutex
	tables map[string][]Row
	procs  map[string]ProcedureFunc
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]Row),
		procs:  make(map[string]ProcedureFunc),
		now:    time.Now,
	}
}

// SetClock overrides the clock used for default created_at values.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now()
}

func (m *Memory) Register(name string, fn ProcedureFunc) {
	m.mu.Lock()
	m.procs[name] = fn
	m.mu.Unlock()
}

// Seed inserts rows as-is, filling id and created_at when missing.
func (m *Memory) Seed(table string, rows ...Row) error {
	for _, r := range rows {
		if _, err := m.InsertRow(context.Background(), table, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) FetchRows(ctx context.Context, table string, q Query) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(table, q); err != nil {
		return nil, err
	}

	m.mu.RLock()
	matched, err := m.selectLocked(table, q.Filters)
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return []Row{}, nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (m *Memory) CountRows(ctx context.Context, table string, filters ...Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateQuery(table, Query{Filters: filters}); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, err := m.selectLocked(table, filters)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (m *Memory) InvokeProcedure(ctx context.Context, name string, params Params) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := checkProcedure(name, params); err != nil {
		return nil, err
	}

	m.mu.RLock()
	fn, ok := m.procs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrUnknownProcedure, name)
	}
	return fn(ctx, m, params)
}

func (m *Memory) InsertRow(ctx context.Context, table string, values Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if table == TableTweetFeed {
		return nil, fmt.Errorf("gateway: %s is read-only", table)
	}
	cols, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	for k := range values {
		if err := checkColumn(table, k); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row := make(Row, len(cols))
	for _, c := range cols {
		row[c] = nil
	}
	for k, v := range values {
		row[k] = v
	}
	if row["id"] == nil {
		row["id"] = uuid.NewString()
	}
	if row["created_at"] == nil {
		row["created_at"] = m.now()
	}

	m.tables[table] = append(m.tables[table], row)
	return copyRow(row), nil
}

func (m *Memory) DeleteRow(ctx context.Context, table string, filters ...Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(filters) == 0 {
		return 0, errUnfilteredDelete
	}
	if err := validateQuery(table, Query{Filters: filters}); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.tables[table][:0]
	deleted := 0
	for _, r := range m.tables[table] {
		if matches(r, filters) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.tables[table] = kept
	return deleted, nil
}

// Update applies fn to every row matching filters. Used by in-memory procedures.
func (m *Memory) Update(table string, fn func(Row), filters ...Filter) (int, error) {
	if err := validateQuery(table, Query{Filters: filters}); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, r := range m.tables[table] {
		if matches(r, filters) {
			fn(r)
			n++
		}
	}
	return n, nil
}

func (m *Memory) selectLocked(table string, filters []Filter) ([]Row, error) {
	source := m.tables[table]
	if table == TableTweetFeed {
		source = m.tweetFeedLocked()
	}

	out := []Row{}
	for _, r := range source {
		if matches(r, filters) {
			out = append(out, copyRow(r))
		}
	}
	return out, nil
}

func (m *Memory) tweetFeedLocked() []Row {
	users := make(map[any]Row, len(m.tables[TableUsers]))
	for _, u := range m.tables[TableUsers] {
		users[u["id"]] = u
	}

	rows := make([]Row, 0, len(m.tables[TableTweets]))
	for _, t := range m.tables[TableTweets] {
		u, ok := users[t["user_id"]]
		if !ok {
			continue
		}
		r := copyRow(t)
		r["author_username"] = u["username"]
		r["author_display_name"] = u["display_name"]
		r["author_avatar_url"] = u["avatar_url"]
		r["author_level"] = u["level"]
		r["author_xp"] = u["xp"]
		rows = append(rows, r)
	}
	return rows
}

func validateQuery(table string, q Query) error {
	if _, err := checkTable(table); err != nil {
		return err
	}
	for _, f := range q.Filters {
		if err := checkColumn(table, f.Column); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpNeq, OpGte, OpLte, OpIsNull:
		default:
			return fmt.Errorf("%w: %q", ErrUnsupportedOp, f.Op)
		}
	}
	for _, o := range q.Order {
		if err := checkColumn(table, o.Column); err != nil {
			return err
		}
	}
	return nil
}

func matches(r Row, filters []Filter) bool {
	for _, f := range filters {
		v := r[f.Column]
		switch f.Op {
		case OpIsNull:
			if v != nil {
				return false
			}
		case OpEq:
			if v == nil || compare(v, f.Value) != 0 {
				return false
			}
		case OpNeq:
			if v == nil || compare(v, f.Value) == 0 {
				return false
			}
		case OpGte:
			if v == nil || compare(v, f.Value) < 0 {
				return false
			}
		case OpLte:
			if v == nil || compare(v, f.Value) > 0 {
				return false
			}
		}
	}
	return true
}

// compare orders values of the same kind. Numbers compare numerically, times
// chronologically, everything else by its string form.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}

	sa, sb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func copyRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}
