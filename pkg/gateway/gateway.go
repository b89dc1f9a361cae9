// Package gateway is the data access layer the feed pipeline talks to. It exposes
// a small table/procedure capability set so callers never build SQL themselves.
package gateway

import (
	"context"
	"errors"
)

var (
	ErrUnknownTable     = errors.New("gateway: unknown table")
	ErrUnknownColumn    = errors.New("gateway: unknown column")
	ErrUnknownProcedure = errors.New("gateway: unknown procedure")
	ErrUnsupportedOp    = errors.New("gateway: unsupported filter operator")
)

// Row is one loosely typed result row keyed by column name.
type Row map[string]any

// Params are named procedure arguments.
type Params map[string]any

type Op string

const (
	OpEq     Op = "eq"
	OpNeq    Op = "neq"
	OpGte    Op = "gte"
	OpLte    Op = "lte"
	OpIsNull Op = "is_null"
)

type Filter struct {
	Column string
	Op     Op
	Value  any
}

func Eq(column string, value any) Filter  { return Filter{Column: column, Op: OpEq, Value: value} }
func Neq(column string, value any) Filter { return Filter{Column: column, Op: OpNeq, Value: value} }
func Gte(column string, value any) Filter { return Filter{Column: column, Op: OpGte, Value: value} }
func Lte(column string, value any) Filter { return Filter{Column: column, Op: OpLte, Value: value} }
func IsNull(column string) Filter         { return Filter{Column: column, Op: OpIsNull} }

type Order struct {
	Column string
	Desc   bool
}

// Query describes a FetchRows call. Limit <= 0 means no limit.
type Query struct {
	Filters []Filter
	Order   []Order
	Offset  int
	Limit   int
}

type Gateway interface {
	FetchRows(ctx context.Context, table string, q Query) ([]Row, error)
	CountRows(ctx context.Context, table string, filters ...Filter) (int, error)
	InvokeProcedure(ctx context.Context, name string, params Params) ([]Row, error)
	InsertRow(ctx context.Context, table string, values Row) (Row, error)
	DeleteRow(ctx context.Context, table string, filters ...Filter) (int, error)
}

// Exists reports whether at least one row of table matches all filters.
func Exists(ctx context.Context, g Gateway, table string, filters ...Filter) (bool, error) {
	rows, err := g.FetchRows(ctx, table, Query{Filters: filters, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
