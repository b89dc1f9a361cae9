package gateway

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres serves the gateway from a database/sql pool opened with lib/pq.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) FetchRows(ctx context.Context, table string, q Query) ([]Row, error) {
	query, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	return p.queryRows(ctx, query, args)
}

func (p *Postgres) CountRows(ctx context.Context, table string, filters ...Filter) (int, error) {
	query, args, err := buildCount(table, filters)
	if err != nil {
		return 0, err
	}
	var n int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (p *Postgres) InvokeProcedure(ctx context.Context, name string, params Params) ([]Row, error) {
	query, args, err := buildCall(name, params)
	if err != nil {
		return nil, err
	}
	return p.queryRows(ctx, query, args)
}

func (p *Postgres) InsertRow(ctx context.Context, table string, values Row) (Row, error) {
	query, args, err := buildInsert(table, values)
	if err != nil {
		return nil, err
	}
	rows, err := p.queryRows(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	return rows[0], nil
}

func (p *Postgres) DeleteRow(ctx context.Context, table string, filters ...Filter) (int, error) {
	query, args, err := buildDelete(table, filters)
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *Postgres) queryRows(ctx context.Context, query string, args []any) ([]Row, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			// lib/pq hands back uuid and numeric columns as raw bytes.
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
