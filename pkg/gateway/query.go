package gateway

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

var errUnfilteredDelete = errors.New("gateway: delete requires at least one filter")

func selectList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return strings.Join(quoted, ", ")
}

func buildWhere(table string, filters []Filter, args []any) (string, []any, error) {
	if len(filters) == 0 {
		return "", args, nil
	}

	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		if err := checkColumn(table, f.Column); err != nil {
			return "", nil, err
		}
		col := pq.QuoteIdentifier(f.Column)

		var op string
		switch f.Op {
		case OpIsNull:
			clauses = append(clauses, col+" IS NULL")
			continue
		case OpEq:
			op = "="
		case OpNeq:
			op = "<>"
		case OpGte:
			op = ">="
		case OpLte:
			op = "<="
		default:
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, f.Op)
		}

		args = append(args, f.Value)
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", col, op, len(args)))
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildSelect(table string, q Query) (string, []any, error) {
	cols, err := checkTable(table)
	if err != nil {
		return "", nil, err
	}

	where, args, err := buildWhere(table, q.Filters, nil)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s%s", selectList(cols), pq.QuoteIdentifier(table), where)

	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if err := checkColumn(table, o.Column); err != nil {
				return "", nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, pq.QuoteIdentifier(o.Column)+" "+dir)
		}
		sb.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	return sb.String(), args, nil
}

func buildCount(table string, filters []Filter) (string, []any, error) {
	if _, err := checkTable(table); err != nil {
		return "", nil, err
	}
	where, args, err := buildWhere(table, filters, nil)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM " + pq.QuoteIdentifier(table) + where, args, nil
}

func buildInsert(table string, values Row) (string, []any, error) {
	cols, err := checkTable(table)
	if err != nil {
		return "", nil, err
	}
	if len(values) == 0 {
		return "", nil, fmt.Errorf("gateway: insert into %s without values", table)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if err := checkColumn(table, k); err != nil {
			return "", nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, len(keys))
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		args[i] = values[k]
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		pq.QuoteIdentifier(table), selectList(keys), strings.Join(placeholders, ", "), selectList(cols))
	return query, args, nil
}

func buildDelete(table string, filters []Filter) (string, []any, error) {
	if _, err := checkTable(table); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, errUnfilteredDelete
	}
	where, args, err := buildWhere(table, filters, nil)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + pq.QuoteIdentifier(table) + where, args, nil
}

// buildCall uses named notation so optional trailing parameters keep their
// database defaults. String slices are sent as Postgres arrays.
func buildCall(name string, params Params) (string, []any, error) {
	names, err := checkProcedure(name, params)
	if err != nil {
		return "", nil, err
	}

	var args []any
	var parts []string
	for _, n := range names {
		v, ok := params[n]
		if !ok {
			continue
		}
		if list, ok := v.([]string); ok {
			v = pq.Array(list)
		}
		args = append(args, v)
		parts = append(parts, fmt.Sprintf("%s => $%d", n, len(args)))
	}

	return fmt.Sprintf("SELECT * FROM %s(%s)", pq.QuoteIdentifier(name), strings.Join(parts, ", ")), args, nil
}
