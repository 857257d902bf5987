package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Filter narrows a search to rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// Query is one search request: free-text-free structured filters, plus a
// keyset cursor (the value of the previous page's last row on SortColumn)
// for pagination. An empty Cursor requests the first page.
type Query struct {
	Filters []Filter
	Cursor  string
	Limit   int
}

// Result is one matched row: its id and JSON-encoded field payload.
type Result struct {
	ID       int64
	SortKey  string
	Fields   string
}

// Response is a search engine reply: the page of results plus the cursor
// to pass as the next Query's Cursor. NextCursor is set and HasMore is true
// whenever the page came back full, so a full last page is followed by one
// empty page; both are empty/false when the page came back short.
type Response struct {
	Results    []Result
	NextCursor string
	HasMore    bool
	Took       time.Duration
}

// Engine executes Queries against one DatasetConfig's table using keyset
// pagination on SortColumn, with its own lightweight EngineStats tracker —
// the SQL-backed analog of the teacher's Engine{index, queryProcessor,
// resultFilter, stats}.
type Engine struct {
	pool    *pgxpool.Pool
	dataset DatasetConfig
	stats   *EngineStats
}

// NewEngine builds an Engine bound to one dataset.
func NewEngine(pool *pgxpool.Pool, dataset DatasetConfig) *Engine {
	return &Engine{pool: pool, dataset: dataset, stats: NewEngineStats()}
}

// Search runs q against the bound dataset. Filters are rejected if their
// column isn't in the dataset's allow-list, preventing unvalidated
// column names from reaching SQL text.
func (e *Engine) Search(ctx context.Context, q Query) (Response, error) {
	start := time.Now()
	e.stats.IncrementQuery()

	limit := q.Limit
	if limit <= 0 {
		limit = e.dataset.PageSize
	}

	for _, f := range q.Filters {
		if !e.allowsColumn(f.Column) {
			return Response{}, fmt.Errorf("search: column %q is not filterable on dataset %q", f.Column, e.dataset.Name)
		}
	}

	sqlText, args := e.buildQuery(q, limit)

	rows, err := e.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return Response{}, fmt.Errorf("search: executing query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.SortKey, &r.Fields); err != nil {
			return Response{}, fmt.Errorf("search: scanning row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return Response{}, fmt.Errorf("search: iterating rows: %w", err)
	}

	resp := Response{Results: results, Took: time.Since(start)}
	if len(results) == limit {
		resp.HasMore = true
		resp.NextCursor = results[len(results)-1].SortKey
	}

	e.stats.UpdateLatency(resp.Took)
	return resp, nil
}

func (e *Engine) allowsColumn(col string) bool {
	for _, c := range e.dataset.FilterColumns {
		if c == col {
			return true
		}
	}
	return false
}

// buildQuery renders a parameterized keyset query: every row whose
// SortColumn is strictly greater than the cursor, matching filters,
// ordered by SortColumn, capped at limit — the standard "next page" shape
// for keyset pagination.
func (e *Engine) buildQuery(q Query, limit int) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(q.Filters)+2)

	fmt.Fprintf(&b, "SELECT id, %s::text, fields::text FROM %s WHERE 1=1", e.dataset.SortColumn, e.dataset.Table)

	if q.Cursor != "" {
		args = append(args, q.Cursor)
		fmt.Fprintf(&b, " AND %s > $%d", e.dataset.SortColumn, len(args))
	}
	for _, f := range q.Filters {
		args = append(args, f.Value)
		fmt.Fprintf(&b, " AND %s = $%d", f.Column, len(args))
	}

	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY %s ASC LIMIT $%d", e.dataset.SortColumn, len(args))

	return b.String(), args
}
