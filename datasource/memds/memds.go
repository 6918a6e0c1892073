// Package memds is an in-memory DataSource used by the engine's own tests
// and by cmd/floraengine's demo. It plays the role the teacher's
// discovery.TestAdapter plays for discovery's test suite: a minimal,
// fully-inspectable stand-in for a real backend driver so pipeline tests
// don't need a database.
package memds

import (
	"context"
	"sort"
	"sync"

	"github.com/florajs/flora-go/datasource"
)

// DataSource holds a fixed set of rows and answers Process by filtering,
// ordering, and paging them in memory. It implements equal, notEqual,
// greater, greaterOrEqual, less and lessOrEqual; like, between and
// notBetween are not evaluated, and a filter part using them matches every
// row.
type DataSource struct {
	mu       sync.Mutex
	rows     []datasource.Row
	Calls    []datasource.Query
}

// New creates a DataSource seeded with rows. Rows are copied so callers can
// keep mutating their own slice afterward.
func New(rows []datasource.Row) *DataSource {
	cp := make([]datasource.Row, len(rows))
	copy(cp, rows)
	return &DataSource{rows: cp}
}

func (d *DataSource) Prepare(_ context.Context, _ *datasource.Descriptor, _ []string) error {
	return nil
}

func (d *DataSource) Close(_ context.Context) error {
	return nil
}

func (d *DataSource) Process(_ context.Context, q datasource.Query) (datasource.Result, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, q)
	d.mu.Unlock()

	matched := make([]datasource.Row, 0, len(d.rows))
	for _, row := range d.rows {
		if rowMatches(row, q.Filter) {
			matched = append(matched, row)
		}
	}

	if len(q.Order) > 0 {
		sortRows(matched, q.Order)
	}

	total := len(matched)

	if q.Page != nil && q.Limit != nil {
		start := (*q.Page - 1) * (*q.Limit)
		if start < 0 {
			start = 0
		}
		if start > len(matched) {
			start = len(matched)
		}
		end := start + *q.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	} else if q.Limit != nil && len(matched) > *q.Limit {
		matched = matched[:*q.Limit]
	}

	return datasource.Result{Data: matched, TotalCount: &total}, nil
}

func rowMatches(row datasource.Row, filter datasource.Filter) bool {
	if len(filter) == 0 {
		return true
	}
	for _, and := range filter {
		if and.Empty {
			continue
		}
		if allPartsMatch(row, and.Parts) {
			return true
		}
	}
	return false
}

func allPartsMatch(row datasource.Row, parts []datasource.FilterPart) bool {
	for _, part := range parts {
		if part.Empty {
			return false
		}
		if !partMatches(row, part) {
			return false
		}
	}
	return true
}

// partMatches reads the row column named by the last segment of the part's
// attribute path; the rest of the path is ignored.
func partMatches(row datasource.Row, part datasource.FilterPart) bool {
	col := part.Attribute[len(part.Attribute)-1]
	actual := row[col]

	switch part.Operator {
	case datasource.OpEqual:
		return in(actual, part.Value)
	case datasource.OpNotEqual:
		return !in(actual, part.Value)
	case datasource.OpGreater:
		return compare(actual, part.Value) > 0
	case datasource.OpGreaterOrEqual:
		return compare(actual, part.Value) >= 0
	case datasource.OpLess:
		return compare(actual, part.Value) < 0
	case datasource.OpLessOrEqual:
		return compare(actual, part.Value) <= 0
	default:
		return true
	}
}

// in handles both a scalar Value and a Value that was substituted from a
// subFilter/parentKey fan-out (a []any of candidates), matching the
// executor's "expanded OR of values" substitution.
func in(actual, want any) bool {
	if list, ok := want.([]any); ok {
		for _, w := range list {
			if compare(actual, w) == 0 {
				return true
			}
		}
		return false
	}
	return compare(actual, want) == 0
}

func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := toStr(a), toStr(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

func sortRows(rows []datasource.Row, order []datasource.OrderClause) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			col := o.Attribute[len(o.Attribute)-1]
			c := compare(rows[i][col], rows[j][col])
			if c == 0 {
				continue
			}
			if o.Direction == datasource.OrderDesc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
