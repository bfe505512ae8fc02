// Package util parses the list query language shared by the ops endpoints.
//
// A query is a comma-separated list of conditions:
//
//	status|failed                  equality
//	end_time|isnull                null check
//	start_time|gte|2025-11-01      explicit operator
//	status|in|failed;running       list operators take ;-separated values
//
// In a URL the ; must be sent as %3B.
//
// An order is a comma-separated list of field|asc or field|desc.
package util

import (
	"fmt"
	"sort"
	"strings"
)

type QueryOperator string

const (
	OpEq        QueryOperator = "eq"
	OpNe        QueryOperator = "ne"
	OpGt        QueryOperator = "gt"
	OpGte       QueryOperator = "gte"
	OpLt        QueryOperator = "lt"
	OpLte       QueryOperator = "lte"
	OpIn        QueryOperator = "in"
	OpNin       QueryOperator = "nin"
	OpIsNull    QueryOperator = "isnull"
	OpIsNotNull QueryOperator = "isnotnull"
)

func (op QueryOperator) takesList() bool { return op == OpIn || op == OpNin }
func (op QueryOperator) takesNone() bool { return op == OpIsNull || op == OpIsNotNull }

var operators = map[QueryOperator]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNin: true, OpIsNull: true, OpIsNotNull: true,
}

// QueryFilter is one condition. Value is a string, a []string for list
// operators, or nil for null checks.
type QueryFilter struct {
	Field    string
	Operator QueryOperator
	Value    any
}

type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

type OrderClause struct {
	Field     string
	Direction OrderDirection
}

// ListFilter carries the parsed conditions, ordering and page of a list
// request. PerPage <= 0 means no limit.
type ListFilter struct {
	Filters []QueryFilter
	Order   []OrderClause
	Page    int
	PerPage int
}

// Fields is an allow-list of column names a caller may filter or sort on.
// A nil Fields allows every name.
type Fields map[string]bool

func NewFields(names ...string) Fields {
	f := make(Fields, len(names))
	for _, n := range names {
		f[n] = true
	}
	return f
}

func (f Fields) check(kind, name string) error {
	if f == nil || f[name] {
		return nil
	}
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return fmt.Errorf("invalid %s field: %s (valid fields: %s)", kind, name, strings.Join(names, ", "))
}

// ParseQuery parses a query string and checks every field against allowed.
func ParseQuery(query string, allowed Fields) ([]QueryFilter, error) {
	var filters []QueryFilter
	for _, cond := range splitTrimmed(query, ",") {
		f, err := parseCondition(cond)
		if err != nil {
			return nil, err
		}
		if err := allowed.check("query", f.Field); err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func parseCondition(cond string) (QueryFilter, error) {
	parts := strings.Split(cond, "|")
	if parts[0] == "" {
		return QueryFilter{}, fmt.Errorf("invalid query condition %q: missing field", cond)
	}

	switch len(parts) {
	case 2:
		op := QueryOperator(strings.ToLower(parts[1]))
		if op.takesNone() {
			return QueryFilter{Field: parts[0], Operator: op}, nil
		}
		return QueryFilter{Field: parts[0], Operator: OpEq, Value: parts[1]}, nil
	case 3:
		op := QueryOperator(strings.ToLower(parts[1]))
		if !operators[op] {
			return QueryFilter{}, fmt.Errorf("invalid operator: %s", parts[1])
		}
		switch {
		case op.takesNone():
			return QueryFilter{}, fmt.Errorf("operator %s takes no value", op)
		case op.takesList():
			values := splitTrimmed(parts[2], ";")
			if len(values) == 0 {
				return QueryFilter{}, fmt.Errorf("operator %s needs at least one value", op)
			}
			return QueryFilter{Field: parts[0], Operator: op, Value: values}, nil
		default:
			return QueryFilter{Field: parts[0], Operator: op, Value: parts[2]}, nil
		}
	}
	return QueryFilter{}, fmt.Errorf("invalid query condition %q (expected field|value or field|operator|value)", cond)
}

// ParseOrder parses an order string and checks every field against allowed.
func ParseOrder(order string, allowed Fields) ([]OrderClause, error) {
	var clauses []OrderClause
	for _, pair := range splitTrimmed(order, ",") {
		field, dir, ok := strings.Cut(pair, "|")
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid order %q (expected field|direction)", pair)
		}
		d := OrderDirection(strings.ToLower(dir))
		if d != OrderAsc && d != OrderDesc {
			return nil, fmt.Errorf("invalid order direction: %s (expected asc or desc)", dir)
		}
		if err := allowed.check("order", field); err != nil {
			return nil, err
		}
		clauses = append(clauses, OrderClause{Field: field, Direction: d})
	}
	return clauses, nil
}

func splitTrimmed(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
