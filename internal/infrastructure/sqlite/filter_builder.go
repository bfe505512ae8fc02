package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/vsisnet/vsispanel-sub003/internal/api/util"
)

// datetimeFields defines fields that contain datetime values and need normalization
var datetimeFields = map[string]bool{
	"start_time":   true,
	"end_time":     true,
	"started_at":   true,
	"completed_at": true,
	"last_run_at":  true,
	"next_run_at":  true,
	"created_at":   true,
	"updated_at":   true,
	"deleted_at":   true,
}

// isDatetimeField checks if a field is a datetime field
func isDatetimeField(field string) bool {
	return datetimeFields[field]
}

// normalizeDateTime rewrites user supplied datetimes into the stored
// fixed-width UTC layout so string comparison in SQLite stays chronological.
// Input like "2025-11-24T00:00" or "2025-11-24" is accepted.
func normalizeDateTime(value string) string {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return FormatTime(t)
		}
	}

	// If parsing fails, return original value
	return value
}

var comparisonOperators = map[util.QueryOperator]string{
	util.OpEq:  "=",
	util.OpNe:  "!=",
	util.OpGt:  ">",
	util.OpGte: ">=",
	util.OpLt:  "<",
	util.OpLte: "<=",
}

// BuildFilterClause builds a SQL WHERE clause from a QueryFilter. Field names
// must already be validated against an allow-list by the caller.
func BuildFilterClause(f util.QueryFilter) (string, []any) {
	value := f.Value
	if isDatetimeField(f.Field) {
		if strVal, ok := value.(string); ok {
			value = normalizeDateTime(strVal)
		}
	}

	if op, ok := comparisonOperators[f.Operator]; ok {
		return fmt.Sprintf("%s %s ?", f.Field, op), []any{value}
	}

	switch f.Operator {
	case util.OpIsNull:
		return fmt.Sprintf("%s IS NULL", f.Field), nil
	case util.OpIsNotNull:
		return fmt.Sprintf("%s IS NOT NULL", f.Field), nil
	case util.OpIn, util.OpNin:
		values, ok := f.Value.([]string)
		if !ok || len(values) == 0 {
			return "", nil
		}
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		keyword := "IN"
		if f.Operator == util.OpNin {
			keyword = "NOT IN"
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return fmt.Sprintf("%s %s (%s)", f.Field, keyword, placeholders), args
	default:
		return "", nil
	}
}

// ApplyFilters applies QueryFilters to a query and returns the modified query and args
func ApplyFilters(query string, args []any, filters []util.QueryFilter) (string, []any) {
	for _, f := range filters {
		clause, filterArgs := BuildFilterClause(f)
		if clause != "" {
			query += " AND " + clause
			args = append(args, filterArgs...)
		}
	}
	return query, args
}

// ApplyOrdering applies OrderClauses to a query
func ApplyOrdering(query string, orders []util.OrderClause, defaultOrder string) string {
	if len(orders) == 0 {
		return query + " ORDER BY " + defaultOrder
	}
	clauses := make([]string, 0, len(orders))
	for _, o := range orders {
		direction := "ASC"
		if o.Direction == util.OrderDesc {
			direction = "DESC"
		}
		clauses = append(clauses, o.Field+" "+direction)
	}
	return query + " ORDER BY " + strings.Join(clauses, ", ")
}

// ApplyPagination applies page/perPage to a query
func ApplyPagination(query string, args []any, page, perPage int) (string, []any) {
	if perPage <= 0 {
		return query, args
	}
	query += " LIMIT ?"
	args = append(args, perPage)
	if page > 1 {
		query += " OFFSET ?"
		args = append(args, (page-1)*perPage)
	}
	return query, args
}

// applyListFilter applies filters, ordering and pagination in one go.
func applyListFilter(query string, args []any, filter util.ListFilter, defaultOrder string) (string, []any) {
	query, args = ApplyFilters(query, args, filter.Filters)
	query = ApplyOrdering(query, filter.Order, defaultOrder)
	return ApplyPagination(query, args, filter.Page, filter.PerPage)
}
