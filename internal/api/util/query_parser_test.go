package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	allowed := NewFields("status", "type", "end_time", "start_time")

	filters, err := ParseQuery("status|in|failed;running, type|backup,end_time|isnull,start_time|gte|2025-11-01", allowed)
	require.NoError(t, err)
	assert.Equal(t, []QueryFilter{
		{Field: "status", Operator: OpIn, Value: []string{"failed", "running"}},
		{Field: "type", Operator: OpEq, Value: "backup"},
		{Field: "end_time", Operator: OpIsNull},
		{Field: "start_time", Operator: OpGte, Value: "2025-11-01"},
	}, filters)

	filters, err = ParseQuery("", allowed)
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestParseQueryErrors(t *testing.T) {
	allowed := NewFields("status")

	for _, q := range []string{
		"status",
		"status|like|x",
		"status|isnull|x",
		"status|in|;",
		"|failed",
		"a|b|c|d",
		"command|backup",
	} {
		_, err := ParseQuery(q, allowed)
		assert.Error(t, err, q)
	}
}

func TestParseOrder(t *testing.T) {
	clauses, err := ParseOrder("start_time|DESC,status|asc", NewFields("start_time", "status"))
	require.NoError(t, err)
	assert.Equal(t, []OrderClause{
		{Field: "start_time", Direction: OrderDesc},
		{Field: "status", Direction: OrderAsc},
	}, clauses)

	_, err = ParseOrder("start_time", nil)
	assert.Error(t, err)
	_, err = ParseOrder("start_time|up", nil)
	assert.Error(t, err)
	_, err = ParseOrder("pid|asc", NewFields("status"))
	assert.ErrorContains(t, err, "valid fields: status")
}
