package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "benchmarks",
		Columns:      []string{"naics_code", "sde_multiple_max"},
		ConflictKeys: []string{"naics_code"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:        "benchmarks",
		ConflictKeys: []string{"naics_code"},
	}, [][]any{{"722511", 3.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(nil, nil, UpsertConfig{
		Table:   "benchmarks",
		Columns: []string{"naics_code", "sde_multiple_max"},
	}, [][]any{{"722511", 3.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"benchmarks", `"benchmarks"`},
		{"reference.benchmarks", `"reference"."benchmarks"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"naics_code", "sde_multiple_max", "source_year"})
	assert.Equal(t, `"naics_code", "sde_multiple_max", "source_year"`, result)
}
