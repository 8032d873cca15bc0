package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanon(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"snake case", "case_id", "caseid"},
		{"camel case", "caseId", "caseid"},
		{"pascal case", "CaseID", "caseid"},
		{"spaces", "Case ID", "caseid"},
		{"hyphens", "case-id", "caseid"},
		{"mixed", " User_Key ", "userkey"},
		{"tabs", "user\tkey", "userkey"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Canon(tt.input))
		})
	}
}

func TestColumnsCol(t *testing.T) {
	cols := Columns{"userkey": 2, "caseid": 0}

	// All aliases resolve to the same index
	for _, alias := range []string{"user_key", "userKey", "UserKey"} {
		i, ok := cols.Col(alias)
		assert.True(t, ok, alias)
		assert.Equal(t, 2, i, alias)
	}

	_, ok := cols.Col("missing")
	assert.False(t, ok)
}
