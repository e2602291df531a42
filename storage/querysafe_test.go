package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		userID  string
		wantErr string
	}{
		{
			name:   "simple select",
			sql:    "SELECT SUM(amount) FROM finance_records WHERE user_id = '1'",
			userID: "1",
		},
		{
			name:   "trailing semicolon ok",
			sql:    "SELECT * FROM work_records WHERE user_id = '7';",
			userID: "7",
		},
		{
			name:   "timestamp columns do not trip the keyword check",
			sql:    "SELECT created_at, updated_at FROM work_records WHERE user_id = '1' ORDER BY created_at",
			userID: "1",
		},
		{
			name:    "empty",
			sql:     "   ",
			wantErr: "empty query",
		},
		{
			name:    "not a select",
			sql:     "UPDATE finance_records SET amount = 0",
			wantErr: "only SELECT",
		},
		{
			name:    "embedded delete",
			sql:     "SELECT * FROM t WHERE x = 1; DELETE FROM t",
			wantErr: "forbidden keyword",
		},
		{
			name:    "comment injection",
			sql:     "SELECT * FROM t -- hidden",
			wantErr: "forbidden keyword",
		},
		{
			name:    "pragma",
			sql:     "SELECT * FROM t WHERE PRAGMA",
			wantErr: "forbidden keyword",
		},
		{
			name:    "multiple statements",
			sql:     "SELECT 1; SELECT 2",
			userID:  "1",
			wantErr: "multiple statements",
		},
		{
			name:    "not user scoped",
			sql:     "SELECT * FROM finance_records",
			userID:  "42",
			wantErr: "not scoped",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuery(tt.sql, tt.userID)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, "finance_records", SanitizeIdentifier("finance_records"))
	assert.Equal(t, "usersDROP", SanitizeIdentifier("users; DROP"))
	assert.Equal(t, "col1", SanitizeIdentifier(`"col1"`))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t,
		"SELECT * FROM t WHERE user_id = '1' LIMIT 100",
		ClampLimit("SELECT * FROM t WHERE user_id = '1';", 100),
	)
	// Existing LIMIT is preserved
	sql := "SELECT * FROM t LIMIT 5"
	assert.Equal(t, sql, ClampLimit(sql, 100))
}
