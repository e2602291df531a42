package storage

import (
	"fmt"
	"regexp"
	"strings"
)

// dangerousKeyword matches tokens that must never appear in a model-generated
// query. Word boundaries keep column names like created_at from tripping the
// CREATE check. The list errs on the side of rejection; a false positive
// costs one failed query, a false negative costs data.
var dangerousKeyword = regexp.MustCompile(
	`(?i)\b(DROP|DELETE|TRUNCATE|ALTER|CREATE|INSERT|UPDATE|EXEC|EXECUTE|SCRIPT|PRAGMA|ATTACH|VACUUM|GRANT|REVOKE)\b|\b(?i:XP|SP)_`)

// commentMarkers hide statement tails from naive inspection.
var commentMarkers = []string{"--", "/*", "*/"}

// ValidateQuery checks that a model-generated SQL statement is a single
// read-only SELECT scoped to the given user. Plugins must pass every
// generated query through this check before execution.
func ValidateQuery(sql, userID string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("only SELECT statements are allowed")
	}

	if kw := dangerousKeyword.FindString(trimmed); kw != "" {
		return fmt.Errorf("query contains forbidden keyword: %s", strings.ToUpper(kw))
	}
	for _, marker := range commentMarkers {
		if strings.Contains(trimmed, marker) {
			return fmt.Errorf("query contains forbidden keyword: %s", marker)
		}
	}

	// Reject multiple statements; a single trailing semicolon is tolerated.
	if i := strings.Index(trimmed, ";"); i >= 0 && i != len(trimmed)-1 {
		return fmt.Errorf("multiple statements detected")
	}

	// Every generated query must be scoped to the requesting user.
	if userID != "" && !strings.Contains(trimmed, userID) {
		return fmt.Errorf("query is not scoped to the requesting user")
	}

	return nil
}

// SanitizeIdentifier strips anything that is not alphanumeric or underscore
// from a SQL identifier.
func SanitizeIdentifier(identifier string) string {
	var b strings.Builder
	for _, c := range identifier {
		if c == '_' ||
			(c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// ClampLimit appends a LIMIT clause when the query has none, bounding the
// rows a generated query can pull back.
func ClampLimit(sql string, max int) string {
	if strings.Contains(strings.ToUpper(sql), "LIMIT") {
		return sql
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimSuffix(strings.TrimSpace(sql), ";"), max)
}
