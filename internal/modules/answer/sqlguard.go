package answer

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError marks SQL that failed the safety gate. Such text is never
// handed to the executor.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "sql validation failed: " + e.Reason
}

var forbiddenKeywords = []string{
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE",
	"TRUNCATE", "GRANT", "REVOKE",
}

var (
	forbiddenRe = buildForbiddenRe()
	setRoleRe   = regexp.MustCompile(`(?i)\bSET\s+ROLE\b`)
	selectRe    = regexp.MustCompile(`(?is)^\s*(WITH\b.*?\bSELECT\b|SELECT\b)`)
)

func buildForbiddenRe() *regexp.Regexp {
	parts := make([]string, len(forbiddenKeywords))
	for i, kw := range forbiddenKeywords {
		parts[i] = regexp.QuoteMeta(kw)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
}

// ValidateSQL enforces the read-only contract: single statement, SELECT or
// WITH...SELECT shaped, no data- or schema-mutating keyword anywhere. Matching
// is whole-word so column names like "created_at" never trip the gate.
func ValidateSQL(sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &ValidationError{Reason: "empty statement"}
	}

	// At most one trailing semicolon; anything after an interior one is a
	// second statement.
	body := strings.TrimSuffix(trimmed, ";")
	if strings.Contains(body, ";") {
		return &ValidationError{Reason: "multiple statements are not allowed"}
	}

	if m := forbiddenRe.FindString(body); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("forbidden keyword %q", strings.ToUpper(m))}
	}
	if setRoleRe.MatchString(body) {
		return &ValidationError{Reason: `forbidden keyword "SET ROLE"`}
	}

	if !selectRe.MatchString(body) {
		return &ValidationError{Reason: "only SELECT statements are allowed"}
	}
	return nil
}
