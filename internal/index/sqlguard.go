package index

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/ansuz/internal/apperr"
)

// Sandbox limits. Nesting counts SELECT keywords, so a query with up to two
// subqueries passes; joins are capped separately.
const (
	maxSelectCount = 3
	maxJoinCount   = 5
)

var (
	selectOnlyRe  = regexp.MustCompile(`(?i)^\s*select\b`)
	systemTableRe = regexp.MustCompile(`(?i)\bsqlite_\w+`)
	selectWordRe  = regexp.MustCompile(`(?i)\bselect\b`)
	joinWordRe    = regexp.MustCompile(`(?i)\bjoin\b`)

	// Any statement keyword that could mutate data or schema, attach files,
	// or control transactions. Matched as whole words.
	forbiddenKeywords = []string{
		"drop", "delete", "insert", "update", "alter", "create",
		"attach", "detach", "grant", "revoke", "commit", "rollback",
		"truncate", "replace", "exec", "execute", "pragma",
	}

	forbiddenRes = compileForbidden()
)

func compileForbidden() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		out[kw] = regexp.MustCompile(`(?i)\b` + kw + `\b`)
	}
	return out
}

// ValidateSandboxSQL checks a raw query against the sandbox rules and
// returns a *apperr.SecurityError naming the violated rule, or nil. It is a
// whitelist-then-blacklist design: only SELECT statements enter at all, then
// every mutating keyword, catalog reference, comment marker, and excessive
// nesting is rejected. The database handle used for sandbox queries is
// read-only regardless; this validator exists to fail fast with a named
// reason instead of a driver error.
func ValidateSandboxSQL(query string) *apperr.SecurityError {
	if !selectOnlyRe.MatchString(query) {
		return &apperr.SecurityError{Rule: "select-only", Detail: "only SELECT statements are allowed"}
	}
	for _, kw := range forbiddenKeywords {
		if forbiddenRes[kw].MatchString(query) {
			return &apperr.SecurityError{
				Rule:   "forbidden-keyword:" + kw,
				Detail: fmt.Sprintf("keyword %q is not allowed", strings.ToUpper(kw)),
			}
		}
	}
	if systemTableRe.MatchString(query) {
		return &apperr.SecurityError{Rule: "system-table", Detail: "sqlite_* catalog tables are not accessible"}
	}
	if strings.Contains(query, "--") || strings.Contains(query, "/*") || strings.Contains(query, "*/") {
		return &apperr.SecurityError{Rule: "comment-marker", Detail: "SQL comments are not allowed"}
	}
	if n := len(selectWordRe.FindAllStringIndex(query, -1)); n > maxSelectCount {
		return &apperr.SecurityError{
			Rule:   "nested-select-limit",
			Detail: fmt.Sprintf("%d SELECTs exceed the limit of %d", n, maxSelectCount),
		}
	}
	if n := len(joinWordRe.FindAllStringIndex(query, -1)); n > maxJoinCount {
		return &apperr.SecurityError{
			Rule:   "join-limit",
			Detail: fmt.Sprintf("%d JOINs exceed the limit of %d", n, maxJoinCount),
		}
	}
	return nil
}
