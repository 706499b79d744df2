package app

import (
	"regexp"
	"strings"
)

const maxTracedQueryLength = 512

var (
	queryWhitespaceRegex = regexp.MustCompile(`\s+`)
	// IN (?, ?, ...) and ($1, $2, ...) lists grow with batch size.
	placeholderListRegex = regexp.MustCompile(`(\?|\$\d+)(\s*,\s*(\?|\$\d+)){3,}`)
)

// formatDBQueryForTrace collapses whitespace and variadic placeholder lists so
// batched queue queries share one span name regardless of batch size.
func formatDBQueryForTrace(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	normalized := queryWhitespaceRegex.ReplaceAllString(query, " ")
	normalized = placeholderListRegex.ReplaceAllString(normalized, "$1, ...")
	if len(normalized) <= maxTracedQueryLength {
		return normalized
	}

	return normalized[:maxTracedQueryLength] + "..."
}
