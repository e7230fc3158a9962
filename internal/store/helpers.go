// ABOUTME: Small SQL helpers shared by the search queries.
// ABOUTME: Keeps LIKE patterns literal when user input contains wildcards.

package store

import "strings"

// escapeSQLLike escapes %, _ and \ in a user-supplied search term so the
// term matches literally inside a LIKE pattern. Backslash goes first so the
// added escapes are not escaped again.
func escapeSQLLike(pattern string) string {
	pattern = strings.ReplaceAll(pattern, "\\", "\\\\")
	pattern = strings.ReplaceAll(pattern, "%", "\\%")
	pattern = strings.ReplaceAll(pattern, "_", "\\_")
	return pattern
}
