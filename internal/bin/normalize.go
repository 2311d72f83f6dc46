package bin

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize turns an item label into its store key:
// 1. Trim leading/trailing whitespace
// 2. Unicode case fold
// 3. Collapse internal whitespace to single spaces
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	// A Caser holds state, so each call gets its own.
	s = cases.Fold().String(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}
