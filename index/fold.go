package index

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Fold is the case-insensitive form of a code token or query term.
func Fold(token string) string {
	return strings.ToLower(norm.NFC.String(token))
}
