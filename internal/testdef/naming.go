package testdef

import (
	"strings"
	"unicode"
)

// RouteName converts a Go method name into the snake_case name used in test
// routes, e.g. "IsHTTPReachable" becomes "is_http_reachable".
func RouteName(method string) string {
	runes := []rune(method)
	var b strings.Builder
	b.Grow(len(runes) + 4)

	for i, r := range runes {
		if !unicode.IsUpper(r) {
			b.WriteRune(r)
			continue
		}
		if i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// parameterName lower-cases the leading word of a field name: "Count" becomes
// "count", "URLPath" becomes "urlPath" and "ID" becomes "id".
func parameterName(field string) string {
	runes := []rune(field)
	for i := range runes {
		if !unicode.IsUpper(runes[i]) {
			break
		}
		if i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			break
		}
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}
