package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 128
	maxAddrLen   = 64
)

// logSafe drops control characters other than tab and keeps at most limit runes, so request
// data cannot split or forge structured log lines.
func logSafe(value string, limit int) string {
	var b strings.Builder
	kept := 0
	for _, r := range value {
		if kept == limit {
			break
		}
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

func routeField(route string) string {
	if route == "" {
		return "/"
	}
	return logSafe(route, maxRouteLen)
}
