package connectors

import (
	"strconv"
	"strings"
)

// Helpers for digging typed values out of the loosely-typed records the page
// scripts return.

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	items := asList(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// asCount parses interaction counters, which arrive as JSON numbers or as
// display strings like "1234", "1.2万" or "3.4w".
func asCount(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0
		}
		multiplier := 1.0
		switch {
		case strings.HasSuffix(s, "万"):
			multiplier = 10000
			s = strings.TrimSuffix(s, "万")
		case strings.HasSuffix(s, "w"), strings.HasSuffix(s, "W"):
			multiplier = 10000
			s = s[:len(s)-1]
		case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
			multiplier = 1000
			s = s[:len(s)-1]
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return int(f * multiplier)
	default:
		return 0
	}
}
