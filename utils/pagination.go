package utils

import (
	"strconv"
	"strings"
)

func ParseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && v >= 0 {
		return v
	}
	return def
}

// Page resolves limit/offset query values. A zero or missing limit falls back
// to def and anything above max is clamped.
func Page(limitRaw, offsetRaw string, def, max int) (limit, offset int) {
	limit = ParseIntDefault(limitRaw, def)
	if limit == 0 {
		limit = def
	}
	if max > 0 && limit > max {
		limit = max
	}
	offset = ParseIntDefault(offsetRaw, 0)
	return limit, offset
}
