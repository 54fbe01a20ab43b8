package worker

import (
	"net/http"
	"strconv"
)

const (
	// DefaultSetsLimit is the page size of GET /api/sets.
	DefaultSetsLimit = 50
	// MaxPaginationLimit caps any limit parameter.
	MaxPaginationLimit = 500
)

// ParseLimitParamWithMax parses the "limit" query parameter, capped at maxLimit.
// Missing or invalid values yield defaultLimit.
func ParseLimitParamWithMax(r *http.Request, defaultLimit, maxLimit int) int {
	if maxLimit <= 0 {
		maxLimit = MaxPaginationLimit
	}
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return min(limit, maxLimit)
}

// ParseOffsetParam parses the "offset" query parameter. Returns 0 if missing or invalid.
func ParseOffsetParam(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}
