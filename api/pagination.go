package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"totalCount"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
}

// parsePagination reads the limit and offset query parameters. Missing,
// malformed or non-positive values fall back to the defaults; limit is
// capped at maxPageLimit.
func parsePagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = positiveInt(q.Get("limit"), defaultPageLimit)
	limit = min(limit, maxPageLimit)
	offset = positiveInt(q.Get("offset"), 0)
	return limit, offset
}

func positiveInt(raw string, fallback int) int {
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	return fallback
}

// paginateSlice returns the [start, end) window over totalCount items and
// the matching metadata. An offset past the end yields an empty window.
func paginateSlice(totalCount, limit, offset int) (start, end int, meta PaginationMeta) {
	start = min(offset, totalCount)
	end = min(start+limit, totalCount)
	meta = PaginationMeta{
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < totalCount,
	}
	return start, end, meta
}
