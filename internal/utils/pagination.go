// Package utils holds the page arithmetic shared by the HTTP handlers and
// the services that page contacts, conversations, and messages.
package utils

import "strconv"

// DefaultPageSize applies when a caller gives no usable page size.
const DefaultPageSize = 20

// AtoiDefault parses s as an int, returning def when s is empty or not a
// number. Surrounding whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Window converts a 1-based page into an offset and limit. Pages below 1
// read as 1; a non-positive size uses DefaultPageSize.
func Window(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return (page - 1) * pageSize, pageSize
}

// TotalPages is ceil(total/pageSize), 0 for an empty set.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
