package api

import (
	"net/url"
	"strings"
)

// TagFilter selects tests by tag. Query keys whose value is "true" must all be
// tags of a test; keys whose value is "false" must not be.
type TagFilter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

// ParseTagFilter reads a tag filter from list request query parameters. Only
// the first value of a key counts; values other than true and false are
// ignored.
func ParseTagFilter(query url.Values) TagFilter {
	f := TagFilter{
		include: make(map[string]struct{}),
		exclude: make(map[string]struct{}),
	}
	for key := range query {
		tag := strings.ToLower(key)
		switch strings.ToLower(query.Get(key)) {
		case "true":
			f.include[tag] = struct{}{}
		case "false":
			f.exclude[tag] = struct{}{}
		}
	}
	return f
}

// Matches reports whether a test with tags passes the filter.
func (f TagFilter) Matches(tags []string) bool {
	have := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		tag := strings.ToLower(t)
		if _, excluded := f.exclude[tag]; excluded {
			return false
		}
		have[tag] = struct{}{}
	}
	for tag := range f.include {
		if _, ok := have[tag]; !ok {
			return false
		}
	}
	return true
}
