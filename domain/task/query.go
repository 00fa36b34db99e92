package task

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidFilter is returned by ParseFilter for unknown filter names.
var ErrInvalidFilter = errors.New("invalid filter")

// Filter restricts a listing by completion state.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
)

// ParseFilter converts a filter name into a Filter. The empty string is "all".
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterPending:
		return FilterPending, nil
	case FilterCompleted:
		return FilterCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
}

// Completed returns the is_completed value to restrict on, and whether the
// filter restricts at all.
func (f Filter) Completed() (value bool, restrict bool) {
	switch f {
	case FilterPending:
		return false, true
	case FilterCompleted:
		return true, true
	default:
		return false, false
	}
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t Task) bool {
	value, restrict := f.Completed()
	return !restrict || t.IsCompleted == value
}

// Query is the projection requested from the gateway.
type Query struct {
	Filter Filter `json:"filter"`
	Search string `json:"search"`
}

// Matches reports whether t belongs to the projection: it passes the filter
// and, for a non-empty search, contains the search text in its title or
// description, ignoring case.
func (q Query) Matches(t Task) bool {
	if !q.Filter.Matches(t) {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	if strings.Contains(strings.ToLower(t.Title), needle) {
		return true
	}
	return t.Description != nil && strings.Contains(strings.ToLower(*t.Description), needle)
}

// SortNewestFirst orders tasks by CreatedAt descending, in place.
func SortNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}
