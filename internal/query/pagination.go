package query

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	DefaultPerPage       = 15
	MaxPerPage           = 100
	DefaultNestedPerPage = 5
	MaxNestedPerPage     = 50
)

type Sort struct {
	Field string
	Desc  bool
}

// ParseSort falls back to fallback for fields outside whitelist. Anything
// but "asc" sorts descending.
func ParseSort(field, dir string, whitelist []string, fallback string) Sort {
	if !slices.Contains(whitelist, field) {
		field = fallback
	}
	return Sort{Field: field, Desc: !strings.EqualFold(strings.TrimSpace(dir), "asc")}
}

// OrderBy returns ORDER BY terms with an id tie-break in the same
// direction, qualified with prefix when set.
func (s Sort) OrderBy(prefix string) []string {
	dir := " ASC"
	if s.Desc {
		dir = " DESC"
	}
	qualify := func(c string) string {
		if prefix == "" {
			return c
		}
		return prefix + "." + c
	}
	terms := []string{qualify(s.Field) + dir}
	if s.Field != "id" {
		terms = append(terms, qualify("id")+dir)
	}
	return terms
}

type Page struct {
	Number  int
	PerPage int
}

// ParsePage clamps perPage to [1, limit] and page to at least 1. Page is
// also capped so the row offset fits in a bigint.
func ParsePage(page, perPage string, def, limit int) Page {
	p := Page{Number: 1, PerPage: def}
	if n, err := strconv.Atoi(strings.TrimSpace(page)); err == nil && n > 1 {
		p.Number = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(perPage)); err == nil {
		p.PerPage = min(max(n, 1), limit)
	}
	p.Number = min(p.Number, math.MaxInt64/p.PerPage)
	return p
}

func (p Page) Offset() uint64 {
	return uint64(p.Number-1) * uint64(p.PerPage)
}

func (p Page) Limit() uint64 {
	return uint64(p.PerPage)
}

// Meta describes one page of a listing.
type Meta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	LastPage    int   `json:"last_page"`
	PerPage     int   `json:"per_page"`
	From        *int  `json:"from"`
	To          *int  `json:"to"`
}

// NewMeta builds the page description for n rows returned out of total.
func NewMeta(p Page, total int64, n int) Meta {
	last := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	if last < 1 {
		last = 1
	}
	m := Meta{Total: total, CurrentPage: p.Number, LastPage: last, PerPage: p.PerPage}
	if n > 0 {
		from := int(p.Offset()) + 1
		to := from + n - 1
		m.From, m.To = &from, &to
	}
	return m
}

// Result is a paginated listing.
type Result[T any] struct {
	Data []T `json:"data"`
	Meta
}
