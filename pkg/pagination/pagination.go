package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= with either ?offset= or a 1-based ?page=.
// Offset wins when both are given. Limit is clamped to MaxLimit.
func FromContext(c echo.Context) Params {
	p := Params{Limit: atoiOr(c.QueryParam("limit"), DefaultLimit)}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	p.Limit = min(p.Limit, MaxLimit)

	if raw := c.QueryParam("offset"); raw != "" {
		p.Offset = max(atoiOr(raw, 0), 0)
	} else if page := atoiOr(c.QueryParam("page"), 1); page > 1 {
		p.Offset = (page - 1) * p.Limit
	}
	return p
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// Page is a window of a larger result set.
type Page[T any] struct {
	Data    []T    `json:"data"`
	Total   int    `json:"total"`
	Limit   int    `json:"limit"`
	Offset  int    `json:"offset"`
	HasMore bool   `json:"has_more"`
	Links   *Links `json:"links,omitempty"`
}

type Links struct {
	Self string `json:"self"`
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

// New wraps items. A nil slice is rendered as an empty JSON array.
func New[T any](items []T, total int, p Params) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Data:    items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+p.Limit < total,
	}
}

// WithLinks adds self, next and prev URLs that keep the request's filters.
func (pg *Page[T]) WithLinks(c echo.Context) *Page[T] {
	link := func(offset int) string {
		q := c.Request().URL.Query()
		q.Del("page")
		q.Set("limit", strconv.Itoa(pg.Limit))
		q.Set("offset", strconv.Itoa(offset))
		return c.Request().URL.Path + "?" + q.Encode()
	}

	pg.Links = &Links{Self: link(pg.Offset)}
	if pg.HasMore {
		pg.Links.Next = link(pg.Offset + pg.Limit)
	}
	if pg.Offset > 0 {
		pg.Links.Prev = link(max(pg.Offset-pg.Limit, 0))
	}
	return pg
}
