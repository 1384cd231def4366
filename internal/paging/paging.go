// Package paging holds the page/limit pair used by listing endpoints.
package paging

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

type Request struct {
	Page  int
	Limit int
}

// New clamps page and limit into their valid ranges.
func New(page, limit int) Request {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Request{Page: page, Limit: limit}
}

func (r Request) Offset() int {
	return (r.Page - 1) * r.Limit
}

type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func (r Request) Meta(total int) Meta {
	pages := 0
	if r.Limit > 0 {
		pages = (total + r.Limit - 1) / r.Limit
	}
	return Meta{Page: r.Page, Limit: r.Limit, Total: total, Pages: pages}
}
