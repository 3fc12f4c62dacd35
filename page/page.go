// Package page holds the offset/limit pagination contract used by history queries.
package page

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// MaxLimit bounds the rows a single page may request.
const MaxLimit = 10000

// Request asks for Limit rows starting at Offset.
type Request struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	// Descending returns newest versions first.
	Descending bool `json:"descending,omitempty"`
}

// Number builds a Request for a 1-based page number. Values below 1 are clamped.
func Number(number, size int) Request {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = 1
	}
	return Request{Limit: size, Offset: (number - 1) * size}
}

// Validate checks the request bounds.
func (r Request) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Limit, validation.Required, validation.Min(1), validation.Max(MaxLimit)),
		validation.Field(&r.Offset, validation.Min(0)),
	)
	return dataerr.FromValidation(err, "invalid page request")
}

// Page is one slice of a larger ordered result.
type Page[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// New wraps items fetched for req.
func New[T any](items []T, total int, req Request) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Limit: req.Limit, Offset: req.Offset}
}

// HasMore reports whether rows exist past this page.
func (p Page[T]) HasMore() bool {
	return p.Offset+p.Limit < p.Total
}

// PageNumber is the 1-based number of this page.
func (p Page[T]) PageNumber() int {
	if p.Limit <= 0 {
		return 1
	}
	return p.Offset/p.Limit + 1
}

// TotalPages is the number of pages of size Limit needed to hold Total rows.
func (p Page[T]) TotalPages() int {
	if p.Limit <= 0 || p.Total <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

func (p Page[T]) IsFirstPage() bool {
	return p.Offset == 0
}

func (p Page[T]) IsLastPage() bool {
	return !p.HasMore()
}
