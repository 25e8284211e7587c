// Package pagination parses page/perPage query parameters and shapes paged
// list responses.
package pagination

import (
	"net/http"
	"strconv"
)

// DefaultPerPage is the default number of items per page
const DefaultPerPage = 20

// MaxPerPage is the maximum allowed items per page
const MaxPerPage = 100

// Params represents pagination parameters
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
	Limit   int `json:"-"`
	Offset  int `json:"-"`
}

// Response is a page of results with totals
type Response[T any] struct {
	Page         int `json:"page"`
	PerPage      int `json:"perPage"`
	TotalPages   int `json:"totalPages"`
	TotalResults int `json:"totalResults"`
	Results      []T `json:"results"`
}

// ParseParams reads page and perPage from the query string. Out of range
// values fall back to the defaults; perPage is capped at MaxPerPage.
func ParseParams(r *http.Request) Params {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	perPage, _ := strconv.Atoi(q.Get("perPage"))
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return Params{
		Page:    page,
		PerPage: perPage,
		Limit:   perPage,
		Offset:  (page - 1) * perPage,
	}
}

// NewResponse wraps one page of results. A nil page is reported as empty.
func NewResponse[T any](results []T, p Params, totalResults int) Response[T] {
	if results == nil {
		results = []T{}
	}
	return Response[T]{
		Page:         p.Page,
		PerPage:      p.PerPage,
		TotalPages:   totalPages(totalResults, p.PerPage),
		TotalResults: totalResults,
		Results:      results,
	}
}

// Slice pages an already materialized list
func Slice[T any](all []T, p Params) Response[T] {
	page := []T{}
	if p.Offset < len(all) {
		end := p.Offset + p.Limit
		if end > len(all) {
			end = len(all)
		}
		page = all[p.Offset:end]
	}
	return NewResponse(page, p, len(all))
}

func totalPages(totalResults, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	pages := (totalResults + perPage - 1) / perPage
	if pages < 1 {
		return 1
	}
	return pages
}
