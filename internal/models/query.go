package models

import (
	"strings"

	"github.com/hyperjump/kioku/internal/errs"
)

// QueryRequest is a nearest-neighbour query against one store.
type QueryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate trims the query, rejects an empty one, and clamps K into
// [1, maxK], using defaultK when K is unset.
func (q *QueryRequest) Validate(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return errs.Invalid("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	if q.K <= 0 {
		q.K = 1
	}
	return nil
}
