package servicenow

import (
	"fmt"
	"strings"
)

// ServiceNow query syntax constants.
const (
	snAND  = "^"
	snOR   = "^OR"
	snIS   = "="
	snLIKE = "LIKE"
)

// QueryBuilder constructs ServiceNow encoded query strings using a fluent API.
//
// Example output: "state=1^priority=2^short_descriptionLIKEprinter^ORdescriptionLIKEprinter"
type QueryBuilder struct {
	query strings.Builder
}

// NewQueryBuilder creates a new empty QueryBuilder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// sanitizeValue escapes the '^' character in values to prevent query injection.
// In ServiceNow query syntax, '^' is the AND separator, so literal carets in
// values must be escaped as '^^'.
func sanitizeValue(v string) string {
	if strings.TrimSpace(v) == "" {
		return v
	}
	return strings.ReplaceAll(v, snAND, snAND+snAND)
}

// Build returns the final query string, stripping the leading '^' separator.
func (q *QueryBuilder) Build() string {
	s := q.query.String()
	return strings.TrimPrefix(s, snAND)
}

// WhereEquals adds: ^field=value
func (q *QueryBuilder) WhereEquals(field, value string) *QueryBuilder {
	value = sanitizeValue(value)
	fmt.Fprintf(&q.query, "%s%s%s%s", snAND, field, snIS, value)
	return q
}

// WhereLike adds: ^fieldLIKEvalue
func (q *QueryBuilder) WhereLike(field, value string) *QueryBuilder {
	value = sanitizeValue(value)
	fmt.Fprintf(&q.query, "%s%s%s%s", snAND, field, snLIKE, value)
	return q
}

// OrWhereLike adds: ^ORfieldLIKEvalue
func (q *QueryBuilder) OrWhereLike(field, value string) *QueryBuilder {
	value = sanitizeValue(value)
	fmt.Fprintf(&q.query, "%s%s%s%s", snOR, field, snLIKE, value)
	return q
}

