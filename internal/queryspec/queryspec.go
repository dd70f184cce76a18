// Package queryspec describes a generic resource query: sorting, pagination,
// included relations and filters, independent of how it is executed.
package queryspec

import (
	"strings"

	"github.com/conduit-lang/resourcemap/internal/resource"
)

// Direction is a sort direction
type Direction int

const (
	// Ascending sorts from low to high
	Ascending Direction = iota
	// Descending sorts from high to low
	Descending
)

// String returns the string representation of the direction
func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// SortSpec is one sort clause over an attribute path
type SortSpec struct {
	Path      []string
	Direction Direction
}

// FilterSpec is one filter over an attribute path. Operator and Value are
// interpreted by the filter handler that executes the query.
type FilterSpec struct {
	Path     []string
	Operator string
	Value    string
}

// QuerySpec is a request for a list of resources of one type
type QuerySpec struct {
	Resource *resource.Type
	Sort     []SortSpec
	Offset   int
	Limit    *int // nil when unspecified
	Includes [][]string
	Filters  []FilterSpec
}

// New returns an empty query over a resource type
func New(rt *resource.Type) *QuerySpec {
	return &QuerySpec{Resource: rt}
}

// WithLimit sets the limit and returns the query
func (q *QuerySpec) WithLimit(n int) *QuerySpec {
	q.Limit = &n
	return q
}

// WithOffset sets the offset and returns the query
func (q *QuerySpec) WithOffset(n int) *QuerySpec {
	q.Offset = n
	return q
}

// WithSort appends a sort clause over a dotted path and returns the query
func (q *QuerySpec) WithSort(path string, dir Direction) *QuerySpec {
	q.Sort = append(q.Sort, SortSpec{Path: resource.SplitPath(path), Direction: dir})
	return q
}

// WithInclude appends a dotted relation path to include and returns the query
func (q *QuerySpec) WithInclude(path string) *QuerySpec {
	q.Includes = append(q.Includes, resource.SplitPath(path))
	return q
}

// WithFilter appends a filter and returns the query
func (q *QuerySpec) WithFilter(path, op, value string) *QuerySpec {
	q.Filters = append(q.Filters, FilterSpec{Path: resource.SplitPath(path), Operator: op, Value: value})
	return q
}

// IsIncluded returns true if the relation with the given API name starts an include path
func (q *QuerySpec) IsIncluded(name string) bool {
	for _, path := range q.Includes {
		if len(path) > 0 && path[0] == name {
			return true
		}
	}
	return false
}

// Nested returns the query for resources reached through an included
// relation: the target type with the remaining include sub-paths.
func (q *QuerySpec) Nested(rel *resource.RelationField) *QuerySpec {
	nested := New(rel.Target)
	for _, path := range q.Includes {
		if len(path) > 1 && path[0] == rel.Name {
			nested.Includes = append(nested.Includes, path[1:])
		}
	}
	return nested
}

// IncludePaths returns the include paths in dotted form
func (q *QuerySpec) IncludePaths() []string {
	paths := make([]string, len(q.Includes))
	for i, p := range q.Includes {
		paths[i] = strings.Join(p, ".")
	}
	return paths
}
