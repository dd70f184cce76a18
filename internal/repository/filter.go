package repository

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// FilterHandler translates QuerySpec filters into a restriction on the
// selected node of a list query
type FilterHandler interface {
	Predicate(target *query.From, rt *resource.Type, filters []queryspec.FilterSpec) (query.Predicate, error)
}

// FilterHandlerFunc adapts a function to FilterHandler
type FilterHandlerFunc func(target *query.From, rt *resource.Type, filters []queryspec.FilterSpec) (query.Predicate, error)

// Predicate calls f
func (f FilterHandlerFunc) Predicate(target *query.From, rt *resource.Type, filters []queryspec.FilterSpec) (query.Predicate, error) {
	return f(target, rt, filters)
}

// SimpleFilterHandler ANDs one comparison per filter. Values are parsed into
// the Go type of the filtered field; "in" and "nin" take comma separated lists
// and "null" and "notnull" ignore the value.
type SimpleFilterHandler struct{}

// Predicate implements FilterHandler
func (SimpleFilterHandler) Predicate(target *query.From, rt *resource.Type, filters []queryspec.FilterSpec) (query.Predicate, error) {
	preds := make([]query.Predicate, 0, len(filters))
	for _, f := range filters {
		fields, err := rt.ResolvePath(f.Path)
		if err != nil {
			return nil, err
		}
		expr := target.Path(fields...)
		if err := expr.Err(); err != nil {
			return nil, err
		}
		op, err := query.ParseOperator(f.Operator)
		if err != nil {
			return nil, errors.Mark(err, queryspec.ErrInvalidQuery)
		}

		switch op {
		case query.OpIsNull, query.OpIsNotNull:
			preds = append(preds, query.Compare(expr, op, nil))
		case query.OpIn, query.OpNotIn:
			var values []any
			for _, raw := range strings.Split(f.Value, ",") {
				v, err := schema.ParseValue(expr.Type(), strings.TrimSpace(raw))
				if err != nil {
					return nil, errors.Mark(err, queryspec.ErrInvalidQuery)
				}
				values = append(values, v)
			}
			preds = append(preds, query.Compare(expr, op, values))
		case query.OpLike, query.OpILike:
			preds = append(preds, query.Compare(expr, op, f.Value))
		default:
			v, err := schema.ParseValue(expr.Type(), f.Value)
			if err != nil {
				return nil, errors.Mark(err, queryspec.ErrInvalidQuery)
			}
			preds = append(preds, query.Compare(expr, op, v))
		}
	}
	if len(preds) == 0 {
		return nil, nil
	}
	return query.And(preds...), nil
}
