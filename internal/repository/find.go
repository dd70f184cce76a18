package repository

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// RootFunc rewrites the node a list query selects, for example to list the
// children of one parent by joining into its collection
type RootFunc func(root *query.From) *query.From

// FilterFunc returns an additional restriction on the selected node. A nil
// predicate adds nothing.
type FilterFunc func(target *query.From, c *query.Criteria) query.Predicate

// FindAllParams configures FindAll. Source and QuerySpec are required.
type FindAllParams struct {
	// Source is the resource the query is rooted at
	Source *resource.Type
	// QuerySpec shapes the result. Its Resource is the type returned, which
	// differs from Source when CustomRoot selects related entities. A nil
	// Resource means Source.
	QuerySpec *queryspec.QuerySpec
	// CustomRoot rewrites the selected node; nil selects the root
	CustomRoot RootFunc
	// CustomFilter is ANDed with the filters of the QuerySpec
	CustomFilter FilterFunc
	// MetaProvider computes ResourceList.Meta; nil leaves it empty
	MetaProvider MetaProvider
	// FilterHandler translates the QuerySpec filters; nil means SimpleFilterHandler
	FilterHandler FilterHandler
	// DefaultLimit overrides the repository page size when the QuerySpec has no limit
	DefaultLimit int
}

// ResourceList is one page of resources
type ResourceList struct {
	Items []any
	Meta  map[string]any
	// Links is always nil; top level links are left to the transport layer
	Links map[string]string
}

// FindAll lists resources. Included relations are fetched with the selected
// entities, results are ordered by identifier unless the QuerySpec sorts,
// and the page defaults to offset 0 and the repository's default limit.
// Storage errors are returned as they are.
func (r *DtoRepository) FindAll(ctx context.Context, params FindAllParams) (*ResourceList, error) {
	if params.Source == nil {
		return nil, errors.New("find all: source resource is required")
	}
	if params.QuerySpec == nil {
		return nil, errors.New("find all: query spec is required")
	}
	spec := params.QuerySpec
	if spec.Resource == nil {
		clone := *spec
		clone.Resource = params.Source
		spec = &clone
	}
	target := spec.Resource

	c, selected, err := r.criteria(params, spec)
	if err != nil {
		return nil, err
	}

	for _, path := range spec.Includes {
		rels, err := target.ResolveRelationPath(path)
		if err != nil {
			return nil, err
		}
		node := selected
		for _, rel := range rels {
			node = node.Fetch(rel.Field)
		}
	}

	if len(spec.Sort) == 0 {
		c.OrderBy(query.Asc(selected.ID()))
	}
	for _, s := range spec.Sort {
		fields, err := target.ResolvePath(s.Path)
		if err != nil {
			return nil, err
		}
		expr := selected.Path(fields...)
		if s.Direction == queryspec.Descending {
			c.OrderBy(query.Desc(expr))
		} else {
			c.OrderBy(query.Asc(expr))
		}
	}

	limit := r.limit
	if params.DefaultLimit > 0 {
		limit = params.DefaultLimit
	}
	if spec.Limit != nil {
		limit = *spec.Limit
	}
	c.Offset(spec.Offset).Limit(limit)
	if err := c.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	entities, err := r.em.ResultList(ctx, c)
	if err != nil {
		return nil, err
	}

	list := &ResourceList{Items: make([]any, 0, len(entities))}
	for _, entity := range entities {
		dto, err := r.mapper.ToDto(entity, spec)
		if err != nil {
			return nil, err
		}
		list.Items = append(list.Items, dto)
	}

	if params.MetaProvider != nil {
		meta, err := params.MetaProvider.Meta(ctx, MetaParams{
			Source:    params.Source,
			QuerySpec: spec,
			Entities:  r.em,
			Criteria: func() (*query.Criteria, error) {
				c, _, err := r.criteria(params, spec)
				return c, err
			},
		})
		if err != nil {
			return nil, err
		}
		list.Meta = meta
	}

	r.logger.Debugw("find all",
		"source", params.Source.Name,
		"resource", target.Name,
		"count", len(list.Items),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return list, nil
}

// criteria builds the query rooted at the source with the custom root and all
// restrictions applied, and returns it with its selected node
func (r *DtoRepository) criteria(params FindAllParams, spec *queryspec.QuerySpec) (*query.Criteria, *query.From, error) {
	c, err := query.NewCriteria(r.entities, params.Source.Storage)
	if err != nil {
		return nil, nil, err
	}

	selected := c.Root()
	if params.CustomRoot != nil {
		selected = params.CustomRoot(selected)
		c.Select(selected)
	}
	if err := c.Err(); err != nil {
		return nil, nil, err
	}
	if selected.Mapping().Type != spec.Resource.Storage {
		return nil, nil, errors.Newf("query selects %s but %s resources were requested",
			selected.Mapping().Name, spec.Resource.Name)
	}

	if params.CustomFilter != nil {
		c.Where(params.CustomFilter(selected, c))
	}
	if len(spec.Filters) > 0 {
		handler := params.FilterHandler
		if handler == nil {
			handler = SimpleFilterHandler{}
		}
		pred, err := handler.Predicate(selected, spec.Resource, spec.Filters)
		if err != nil {
			return nil, nil, err
		}
		c.Where(pred)
	}
	return c, selected, c.Err()
}

// FindOne returns the resource with the given identifier shaped by spec, or
// nil when it does not exist. A nil spec returns the resource without includes.
func (r *DtoRepository) FindOne(ctx context.Context, rt *resource.Type, id any, spec *queryspec.QuerySpec) (any, error) {
	if rt == nil {
		return nil, errors.New("find one: resource is required")
	}
	mapping, err := r.mapping(rt)
	if err != nil {
		return nil, err
	}
	converted, err := mapping.ConvertID(id)
	if err != nil {
		return nil, errors.Mark(err, ErrNotFound)
	}

	single := queryspec.New(rt).WithLimit(1)
	if spec != nil {
		single.Includes = spec.Includes
	}
	list, err := r.FindAll(ctx, FindAllParams{
		Source:    rt,
		QuerySpec: single,
		CustomFilter: func(target *query.From, _ *query.Criteria) query.Predicate {
			return query.Equal(target.ID(), converted)
		},
	})
	if err != nil {
		return nil, err
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	return list.Items[0], nil
}
