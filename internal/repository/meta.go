package repository

import (
	"context"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// TotalResourceCount is the meta key set by TotalCountMetaProvider
const TotalResourceCount = "totalResourceCount"

// MetaParams describes the list query a MetaProvider reports on
type MetaParams struct {
	Source    *resource.Type
	QuerySpec *queryspec.QuerySpec
	Entities  EntityManager
	// Criteria builds a fresh query with the custom root and all filters but
	// without fetches, ordering or pagination
	Criteria func() (*query.Criteria, error)
}

// MetaProvider computes the meta section of a resource list
type MetaProvider interface {
	Meta(ctx context.Context, params MetaParams) (map[string]any, error)
}

// MetaProviderFunc adapts a function to MetaProvider
type MetaProviderFunc func(ctx context.Context, params MetaParams) (map[string]any, error)

// Meta calls f
func (f MetaProviderFunc) Meta(ctx context.Context, params MetaParams) (map[string]any, error) {
	return f(ctx, params)
}

// TotalCountMetaProvider reports the number of resources matching the query
// regardless of pagination
type TotalCountMetaProvider struct{}

// Meta implements MetaProvider
func (TotalCountMetaProvider) Meta(ctx context.Context, params MetaParams) (map[string]any, error) {
	c, err := params.Criteria()
	if err != nil {
		return nil, err
	}
	n, err := params.Entities.Count(ctx, c)
	if err != nil {
		return nil, err
	}
	return map[string]any{TotalResourceCount: n}, nil
}
