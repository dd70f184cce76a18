// Package repository exposes stored entities as API resources. It builds list
// queries from a QuerySpec, maps entities to DTOs, applies incoming DTOs to
// entities and keeps both ends of bidirectional relations consistent.
//
// The repository never begins or commits transactions. Every call must run
// with a context carrying the storage session, for example inside
// session.Manager.Transactional.
package repository

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// DefaultLimit is the page size used when a query does not specify a limit
const DefaultLimit = 100

var (
	// ErrNotFound is returned when the entity behind a DTO does not exist
	ErrNotFound = errors.New("resource not found")
	// ErrRelatedNotFound is returned when a relation names a target that does not exist
	ErrRelatedNotFound = errors.New("related resource not found")
	// ErrMultipleTargets is returned when a to-one relation is given more than one target
	ErrMultipleTargets = errors.New("to-one relation accepts at most one target")
)

// EntityManager is the storage collaborator the repository drives.
// *session.Manager implements it.
type EntityManager interface {
	Registry() *schema.Registry
	Find(ctx context.Context, entityType reflect.Type, id any) (any, error)
	Persist(ctx context.Context, entity any) error
	Remove(ctx context.Context, entity any) error
	Merge(ctx context.Context, entity any) (any, error)
	Instantiate(entityType reflect.Type) (any, error)
	IdentifierOf(entity any) (any, error)
	Initialize(ctx context.Context, entity any, field string) error
	IsLoaded(ctx context.Context, entity any, field string) bool
	ResultList(ctx context.Context, c *query.Criteria) ([]any, error)
	Count(ctx context.Context, c *query.Criteria) (int64, error)
}

// EntityValidator checks an entity before Save and Create hand it to storage.
// *validation.Engine implements it.
type EntityValidator interface {
	Validate(ctx context.Context, entity any) error
}

// Config holds the optional settings of a repository
type Config struct {
	// DefaultLimit is the page size when neither the query nor FindAllParams
	// set one. Zero means DefaultLimit.
	DefaultLimit int
	Validator    EntityValidator
	Logger       *zap.SugaredLogger
}

// DtoRepository reads and writes resources through an EntityManager
type DtoRepository struct {
	em        EntityManager
	resources *resource.Registry
	entities  *schema.Registry
	mapper    *Mapper
	limit     int
	validator EntityValidator
	logger    *zap.SugaredLogger
}

// New creates a repository. The entity manager and the resource registry are required.
func New(em EntityManager, resources *resource.Registry, cfg Config) (*DtoRepository, error) {
	if em == nil {
		return nil, errors.New("entity manager is required")
	}
	if resources == nil {
		return nil, errors.New("resource registry is required")
	}
	entities := em.Registry()
	if entities == nil {
		return nil, errors.New("entity manager has no schema registry")
	}
	for _, rt := range resources.All() {
		if _, ok := entities.ForType(rt.Storage); !ok {
			return nil, errors.Newf("resource %s is backed by unmapped entity %s", rt.Name, rt.Storage.Name())
		}
	}

	if cfg.DefaultLimit < 0 {
		return nil, errors.Newf("default limit must not be negative: %d", cfg.DefaultLimit)
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	return &DtoRepository{
		em:        em,
		resources: resources,
		entities:  entities,
		mapper:    NewMapper(resources, entities),
		limit:     cfg.DefaultLimit,
		validator: cfg.Validator,
		logger:    cfg.Logger,
	}, nil
}

// Mapper returns the DTO mapper used by the repository
func (r *DtoRepository) Mapper() *Mapper {
	return r.mapper
}

// DefaultLimit returns the page size used when a query sets no limit
func (r *DtoRepository) DefaultLimit() int {
	return r.limit
}

// Resources returns the resource registry
func (r *DtoRepository) Resources() *resource.Registry {
	return r.resources
}

// EntityManager returns the storage collaborator
func (r *DtoRepository) EntityManager() EntityManager {
	return r.em
}

func (r *DtoRepository) mapping(rt *resource.Type) (*schema.EntityMapping, error) {
	m, ok := r.entities.ForType(rt.Storage)
	if !ok {
		return nil, errors.AssertionFailedf("resource %s has no entity mapping", rt.Name)
	}
	return m, nil
}

// resourceOf returns the resource type exposing an entity
func (r *DtoRepository) resourceOf(entity any) (*resource.Type, *schema.EntityMapping, error) {
	rt, ok := r.resources.ByStorage(reflect.TypeOf(entity))
	if !ok {
		return nil, nil, errors.Newf("no resource exposes %T", entity)
	}
	m, err := r.mapping(rt)
	if err != nil {
		return nil, nil, err
	}
	return rt, m, nil
}
