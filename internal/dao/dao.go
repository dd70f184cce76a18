// Package dao offers entity level data access on top of the session: lookups
// by database id, natural id or any attribute, natural id references for
// wiring relations, and the basic create, update and delete operations.
package dao

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

var (
	// ErrNotFound is returned when a reference names an entity that does not exist
	ErrNotFound = errors.New("entity not found")
	// ErrNoNaturalID is returned for natural id lookups on entities without one
	ErrNoNaturalID = errors.New("entity has no natural id")
	// ErrNonUnique is returned when a single-result lookup matches several rows
	ErrNonUnique = errors.New("query returned more than one entity")
)

// EntityManager is the part of the session manager the DAO uses.
// *session.Manager implements it.
type EntityManager interface {
	Registry() *schema.Registry
	Find(ctx context.Context, entityType reflect.Type, id any) (any, error)
	Persist(ctx context.Context, entity any) error
	Remove(ctx context.Context, entity any) error
	Merge(ctx context.Context, entity any) (any, error)
	IsLoaded(ctx context.Context, entity any, field string) bool
	ResultList(ctx context.Context, c *query.Criteria) ([]any, error)
	Count(ctx context.Context, c *query.Criteria) (int64, error)
}

// Validator checks an entity. *validation.Engine implements it.
type Validator interface {
	Validate(ctx context.Context, entity any) error
}

// BaseDAO performs entity operations within the session bound to a context
type BaseDAO struct {
	em        EntityManager
	validator Validator
	logger    *zap.SugaredLogger
}

// New creates a BaseDAO. The validator and logger are optional.
func New(em EntityManager, validator Validator, logger *zap.SugaredLogger) (*BaseDAO, error) {
	if em == nil {
		return nil, errors.New("entity manager is required")
	}
	if em.Registry() == nil {
		return nil, errors.New("entity manager has no schema registry")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &BaseDAO{em: em, validator: validator, logger: logger}, nil
}

// WithEntityManager gives fn direct access to the entity manager
func (d *BaseDAO) WithEntityManager(fn func(em EntityManager) error) error {
	if fn == nil {
		return errors.New("callback is required")
	}
	return fn(d.em)
}

// IsLoaded reports whether a relation of entity has been loaded
func (d *BaseDAO) IsLoaded(ctx context.Context, entity any, field string) (bool, error) {
	if entity == nil || field == "" {
		return false, errors.New("entity and field are required")
	}
	return d.em.IsLoaded(ctx, entity, field), nil
}

// FindOneByDatabaseID loads an entity by primary key; nil when absent
func (d *BaseDAO) FindOneByDatabaseID(ctx context.Context, entityType reflect.Type, id any) (any, error) {
	return d.em.Find(ctx, entityType, id)
}

// FindOneByNaturalID loads an entity by its natural id; nil when absent
func (d *BaseDAO) FindOneByNaturalID(ctx context.Context, entityType reflect.Type, naturalID any) (any, error) {
	field, err := d.NaturalIDFieldName(entityType)
	if err != nil {
		return nil, err
	}
	return d.FindOneByProperty(ctx, entityType, field, naturalID)
}

// FindOneByProperty loads the single entity whose attribute equals value. The
// property is a Go field name; an owning to-one relation compares its foreign
// key, and value may then be the related entity itself. It returns nil when
// nothing matches and ErrNonUnique when several entities do.
func (d *BaseDAO) FindOneByProperty(ctx context.Context, entityType reflect.Type, property string, value any) (any, error) {
	c, err := d.Criteria(entityType)
	if err != nil {
		return nil, err
	}
	value, err = d.comparable(value)
	if err != nil {
		return nil, err
	}
	c.Where(query.Equal(c.Root().Get(property), value)).Limit(2)

	results, err := d.em.ResultList(ctx, c)
	if err != nil {
		return nil, err
	}
	d.logger.Debugw("find one by property", "entity", entityType.Name(), "property", property, "matches", len(results))

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return nil, errors.Wrapf(ErrNonUnique, "%s.%s", entityType.Name(), property)
	}
}

// ExistsByNaturalID reports whether an entity with the given natural id exists
func (d *BaseDAO) ExistsByNaturalID(ctx context.Context, entityType reflect.Type, naturalID uuid.UUID) (bool, error) {
	field, err := d.NaturalIDFieldName(entityType)
	if err != nil {
		return false, err
	}
	c, err := d.Criteria(entityType)
	if err != nil {
		return false, err
	}
	c.Where(query.Equal(c.Root().Get(field), naturalID))
	n, err := d.em.Count(ctx, c)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReferenceByNaturalID returns the entity with the given natural id for use as
// a relation target. Unlike FindOneByNaturalID a missing entity is an error.
func (d *BaseDAO) ReferenceByNaturalID(ctx context.Context, entityType reflect.Type, naturalID any) (any, error) {
	entity, err := d.FindOneByNaturalID(ctx, entityType, naturalID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, errors.Wrapf(ErrNotFound, "%s with natural id %v", entityType.Name(), naturalID)
	}
	return entity, nil
}

// SetRelationshipByNaturalIDReference resolves a natural id reference and hands it to set
func (d *BaseDAO) SetRelationshipByNaturalIDReference(ctx context.Context, entityType reflect.Type, naturalID any, set func(ref any)) error {
	ref, err := d.ReferenceByNaturalID(ctx, entityType, naturalID)
	if err != nil {
		return err
	}
	set(ref)
	return nil
}

// Create persists a new entity
func (d *BaseDAO) Create(ctx context.Context, entity any) error {
	return d.em.Persist(ctx, entity)
}

// Update merges the state of entity into the session and returns the managed instance
func (d *BaseDAO) Update(ctx context.Context, entity any) (any, error) {
	return d.em.Merge(ctx, entity)
}

// Delete removes a managed entity
func (d *BaseDAO) Delete(ctx context.Context, entity any) error {
	return d.em.Remove(ctx, entity)
}

// ValidateEntity runs the configured validator; without one every entity is valid
func (d *BaseDAO) ValidateEntity(ctx context.Context, entity any) error {
	if d.validator == nil {
		return nil
	}
	return d.validator.Validate(ctx, entity)
}

// NaturalIDFieldName returns the Go field name of the natural id of an entity type
func (d *BaseDAO) NaturalIDFieldName(entityType reflect.Type) (string, error) {
	mapping, err := d.mapping(entityType)
	if err != nil {
		return "", err
	}
	if mapping.NaturalID == nil {
		return "", errors.Wrapf(ErrNoNaturalID, "%s", mapping.Name)
	}
	return mapping.NaturalID.Field, nil
}

// DatabaseIDFieldName returns the Go field name of the primary key of an entity type
func (d *BaseDAO) DatabaseIDFieldName(entityType reflect.Type) (string, error) {
	mapping, err := d.mapping(entityType)
	if err != nil {
		return "", err
	}
	return mapping.ID.Field, nil
}

// Criteria starts a criteria query rooted at an entity type
func (d *BaseDAO) Criteria(entityType reflect.Type) (*query.Criteria, error) {
	return query.NewCriteria(d.em.Registry(), entityType)
}

// ResultList executes a criteria query
func (d *BaseDAO) ResultList(ctx context.Context, c *query.Criteria) ([]any, error) {
	return d.em.ResultList(ctx, c)
}

func (d *BaseDAO) mapping(entityType reflect.Type) (*schema.EntityMapping, error) {
	for entityType != nil && entityType.Kind() == reflect.Pointer {
		entityType = entityType.Elem()
	}
	mapping, ok := d.em.Registry().ForType(entityType)
	if !ok {
		return nil, errors.Newf("no mapping registered for %v", entityType)
	}
	return mapping, nil
}

// comparable replaces a mapped entity by its identifier
func (d *BaseDAO) comparable(value any) (any, error) {
	if value == nil || reflect.TypeOf(value).Kind() != reflect.Pointer {
		return value, nil
	}
	mapping, err := d.em.Registry().ForEntity(value)
	if err != nil {
		return value, nil
	}
	return mapping.IdentifierOf(value)
}
