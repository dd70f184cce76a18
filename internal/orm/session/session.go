package session

import (
	"context"
	"database/sql"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// queryer is the subset of *sql.Tx a session runs statements through
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type entityKey struct {
	mapping *schema.EntityMapping
	id      any
}

// entry is the session state of one managed entity
type entry struct {
	mapping     *schema.EntityMapping
	entity      any
	key         entityKey
	initialized bool
	snapshot    map[string]any
	loaded      map[*schema.Relation]bool
}

// Session is a unit of work bound to one transaction. It is not safe for
// concurrent use.
type Session struct {
	manager *Manager
	db      queryer
	byKey   map[entityKey]*entry
	byPtr   map[any]*entry
	order   []*entry
}

func newSession(m *Manager, db queryer) *Session {
	return &Session{
		manager: m,
		db:      db,
		byKey:   make(map[entityKey]*entry),
		byPtr:   make(map[any]*entry),
	}
}

// Contains returns true if the entity is managed by the session
func (s *Session) Contains(entity any) bool {
	_, ok := s.byPtr[entity]
	return ok
}

func (s *Session) register(mapping *schema.EntityMapping, entity, id any) *entry {
	e := &entry{
		mapping: mapping,
		entity:  entity,
		key:     entityKey{mapping: mapping, id: schema.NormalizeID(id)},
		loaded:  make(map[*schema.Relation]bool),
	}
	s.byKey[e.key] = e
	s.byPtr[entity] = e
	s.order = append(s.order, e)
	return e
}

func (s *Session) forget(e *entry) {
	delete(s.byKey, e.key)
	delete(s.byPtr, e.entity)
	for i, other := range s.order {
		if other == e {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// reference returns the managed instance for an identifier, registering an
// uninitialized instance carrying only the identifier when none exists yet.
func (s *Session) reference(mapping *schema.EntityMapping, id any) (any, error) {
	converted, err := mapping.ConvertID(id)
	if err != nil {
		return nil, err
	}
	key := entityKey{mapping: mapping, id: schema.NormalizeID(converted)}
	if e, ok := s.byKey[key]; ok {
		return e.entity, nil
	}
	entity := mapping.New()
	if err := mapping.SetIdentifier(entity, converted); err != nil {
		return nil, err
	}
	s.register(mapping, entity, converted)
	return entity, nil
}

// Find returns the entity with the given identifier, or nil when it does not exist
func (s *Session) Find(ctx context.Context, entityType reflect.Type, id any) (any, error) {
	mapping, ok := s.manager.registry.ForType(entityType)
	if !ok {
		return nil, errors.Newf("no mapping registered for %v", entityType)
	}
	if id == nil {
		return nil, nil
	}
	converted, err := mapping.ConvertID(id)
	if err != nil {
		return nil, err
	}

	if e, ok := s.byKey[entityKey{mapping: mapping, id: schema.NormalizeID(converted)}]; ok && e.initialized {
		return e.entity, nil
	}

	c, err := query.NewCriteria(s.manager.registry, mapping.Type)
	if err != nil {
		return nil, err
	}
	c.Where(query.Equal(c.Root().ID(), converted))

	results, err := s.ResultList(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// Persist inserts a new entity and makes it managed. A zero identifier is
// generated by the database. References to entities that are not saved yet
// are written on a later flush.
func (s *Session) Persist(ctx context.Context, entity any) error {
	if s.Contains(entity) {
		return nil
	}
	mapping, err := s.manager.registry.ForEntity(entity)
	if err != nil {
		return err
	}
	if err := s.flush(ctx, false); err != nil {
		return err
	}
	if err := s.insert(ctx, mapping, entity); err != nil {
		return err
	}
	return nil
}

// Remove deletes a managed entity. Pending changes are flushed first so rows
// that stop referencing the entity are updated before the DELETE.
func (s *Session) Remove(ctx context.Context, entity any) error {
	e, ok := s.byPtr[entity]
	if !ok {
		return errors.Wrapf(ErrNotManaged, "remove %T", entity)
	}
	if err := s.flush(ctx, false); err != nil {
		return err
	}

	id, err := e.mapping.IdentifierOf(entity)
	if err != nil {
		return err
	}

	q := "DELETE FROM " + query.QuoteIdentifier(e.mapping.Table) +
		" WHERE " + query.QuoteIdentifier(e.mapping.ID.Name) + " = " + s.manager.dialect.Placeholder(1)
	if _, err := s.exec(ctx, q, id); err != nil {
		return errors.Wrapf(err, "delete %s", e.mapping.Name)
	}

	s.forget(e)
	return nil
}

// Merge copies the columns and owning relations of entity onto the managed
// instance with the same identifier and returns it. An entity without a
// stored counterpart is persisted.
func (s *Session) Merge(ctx context.Context, entity any) (any, error) {
	if s.Contains(entity) {
		return entity, nil
	}
	mapping, err := s.manager.registry.ForEntity(entity)
	if err != nil {
		return nil, err
	}
	id, err := mapping.IdentifierOf(entity)
	if err != nil {
		return nil, err
	}

	var managed any
	if !schema.IsZeroID(id) {
		managed, err = s.Find(ctx, mapping.Type, id)
		if err != nil {
			return nil, err
		}
	}
	if managed == nil {
		if err := s.Persist(ctx, entity); err != nil {
			return nil, err
		}
		return entity, nil
	}

	for _, col := range mapping.Columns {
		if col.PrimaryKey {
			continue
		}
		v, err := col.Get(entity)
		if err != nil {
			return nil, err
		}
		if err := col.Set(managed, v); err != nil {
			return nil, err
		}
	}
	for _, rel := range mapping.OwningRelations() {
		target, err := rel.Get(entity)
		if err != nil {
			return nil, err
		}
		if target != nil && !s.Contains(target) {
			targetMapping, err := s.manager.registry.ForEntity(target)
			if err != nil {
				return nil, err
			}
			targetID, err := targetMapping.IdentifierOf(target)
			if err != nil {
				return nil, err
			}
			if schema.IsZeroID(targetID) {
				return nil, errors.Wrapf(ErrTransientReference, "merge %s.%s", mapping.Name, rel.Field)
			}
			if target, err = s.reference(targetMapping, targetID); err != nil {
				return nil, err
			}
		}
		if err := rel.Set(managed, target); err != nil {
			return nil, err
		}
	}
	return managed, nil
}

// Initialize loads a relation of a managed entity. Unmanaged entities and
// relations that are already loaded are left untouched.
func (s *Session) Initialize(ctx context.Context, entity any, field string) error {
	e, ok := s.byPtr[entity]
	if !ok {
		return nil
	}
	rel, ok := e.mapping.Relation(field)
	if !ok {
		return errors.Newf("%s has no relation %s", e.mapping.Name, field)
	}
	if !e.initialized {
		if err := s.load(ctx, e); err != nil {
			return err
		}
	}

	if rel.IsOwning() {
		target, err := rel.Get(entity)
		if err != nil || target == nil {
			return err
		}
		if te, ok := s.byPtr[target]; ok && !te.initialized {
			return s.load(ctx, te)
		}
		return nil
	}

	if e.loaded[rel] {
		return nil
	}

	id, err := e.mapping.IdentifierOf(entity)
	if err != nil {
		return err
	}
	c, err := query.CollectionCriteria(s.manager.registry, rel, []any{id}, nil)
	if err != nil {
		return err
	}
	results, err := s.ResultList(ctx, c)
	if err != nil {
		return err
	}

	if rel.IsCollection() {
		if err := rel.SetCollection(entity, results); err != nil {
			return err
		}
	} else {
		var target any
		if len(results) > 0 {
			target = results[0]
		}
		if err := rel.Set(entity, target); err != nil {
			return err
		}
	}
	e.loaded[rel] = true
	return nil
}

// IsLoaded reports whether the entity, or one of its relations when field is
// not empty, has been loaded. Unmanaged entities are always loaded.
func (s *Session) IsLoaded(entity any, field string) bool {
	e, ok := s.byPtr[entity]
	if !ok {
		return true
	}
	if field == "" {
		return e.initialized
	}
	rel, ok := e.mapping.Relation(field)
	if !ok || !e.initialized {
		return false
	}
	if !rel.IsOwning() {
		return e.loaded[rel]
	}
	target, err := rel.Get(entity)
	if err != nil {
		return false
	}
	if target == nil {
		return true
	}
	te, ok := s.byPtr[target]
	return !ok || te.initialized
}

// load fills an uninitialized entity from its row
func (s *Session) load(ctx context.Context, e *entry) error {
	id, err := e.mapping.IdentifierOf(e.entity)
	if err != nil {
		return err
	}
	c, err := query.NewCriteria(s.manager.registry, e.mapping.Type)
	if err != nil {
		return err
	}
	c.Where(query.Equal(c.Root().ID(), id))
	results, err := s.ResultList(ctx, c)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return errors.Wrapf(ErrNotFound, "%s %v", e.mapping.Name, id)
	}
	return nil
}

func (s *Session) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, q, args...)
	s.manager.logger.Debugw("exec", "sql", q, "args", args, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return res, nil
}

func (s *Session) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	s.manager.logger.Debugw("query", "sql", q, "args", args, "duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		return nil, ConvertDBError(err)
	}
	return rows, nil
}
