package schema

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

// Registry holds the entity mappings of the application.
// Mappings are registered at startup; once Validate succeeds the registry is
// sealed and safe for concurrent reads without locking.
type Registry struct {
	mappings []*EntityMapping
	byName   map[string]*EntityMapping
	byType   map[reflect.Type]*EntityMapping
	sealed   bool
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*EntityMapping),
		byType: make(map[reflect.Type]*EntityMapping),
	}
}

// Register builds and registers the mapping for an entity struct.
// entity may be a struct value, a pointer to one, or a reflect.Type.
// An empty table defaults to the pluralized snake_case type name.
func (r *Registry) Register(entity any, table string) (*EntityMapping, error) {
	if r.sealed {
		return nil, errors.New("schema registry is sealed")
	}

	var t reflect.Type
	switch e := entity.(type) {
	case reflect.Type:
		t = e
	default:
		t = reflect.TypeOf(entity)
	}
	if t == nil {
		return nil, errors.New("cannot register nil entity")
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if _, exists := r.byType[t]; exists {
		return nil, errors.Newf("entity %s is already registered", t.Name())
	}
	if _, exists := r.byName[t.Name()]; exists {
		return nil, errors.Newf("entity name %s is already registered", t.Name())
	}

	m, err := buildMapping(t, table)
	if err != nil {
		return nil, errors.Wrap(err, "schema validation failed")
	}

	r.mappings = append(r.mappings, m)
	r.byName[m.Name] = m
	r.byType[m.Type] = m
	return m, nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(entity any, table string) *EntityMapping {
	m, err := r.Register(entity, table)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate resolves relation targets and inverse sides across all mappings
// and seals the registry.
func (r *Registry) Validate() error {
	if r.sealed {
		return nil
	}

	for _, m := range r.mappings {
		for _, rel := range m.Relations {
			target, ok := r.byType[rel.Target]
			if !ok {
				return errors.Newf("%s.%s: target entity %s is not registered", m.Name, rel.Field, rel.Target.Name())
			}
			if rel.MappedBy == "" {
				continue
			}

			owner, ok := target.Relation(rel.MappedBy)
			if !ok {
				return errors.Newf("%s.%s: mapped_by field %s.%s does not exist", m.Name, rel.Field, target.Name, rel.MappedBy)
			}
			if !owner.IsOwning() {
				return errors.Newf("%s.%s: mapped_by field %s.%s is not an owning relation", m.Name, rel.Field, target.Name, rel.MappedBy)
			}
			if owner.Target != m.Type {
				return errors.Newf("%s.%s: mapped_by field %s.%s targets %s", m.Name, rel.Field, target.Name, rel.MappedBy, owner.Target.Name())
			}
			if rel.Kind == OneToMany && owner.Kind != ManyToOne {
				return errors.Newf("%s.%s: one_to_many must be mapped by a many_to_one", m.Name, rel.Field)
			}
			if rel.Kind == OneToOne && owner.Kind != OneToOne {
				return errors.Newf("%s.%s: one_to_one must be mapped by a one_to_one", m.Name, rel.Field)
			}
			rel.Owner = owner
		}
	}

	r.sealed = true
	return nil
}

// Sealed reports whether Validate has completed
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Get retrieves a mapping by entity name
func (r *Registry) Get(name string) (*EntityMapping, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// ForType retrieves the mapping of an entity struct type (or pointer to it)
func (r *Registry) ForType(t reflect.Type) (*EntityMapping, bool) {
	if t == nil {
		return nil, false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	m, ok := r.byType[t]
	return m, ok
}

// ForEntity retrieves the mapping of an entity instance
func (r *Registry) ForEntity(entity any) (*EntityMapping, error) {
	m, ok := r.ForType(reflect.TypeOf(entity))
	if !ok {
		return nil, errors.Newf("no mapping registered for %T", entity)
	}
	return m, nil
}

// All returns the registered mappings in registration order
func (r *Registry) All() []*EntityMapping {
	result := make([]*EntityMapping, len(r.mappings))
	copy(result, r.mappings)
	return result
}

// Count returns the number of registered mappings
func (r *Registry) Count() int {
	return len(r.mappings)
}
