// Package schema describes how entity structs map onto relational tables.
// Mappings are built once from struct tags at startup and are read-only afterwards.
package schema

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

// RelationKind represents the kind of association between two entities
type RelationKind int

const (
	// ManyToOne holds a foreign key column pointing at the target
	ManyToOne RelationKind = iota
	// OneToOne is either owning (join column) or inverse (mapped_by)
	OneToOne
	// OneToMany is the inverse, collection side of a ManyToOne
	OneToMany
)

// String returns the string representation of the relation kind
func (k RelationKind) String() string {
	switch k {
	case ManyToOne:
		return "many_to_one"
	case OneToOne:
		return "one_to_one"
	case OneToMany:
		return "one_to_many"
	default:
		return "unknown"
	}
}

// ParseRelationKind converts a tag value to a RelationKind
func ParseRelationKind(s string) (RelationKind, error) {
	switch s {
	case "many_to_one":
		return ManyToOne, nil
	case "one_to_one":
		return OneToOne, nil
	case "one_to_many":
		return OneToMany, nil
	default:
		return 0, errors.Newf("unknown relation kind: %s", s)
	}
}

// Column is a persisted attribute of an entity
type Column struct {
	Field      string // Go struct field name
	Name       string // column name
	PrimaryKey bool
	NaturalID  bool

	index []int
	typ   reflect.Type
}

// Type returns the Go type of the struct field backing the column
func (c *Column) Type() reflect.Type {
	return c.typ
}

// Relation is an association field of an entity
type Relation struct {
	Field      string // Go struct field name
	Kind       RelationKind
	Target     reflect.Type // target entity struct type
	JoinColumn string       // set on the owning side
	MappedBy   string       // set on the inverse side: owning field on the target

	// Owner is the owning relation on the target for inverse relations.
	// It is resolved by Registry.Validate.
	Owner *Relation

	index []int
	typ   reflect.Type
}

// IsCollection returns true if the relation holds a slice of entities
func (r *Relation) IsCollection() bool {
	return r.Kind == OneToMany
}

// IsOwning returns true if the relation is backed by a foreign key on its own table
func (r *Relation) IsOwning() bool {
	return r.JoinColumn != ""
}

// EntityMapping is the storage description of one entity struct type
type EntityMapping struct {
	Name      string
	Type      reflect.Type
	Table     string
	ID        *Column
	NaturalID *Column
	Columns   []*Column
	Relations []*Relation

	columnsByField   map[string]*Column
	relationsByField map[string]*Relation
}

// Column returns the column backed by the given Go field
func (m *EntityMapping) Column(field string) (*Column, bool) {
	c, ok := m.columnsByField[field]
	return c, ok
}

// Relation returns the relation backed by the given Go field
func (m *EntityMapping) Relation(field string) (*Relation, bool) {
	r, ok := m.relationsByField[field]
	return r, ok
}

// OwningRelations returns the relations stored as foreign key columns on this table
func (m *EntityMapping) OwningRelations() []*Relation {
	var owning []*Relation
	for _, rel := range m.Relations {
		if rel.IsOwning() {
			owning = append(owning, rel)
		}
	}
	return owning
}

// New returns a pointer to a zero value of the entity
func (m *EntityMapping) New() any {
	return reflect.New(m.Type).Interface()
}

// Owns returns true if entity is a pointer to this mapping's struct type
func (m *EntityMapping) Owns(entity any) bool {
	if entity == nil {
		return false
	}
	t := reflect.TypeOf(entity)
	return t.Kind() == reflect.Pointer && t.Elem() == m.Type
}
