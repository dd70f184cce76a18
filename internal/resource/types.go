// Package resource describes the API-facing resource types and how each maps
// onto a storage entity. A Registry is assembled once with a Builder and is
// read-only afterwards.
package resource

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

// Cardinality is the declared shape of a relation field
type Cardinality int

const (
	// ToOne relations hold a single related resource
	ToOne Cardinality = iota
	// ToMany relations hold a list of related resources
	ToMany
)

// String returns the string representation of the cardinality
func (c Cardinality) String() string {
	switch c {
	case ToOne:
		return "to_one"
	case ToMany:
		return "to_many"
	default:
		return "unknown"
	}
}

// DeriveFunc computes the value of a derived attribute from the entity
type DeriveFunc func(entity any) (any, error)

// AttributeField is a plain value field of a resource
type AttributeField struct {
	Name    string // API name
	Field   string // Go field name, shared by the DTO and the entity
	Derived bool

	derive DeriveFunc
	index  []int
	typ    reflect.Type
}

// Type returns the Go type of the DTO field
func (a *AttributeField) Type() reflect.Type {
	return a.typ
}

// Derive computes the attribute from an entity. ok is false when no
// derivation function is registered.
func (a *AttributeField) Derive(entity any) (value any, ok bool, err error) {
	if a.derive == nil {
		return nil, false, nil
	}
	v, err := a.derive(entity)
	return v, true, err
}

// Get returns the attribute value of a DTO
func (a *AttributeField) Get(dto any) (any, error) {
	v, err := structValue(dto)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(a.index).Interface(), nil
}

// Set assigns the attribute value of a DTO
func (a *AttributeField) Set(dto, value any) error {
	v, err := structValue(dto)
	if err != nil {
		return err
	}
	return assign(v.FieldByIndex(a.index), value, a.Field)
}

// RelationField is a link from one resource to others
type RelationField struct {
	Name        string // API name
	Field       string // Go field name, shared by the DTO and the entity
	Cardinality Cardinality
	Target      *Type
	Opposite    string // API name of the inverse relation on Target, if any

	targetDTO reflect.Type
	index     []int
	typ       reflect.Type
}

// IsToMany returns true for list-valued relations
func (r *RelationField) IsToMany() bool {
	return r.Cardinality == ToMany
}

// One returns the related DTO of a to-one relation, or nil when unset
func (r *RelationField) One(dto any) (any, error) {
	if r.IsToMany() {
		return nil, errors.AssertionFailedf("relation %s is to-many", r.Name)
	}
	v, err := structValue(dto)
	if err != nil {
		return nil, err
	}
	fv := v.FieldByIndex(r.index)
	if fv.IsNil() {
		return nil, nil
	}
	return fv.Interface(), nil
}

// SetOne assigns the related DTO of a to-one relation
func (r *RelationField) SetOne(dto, related any) error {
	if r.IsToMany() {
		return errors.AssertionFailedf("relation %s is to-many", r.Name)
	}
	v, err := structValue(dto)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(r.index)
	if related == nil {
		fv.Set(reflect.Zero(r.typ))
		return nil
	}
	rv := reflect.ValueOf(related)
	if rv.Type() != r.typ {
		return errors.Newf("relation %s expects %s, got %T", r.Name, r.typ, related)
	}
	fv.Set(rv)
	return nil
}

// Many returns the related DTOs of a to-many relation. set is false when the
// field is nil, which means the relation was not provided.
func (r *RelationField) Many(dto any) (items []any, set bool, err error) {
	if !r.IsToMany() {
		return nil, false, errors.AssertionFailedf("relation %s is to-one", r.Name)
	}
	v, err := structValue(dto)
	if err != nil {
		return nil, false, err
	}
	fv := v.FieldByIndex(r.index)
	if fv.IsNil() {
		return nil, false, nil
	}
	items = make([]any, 0, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		items = append(items, fv.Index(i).Interface())
	}
	return items, true, nil
}

// SetMany assigns the related DTOs of a to-many relation. A nil slice unsets it.
func (r *RelationField) SetMany(dto any, items []any) error {
	if !r.IsToMany() {
		return errors.AssertionFailedf("relation %s is to-one", r.Name)
	}
	v, err := structValue(dto)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(r.index)
	if items == nil {
		fv.Set(reflect.Zero(r.typ))
		return nil
	}
	slice := reflect.MakeSlice(r.typ, 0, len(items))
	for _, item := range items {
		iv := reflect.ValueOf(item)
		if !iv.IsValid() || iv.Type() != r.typ.Elem() {
			return errors.Newf("relation %s expects %s elements, got %T", r.Name, r.typ.Elem(), item)
		}
		slice = reflect.Append(slice, iv)
	}
	fv.Set(slice)
	return nil
}

// Type is a resource type: a DTO struct exposed by the API and the entity
// struct it is stored as.
type Type struct {
	Name       string
	DTO        reflect.Type
	Storage    reflect.Type
	ID         *AttributeField
	Attributes []*AttributeField
	Relations  []*RelationField

	attributesByName map[string]*AttributeField
	relationsByName  map[string]*RelationField
}

// Attribute returns the attribute with the given API name
func (t *Type) Attribute(name string) (*AttributeField, bool) {
	a, ok := t.attributesByName[name]
	return a, ok
}

// Relation returns the relation with the given API name
func (t *Type) Relation(name string) (*RelationField, bool) {
	r, ok := t.relationsByName[name]
	return r, ok
}

// Opposite returns the inverse relation of rel on its target, if declared
func (t *Type) Opposite(rel *RelationField) (*RelationField, bool) {
	if rel.Opposite == "" || rel.Target == nil {
		return nil, false
	}
	return rel.Target.Relation(rel.Opposite)
}

// New returns a pointer to a zero DTO
func (t *Type) New() any {
	return reflect.New(t.DTO).Interface()
}

// IDOf returns the identifier of a DTO
func (t *Type) IDOf(dto any) (any, error) {
	if err := t.check(dto); err != nil {
		return nil, err
	}
	return t.ID.Get(dto)
}

// SetID assigns the identifier of a DTO
func (t *Type) SetID(dto, id any) error {
	if err := t.check(dto); err != nil {
		return err
	}
	return t.ID.Set(dto, id)
}

// Owns returns true if dto is a pointer to this type's DTO struct
func (t *Type) Owns(dto any) bool {
	if dto == nil {
		return false
	}
	rt := reflect.TypeOf(dto)
	return rt.Kind() == reflect.Pointer && rt.Elem() == t.DTO
}

func (t *Type) check(dto any) error {
	if !t.Owns(dto) {
		return errors.AssertionFailedf("%T is not a %s DTO", dto, t.Name)
	}
	return nil
}

func structValue(dto any) (reflect.Value, error) {
	v := reflect.ValueOf(dto)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errors.AssertionFailedf("DTO must be a non-nil struct pointer, got %T", dto)
	}
	return v.Elem(), nil
}
