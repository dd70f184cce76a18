package schema

import (
	"reflect"

	"github.com/cockroachdb/errors"
)

func structValue(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, errors.AssertionFailedf("entity must be a non-nil pointer, got %T", entity)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, errors.AssertionFailedf("entity must point to a struct, got %T", entity)
	}
	return v, nil
}

// Get returns the column's value on entity
func (c *Column) Get(entity any) (any, error) {
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(c.index).Interface(), nil
}

// Set assigns value to the column's field on entity
func (c *Column) Set(entity, value any) error {
	v, err := structValue(entity)
	if err != nil {
		return err
	}
	if err := Assign(v.FieldByIndex(c.index), value); err != nil {
		return errors.Wrapf(err, "field %s", c.Field)
	}
	return nil
}

// Value returns the driver value for the column on entity
func (c *Column) Value(entity any) (any, error) {
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	return DriverValue(v.FieldByIndex(c.index))
}

// Get returns the related entity of a to-one relation, or nil when unset.
// The result is an untyped nil rather than a typed nil pointer.
func (r *Relation) Get(entity any) (any, error) {
	if r.IsCollection() {
		return nil, errors.AssertionFailedf("relation %s is a collection", r.Field)
	}
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	fv := v.FieldByIndex(r.index)
	if fv.IsNil() {
		return nil, nil
	}
	return fv.Interface(), nil
}

// Set assigns the related entity of a to-one relation. A nil target clears it.
func (r *Relation) Set(entity, target any) error {
	if r.IsCollection() {
		return errors.AssertionFailedf("relation %s is a collection", r.Field)
	}
	v, err := structValue(entity)
	if err != nil {
		return err
	}
	fv := v.FieldByIndex(r.index)
	if target == nil {
		fv.Set(reflect.Zero(r.typ))
		return nil
	}
	tv := reflect.ValueOf(target)
	if tv.Type() != r.typ {
		return errors.Newf("relation %s expects %s, got %T", r.Field, r.typ, target)
	}
	fv.Set(tv)
	return nil
}

// Collection returns the elements of a to-many relation
func (r *Relation) Collection(entity any) ([]any, error) {
	if !r.IsCollection() {
		return nil, errors.AssertionFailedf("relation %s is not a collection", r.Field)
	}
	v, err := structValue(entity)
	if err != nil {
		return nil, err
	}
	fv := v.FieldByIndex(r.index)
	items := make([]any, 0, fv.Len())
	for i := 0; i < fv.Len(); i++ {
		items = append(items, fv.Index(i).Interface())
	}
	return items, nil
}

// SetCollection replaces the elements of a to-many relation
func (r *Relation) SetCollection(entity any, items []any) error {
	if !r.IsCollection() {
		return errors.AssertionFailedf("relation %s is not a collection", r.Field)
	}
	v, err := structValue(entity)
	if err != nil {
		return err
	}
	slice := reflect.MakeSlice(r.typ, 0, len(items))
	elemType := r.typ.Elem()
	for _, item := range items {
		iv := reflect.ValueOf(item)
		if !iv.IsValid() || iv.Type() != elemType {
			return errors.Newf("relation %s expects %s elements, got %T", r.Field, elemType, item)
		}
		slice = reflect.Append(slice, iv)
	}
	v.FieldByIndex(r.index).Set(slice)
	return nil
}

// IdentifierOf returns the primary key value of entity
func (m *EntityMapping) IdentifierOf(entity any) (any, error) {
	if !m.Owns(entity) {
		return nil, errors.AssertionFailedf("%T is not a %s entity", entity, m.Name)
	}
	return m.ID.Get(entity)
}

// SetIdentifier assigns the primary key value of entity
func (m *EntityMapping) SetIdentifier(entity, id any) error {
	if !m.Owns(entity) {
		return errors.AssertionFailedf("%T is not a %s entity", entity, m.Name)
	}
	return m.ID.Set(entity, id)
}

// ConvertID converts an identifier of any representation into the id column's Go type
func (m *EntityMapping) ConvertID(id any) (any, error) {
	dst := reflect.New(m.ID.typ).Elem()
	if err := Assign(dst, id); err != nil {
		return nil, errors.Wrapf(err, "%s id", m.Name)
	}
	return dst.Interface(), nil
}
