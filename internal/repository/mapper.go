package repository

import (
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// Mapper copies entities into DTOs using the registered metadata. It does not
// load anything: relations that are not included only carry the identifiers
// already present on the entity.
type Mapper struct {
	resources *resource.Registry
	entities  *schema.Registry
}

// NewMapper creates a mapper over the resource and schema registries
func NewMapper(resources *resource.Registry, entities *schema.Registry) *Mapper {
	return &Mapper{resources: resources, entities: entities}
}

// EntityTypeFor returns the entity type backing a DTO type
func (m *Mapper) EntityTypeFor(dtoType reflect.Type) (reflect.Type, error) {
	rt, ok := m.resources.ByDTO(dtoType)
	if !ok {
		return nil, errors.Newf("no resource registered for DTO %v", dtoType)
	}
	return rt.Storage, nil
}

// DtoTypeFor returns the resource type exposing an entity type
func (m *Mapper) DtoTypeFor(entityType reflect.Type) (*resource.Type, error) {
	rt, ok := m.resources.ByStorage(entityType)
	if !ok {
		return nil, errors.Newf("no resource registered for entity %v", entityType)
	}
	return rt, nil
}

// ToDto converts an entity into a new DTO of spec's resource type. Relations
// named by the QuerySpec includes become full DTOs; other to-one relations become
// DTOs holding only the identifier and other to-many relations stay nil.
// A nil spec maps the entity onto its own resource type without includes.
func (m *Mapper) ToDto(entity any, spec *queryspec.QuerySpec) (any, error) {
	if entity == nil {
		return nil, nil
	}
	if spec == nil || spec.Resource == nil {
		rt, err := m.DtoTypeFor(reflect.TypeOf(entity))
		if err != nil {
			return nil, err
		}
		spec = queryspec.New(rt)
	}
	rt := spec.Resource

	mapping, ok := m.entities.ForType(rt.Storage)
	if !ok {
		return nil, errors.AssertionFailedf("resource %s has no entity mapping", rt.Name)
	}
	if !mapping.Owns(entity) {
		return nil, errors.Newf("cannot map %T to %s", entity, rt.Name)
	}

	dto := rt.New()
	id, err := mapping.IdentifierOf(entity)
	if err != nil {
		return nil, err
	}
	if err := rt.SetID(dto, id); err != nil {
		return nil, err
	}

	for _, attr := range rt.Attributes {
		if err := m.copyAttribute(attr, entity, dto); err != nil {
			return nil, errors.Wrapf(err, "%s.%s", rt.Name, attr.Name)
		}
	}

	for _, rel := range rt.Relations {
		if err := m.copyRelation(rel, mapping, entity, dto, spec); err != nil {
			return nil, errors.Wrapf(err, "%s.%s", rt.Name, rel.Name)
		}
	}
	return dto, nil
}

func (m *Mapper) copyAttribute(attr *resource.AttributeField, entity, dto any) error {
	if attr.Derived {
		v, ok, err := attr.Derive(entity)
		if err != nil {
			return err
		}
		if ok {
			return attr.Set(dto, v)
		}
	}
	v, ok := entityField(entity, attr.Field)
	if !ok {
		if attr.Derived {
			return nil
		}
		return errors.AssertionFailedf("entity %T has no field %s", entity, attr.Field)
	}
	return attr.Set(dto, v)
}

func (m *Mapper) copyRelation(rel *resource.RelationField, mapping *schema.EntityMapping, entity, dto any, spec *queryspec.QuerySpec) error {
	srel, ok := mapping.Relation(rel.Field)
	if !ok {
		return errors.AssertionFailedf("entity %s has no relation %s", mapping.Name, rel.Field)
	}

	if spec.IsIncluded(rel.Name) {
		nested := spec.Nested(rel)
		if rel.IsToMany() {
			items, err := srel.Collection(entity)
			if err != nil {
				return err
			}
			dtos := make([]any, 0, len(items))
			for _, item := range items {
				d, err := m.ToDto(item, nested)
				if err != nil {
					return err
				}
				dtos = append(dtos, d)
			}
			return rel.SetMany(dto, dtos)
		}
		target, err := srel.Get(entity)
		if err != nil || target == nil {
			return err
		}
		d, err := m.ToDto(target, nested)
		if err != nil {
			return err
		}
		return rel.SetOne(dto, d)
	}

	if rel.IsToMany() {
		return nil
	}
	target, err := srel.Get(entity)
	if err != nil || target == nil {
		return err
	}
	ref, err := m.reference(rel.Target, target)
	if err != nil {
		return err
	}
	return rel.SetOne(dto, ref)
}

// reference returns a DTO carrying only the identifier of entity
func (m *Mapper) reference(rt *resource.Type, entity any) (any, error) {
	mapping, ok := m.entities.ForType(rt.Storage)
	if !ok {
		return nil, errors.AssertionFailedf("resource %s has no entity mapping", rt.Name)
	}
	id, err := mapping.IdentifierOf(entity)
	if err != nil {
		return nil, err
	}
	ref := rt.New()
	if err := rt.SetID(ref, id); err != nil {
		return nil, err
	}
	return ref, nil
}

// entityField reads an exported field of an entity by Go name
func entityField(entity any, name string) (any, bool) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, false
	}
	f := v.FieldByName(name)
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}

// setEntityField assigns an exported field of an entity by Go name
func setEntityField(entity any, name string, value any) error {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return errors.AssertionFailedf("entity must be a non-nil struct pointer, got %T", entity)
	}
	f := v.Elem().FieldByName(name)
	if !f.IsValid() || !f.CanSet() {
		return errors.AssertionFailedf("entity %T has no settable field %s", entity, name)
	}
	return schema.Assign(f, value)
}
