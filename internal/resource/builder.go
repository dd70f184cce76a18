package resource

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// Option customizes a resource registration
type Option func(*registration)

// Derive registers the function computing a derived attribute, by API name
func Derive(name string, fn DeriveFunc) Option {
	return func(r *registration) {
		r.derive[name] = fn
	}
}

type registration struct {
	dto    reflect.Type
	entity reflect.Type
	derive map[string]DeriveFunc
}

// Builder collects resource registrations and builds an immutable Registry
type Builder struct {
	registrations []*registration
}

// NewBuilder creates a new resource builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds a resource backed by the given entity. dto and entity may be
// struct values, pointers to structs or reflect.Types.
//
// DTO fields are declared with `jsonapi:"primary,<type>"` for the identifier,
// `jsonapi:"attr,<name>"` for attributes and `jsonapi:"relation,<name>"` for
// relations. `resource:"derived"` marks attributes computed from the entity
// and `resource:"opposite=<name>"` names the inverse relation on the target.
func (b *Builder) Register(dto, entity any, opts ...Option) *Builder {
	r := &registration{
		dto:    structType(dto),
		entity: structType(entity),
		derive: make(map[string]DeriveFunc),
	}
	for _, opt := range opts {
		opt(r)
	}
	b.registrations = append(b.registrations, r)
	return b
}

// Build parses all registrations, resolves relation targets and opposites,
// and returns the registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{
		byName:    make(map[string]*Type),
		byDTO:     make(map[reflect.Type]*Type),
		byStorage: make(map[reflect.Type]*Type),
	}

	for _, r := range b.registrations {
		t, err := parseType(r)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.byName[t.Name]; exists {
			return nil, errors.Newf("resource type %s is already registered", t.Name)
		}
		if _, exists := reg.byDTO[t.DTO]; exists {
			return nil, errors.Newf("DTO %s is already registered", t.DTO.Name())
		}
		if _, exists := reg.byStorage[t.Storage]; exists {
			return nil, errors.Newf("entity %s is already exposed as a resource", t.Storage.Name())
		}
		reg.types = append(reg.types, t)
		reg.byName[t.Name] = t
		reg.byDTO[t.DTO] = t
		reg.byStorage[t.Storage] = t
	}

	for _, t := range reg.types {
		for _, rel := range t.Relations {
			target, ok := reg.byDTO[rel.targetDTO]
			if !ok {
				return nil, errors.Newf("%s.%s: target DTO %s is not registered", t.Name, rel.Name, rel.targetDTO.Name())
			}
			rel.Target = target
		}
	}

	for _, t := range reg.types {
		for _, rel := range t.Relations {
			if rel.Opposite == "" {
				continue
			}
			opposite, ok := rel.Target.Relation(rel.Opposite)
			if !ok {
				return nil, errors.Newf("%s.%s: opposite %s.%s does not exist", t.Name, rel.Name, rel.Target.Name, rel.Opposite)
			}
			if opposite.Target != t {
				return nil, errors.Newf("%s.%s: opposite %s.%s targets %s", t.Name, rel.Name, rel.Target.Name, rel.Opposite, opposite.Target.Name)
			}
		}
	}

	return reg, nil
}

func structType(v any) reflect.Type {
	var t reflect.Type
	if rt, ok := v.(reflect.Type); ok {
		t = rt
	} else {
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func parseType(r *registration) (*Type, error) {
	if r.dto == nil || r.dto.Kind() != reflect.Struct {
		return nil, errors.Newf("DTO must be a struct, got %v", r.dto)
	}
	if r.entity == nil || r.entity.Kind() != reflect.Struct {
		return nil, errors.Newf("%s: entity must be a struct, got %v", r.dto.Name(), r.entity)
	}

	t := &Type{
		DTO:              r.dto,
		Storage:          r.entity,
		attributesByName: make(map[string]*AttributeField),
		relationsByName:  make(map[string]*RelationField),
	}

	for i := 0; i < r.dto.NumField(); i++ {
		f := r.dto.Field(i)
		tag, ok := f.Tag.Lookup("jsonapi")
		if !ok || tag == "-" || !f.IsExported() {
			continue
		}
		parts := strings.Split(tag, ",")
		if len(parts) < 2 || parts[1] == "" {
			return nil, errors.Newf("%s.%s: jsonapi tag needs a kind and a name", r.dto.Name(), f.Name)
		}
		kind, name := parts[0], parts[1]
		opts := parseResourceTag(f.Tag.Get("resource"))

		switch kind {
		case "primary":
			if t.ID != nil {
				return nil, errors.Newf("%s: multiple primary fields", r.dto.Name())
			}
			t.Name = name
			t.ID = &AttributeField{Name: "id", Field: f.Name, index: f.Index, typ: f.Type}

		case "attr":
			attr := &AttributeField{Name: name, Field: f.Name, index: f.Index, typ: f.Type}
			if _, derived := opts["derived"]; derived {
				attr.Derived = true
				attr.derive = r.derive[name]
			} else if _, ok := r.entity.FieldByName(f.Name); !ok {
				return nil, errors.Newf("%s.%s: entity %s has no field %s", r.dto.Name(), name, r.entity.Name(), f.Name)
			}
			if _, exists := t.attributesByName[name]; exists {
				return nil, errors.Newf("%s: duplicate attribute %s", r.dto.Name(), name)
			}
			t.Attributes = append(t.Attributes, attr)
			t.attributesByName[name] = attr

		case "relation":
			rel, err := parseRelation(f, name, opts)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", r.dto.Name(), name)
			}
			if _, ok := r.entity.FieldByName(f.Name); !ok {
				return nil, errors.Newf("%s.%s: entity %s has no field %s", r.dto.Name(), name, r.entity.Name(), f.Name)
			}
			if _, exists := t.relationsByName[name]; exists {
				return nil, errors.Newf("%s: duplicate relation %s", r.dto.Name(), name)
			}
			t.Relations = append(t.Relations, rel)
			t.relationsByName[name] = rel

		default:
			return nil, errors.Newf("%s.%s: unknown jsonapi kind %q", r.dto.Name(), f.Name, kind)
		}
	}

	if t.ID == nil {
		return nil, errors.Newf("%s: no primary field", r.dto.Name())
	}
	for name := range r.derive {
		if a, ok := t.attributesByName[name]; !ok || !a.Derived {
			return nil, errors.Newf("%s: derivation registered for %s, which is not a derived attribute", t.Name, name)
		}
	}
	return t, nil
}

func parseRelation(f reflect.StructField, name string, opts map[string]string) (*RelationField, error) {
	rel := &RelationField{
		Name:     name,
		Field:    f.Name,
		Opposite: opts["opposite"],
		index:    f.Index,
		typ:      f.Type,
	}
	switch {
	case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct:
		rel.Cardinality = ToOne
		rel.targetDTO = f.Type.Elem()
	case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Pointer &&
		f.Type.Elem().Elem().Kind() == reflect.Struct:
		rel.Cardinality = ToMany
		rel.targetDTO = f.Type.Elem().Elem()
	default:
		return nil, errors.Newf("relation field must be a struct pointer or a slice of struct pointers, got %s", f.Type)
	}
	return rel, nil
}

func parseResourceTag(tag string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		opts[key] = value
	}
	return opts
}

func assign(dst reflect.Value, value any, field string) error {
	if err := schema.Assign(dst, value); err != nil {
		return errors.Wrapf(err, "field %s", field)
	}
	return nil
}
