package resource

import (
	"reflect"
)

// Registry is the immutable set of resource types known to the application.
// It is safe for concurrent use.
type Registry struct {
	types     []*Type
	byName    map[string]*Type
	byDTO     map[reflect.Type]*Type
	byStorage map[reflect.Type]*Type
}

// ByName returns the resource type with the given API name
func (r *Registry) ByName(name string) (*Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// ByDTO returns the resource type of a DTO struct type (or pointer to it)
func (r *Registry) ByDTO(t reflect.Type) (*Type, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	rt, ok := r.byDTO[t]
	return rt, ok
}

// ByStorage returns the resource type exposing an entity struct type (or pointer to it)
func (r *Registry) ByStorage(t reflect.Type) (*Type, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	rt, ok := r.byStorage[t]
	return rt, ok
}

// ForDTO returns the resource type of a DTO instance
func (r *Registry) ForDTO(dto any) (*Type, bool) {
	return r.ByDTO(reflect.TypeOf(dto))
}

// All returns the resource types in registration order
func (r *Registry) All() []*Type {
	result := make([]*Type, len(r.types))
	copy(result, r.types)
	return result
}
