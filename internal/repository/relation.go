package repository

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/resource"
)

// SourceCollectionHandler returns the new elements of the source's to-many
// relation given its current elements and the resolved targets
type SourceCollectionHandler func(current, targets []any) []any

// OppositeCollectionHandler returns the new elements of a target's to-many
// inverse relation given its current elements and the source entity
type OppositeCollectionHandler func(current []any, source any) []any

// SingularHandler assigns value to the to-one relation field of entity
type SingularHandler func(entity any, field string, value any) error

// ReplaceCollection discards the current elements and keeps the distinct
// targets
func ReplaceCollection(_, targets []any) []any {
	return AddToCollection(nil, targets)
}

// AddToCollection appends the targets that are not already present
func AddToCollection(current, targets []any) []any {
	result := append([]any(nil), current...)
	for _, t := range targets {
		if !containsIdentity(result, t) {
			result = append(result, t)
		}
	}
	return result
}

// RemoveFromCollection drops the targets from the current elements
func RemoveFromCollection(current, targets []any) []any {
	result := make([]any, 0, len(current))
	for _, c := range current {
		if !containsIdentity(targets, c) {
			result = append(result, c)
		}
	}
	return result
}

// AppendToCollection adds the source to an opposite collection unless it is
// already present
func AppendToCollection(current []any, source any) []any {
	return AddToCollection(current, []any{source})
}

// SetSingular assigns value to the named to-one relation of entity. The field
// is the Go field name shared by the entity and its DTO.
func (r *DtoRepository) SetSingular(entity any, field string, value any) error {
	mapping, err := r.entities.ForEntity(entity)
	if err != nil {
		return err
	}
	rel, ok := mapping.Relation(field)
	if !ok {
		return setEntityField(entity, field, value)
	}
	return rel.Set(entity, value)
}

// ModifyRelation points the relation field of source at the entities with the
// given identifiers and keeps the opposite side consistent. field is the API
// or Go name of the relation.
//
// Targets are loaded in the order of targetIDs; an unknown identifier fails
// with ErrRelatedNotFound and a to-one relation given more than one identifier
// fails with ErrMultipleTargets, both before anything is modified. A to-many
// relation is initialized and rewritten with onSourceCollection; a to-one
// relation is assigned through onSingular with the target or nil.
//
// When the relation declares an opposite, every target is fixed up: a to-many
// opposite receives the source through onOppositeCollection unless it already
// holds it; a to-one opposite is assigned the source through onSingular.
func (r *DtoRepository) ModifyRelation(
	ctx context.Context,
	source any,
	targetIDs []any,
	field string,
	onSourceCollection SourceCollectionHandler,
	onOppositeCollection OppositeCollectionHandler,
	onSingular SingularHandler,
) error {
	if source == nil {
		return errors.New("modify relation: source entity is required")
	}
	rt, mapping, err := r.resourceOf(source)
	if err != nil {
		return err
	}
	rel, ok := relationNamed(rt, field)
	if !ok {
		return errors.Wrapf(resource.ErrUnknownField, "%s has no relation %s", rt.Name, field)
	}
	srel, ok := mapping.Relation(rel.Field)
	if !ok {
		return errors.AssertionFailedf("entity %s has no relation %s", mapping.Name, rel.Field)
	}
	if !rel.IsToMany() && len(targetIDs) > 1 {
		return errors.Wrapf(ErrMultipleTargets, "%s.%s got %d identifiers", rt.Name, rel.Name, len(targetIDs))
	}

	targets := make([]any, 0, len(targetIDs))
	for _, id := range targetIDs {
		target, err := r.em.Find(ctx, rel.Target.Storage, id)
		if err != nil {
			return err
		}
		if target == nil {
			return errors.Wrapf(ErrRelatedNotFound, "%s %v", rel.Target.Name, id)
		}
		targets = append(targets, target)
	}

	if rel.IsToMany() {
		if onSourceCollection == nil {
			return errors.AssertionFailedf("relation %s.%s needs a collection handler", rt.Name, rel.Name)
		}
		if err := r.em.Initialize(ctx, source, rel.Field); err != nil {
			return err
		}
		current, err := srel.Collection(source)
		if err != nil {
			return err
		}
		if err := srel.SetCollection(source, onSourceCollection(current, targets)); err != nil {
			return err
		}
	} else {
		if onSingular == nil {
			return errors.AssertionFailedf("relation %s.%s needs a singular handler", rt.Name, rel.Name)
		}
		var first any
		if len(targets) > 0 {
			first = targets[0]
		}
		if err := onSingular(source, rel.Field, first); err != nil {
			return err
		}
	}

	opposite, ok := rt.Opposite(rel)
	if !ok {
		return nil
	}
	targetMapping, err := r.mapping(rel.Target)
	if err != nil {
		return err
	}
	orel, ok := targetMapping.Relation(opposite.Field)
	if !ok {
		return errors.AssertionFailedf("entity %s has no relation %s", targetMapping.Name, opposite.Field)
	}

	for _, target := range targets {
		if !opposite.IsToMany() {
			if onSingular == nil {
				return errors.AssertionFailedf("relation %s.%s needs a singular handler", rel.Target.Name, opposite.Name)
			}
			if err := onSingular(target, opposite.Field, source); err != nil {
				return err
			}
			continue
		}
		if onOppositeCollection == nil {
			return errors.AssertionFailedf("relation %s.%s needs a collection handler", rel.Target.Name, opposite.Name)
		}
		if err := r.em.Initialize(ctx, target, opposite.Field); err != nil {
			return err
		}
		current, err := orel.Collection(target)
		if err != nil {
			return err
		}
		if containsIdentity(current, source) {
			continue
		}
		if err := orel.SetCollection(target, onOppositeCollection(current, source)); err != nil {
			return err
		}
	}
	return nil
}

func relationNamed(rt *resource.Type, field string) (*resource.RelationField, bool) {
	if rel, ok := rt.Relation(field); ok {
		return rel, true
	}
	for _, rel := range rt.Relations {
		if rel.Field == field {
			return rel, true
		}
	}
	return nil, false
}

func containsIdentity(items []any, x any) bool {
	for _, item := range items {
		if item == x {
			return true
		}
	}
	return false
}
