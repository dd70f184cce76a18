package repository

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// Save applies a DTO to the stored entity with the same identifier and
// returns the identifier. ErrNotFound is returned when no such entity exists.
func (r *DtoRepository) Save(ctx context.Context, dto any) (any, error) {
	rt, entity, err := r.load(ctx, dto)
	if err != nil {
		return nil, err
	}
	if err := r.applyDtoToEntity(ctx, rt, dto, entity); err != nil {
		return nil, err
	}
	if err := r.validate(ctx, entity); err != nil {
		return nil, err
	}
	return r.em.IdentifierOf(entity)
}

// Create stores a new entity built from a DTO and returns its identifier.
// The identifier of the DTO is ignored.
func (r *DtoRepository) Create(ctx context.Context, dto any) (any, error) {
	rt, err := r.resourceFor(dto)
	if err != nil {
		return nil, err
	}
	entity, err := r.em.Instantiate(rt.Storage)
	if err != nil {
		return nil, err
	}
	if err := r.applyDtoToEntity(ctx, rt, dto, entity); err != nil {
		return nil, err
	}
	if err := r.validate(ctx, entity); err != nil {
		return nil, err
	}
	if err := r.em.Persist(ctx, entity); err != nil {
		return nil, err
	}
	return r.em.IdentifierOf(entity)
}

// Delete removes the stored entity with the identifier of a DTO. ErrNotFound
// is returned when no such entity exists.
func (r *DtoRepository) Delete(ctx context.Context, dto any) error {
	_, entity, err := r.load(ctx, dto)
	if err != nil {
		return err
	}
	return r.em.Remove(ctx, entity)
}

func (r *DtoRepository) validate(ctx context.Context, entity any) error {
	if r.validator == nil {
		return nil
	}
	return r.validator.Validate(ctx, entity)
}

func (r *DtoRepository) resourceFor(dto any) (*resource.Type, error) {
	if dto == nil {
		return nil, errors.New("resource DTO is required")
	}
	rt, ok := r.resources.ForDTO(dto)
	if !ok {
		return nil, errors.Newf("no resource registered for DTO %T", dto)
	}
	if !rt.Owns(dto) {
		return nil, errors.Newf("DTO must be a pointer to %s, got %T", rt.DTO.Name(), dto)
	}
	return rt, nil
}

// load finds the entity behind a DTO
func (r *DtoRepository) load(ctx context.Context, dto any) (*resource.Type, any, error) {
	rt, err := r.resourceFor(dto)
	if err != nil {
		return nil, nil, err
	}
	id, err := rt.IDOf(dto)
	if err != nil {
		return nil, nil, err
	}
	entity, err := r.em.Find(ctx, rt.Storage, id)
	if err != nil {
		return nil, nil, err
	}
	if entity == nil {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s %v", rt.Name, id)
	}
	return rt, entity, nil
}

// applyDtoToEntity copies the stored attributes of dto onto entity, then
// resolves every relation in declaration order. Derived attributes are never
// written. A nil to-many relation leaves the entity unchanged while an empty
// one clears it; a nil to-one relation clears it.
func (r *DtoRepository) applyDtoToEntity(ctx context.Context, rt *resource.Type, dto, entity any) error {
	mapping, err := r.mapping(rt)
	if err != nil {
		return err
	}

	for _, attr := range rt.Attributes {
		if attr.Derived {
			continue
		}
		v, err := attr.Get(dto)
		if err != nil {
			return err
		}
		if col, ok := mapping.Column(attr.Field); ok {
			err = col.Set(entity, v)
		} else {
			err = setEntityField(entity, attr.Field, v)
		}
		if err != nil {
			return errors.Wrapf(err, "%s.%s", rt.Name, attr.Name)
		}
	}

	for _, rel := range rt.Relations {
		ids, set, err := targetIDs(rel, dto)
		if err != nil {
			return errors.Wrapf(err, "%s.%s", rt.Name, rel.Name)
		}
		if !set {
			continue
		}

		srel, ok := mapping.Relation(rel.Field)
		if !ok {
			return errors.AssertionFailedf("entity %s has no relation %s", mapping.Name, rel.Field)
		}
		previous, err := r.currentTargets(ctx, srel, entity)
		if err != nil {
			return err
		}

		if err := r.ModifyRelation(ctx, entity, ids, rel.Field,
			ReplaceCollection, AppendToCollection, r.SetSingular); err != nil {
			return err
		}
		if err := r.detach(ctx, rt, rel, srel, entity, previous); err != nil {
			return err
		}
	}
	return nil
}

// targetIDs reads the identifiers a DTO assigns to a relation. set is false
// when the DTO leaves the relation unchanged.
func targetIDs(rel *resource.RelationField, dto any) (ids []any, set bool, err error) {
	if rel.IsToMany() {
		items, set, err := rel.Many(dto)
		if err != nil || !set {
			return nil, false, err
		}
		ids = make([]any, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			id, err := rel.Target.IDOf(item)
			if err != nil {
				return nil, false, err
			}
			ids = append(ids, id)
		}
		return ids, true, nil
	}

	related, err := rel.One(dto)
	if err != nil {
		return nil, false, err
	}
	if related == nil {
		return []any{}, true, nil
	}
	id, err := rel.Target.IDOf(related)
	if err != nil {
		return nil, false, err
	}
	return []any{id}, true, nil
}

// currentTargets returns what a relation of entity points at before it is rewritten
func (r *DtoRepository) currentTargets(ctx context.Context, srel *schema.Relation, entity any) ([]any, error) {
	if srel.IsCollection() {
		if !r.em.IsLoaded(ctx, entity, srel.Field) {
			if err := r.em.Initialize(ctx, entity, srel.Field); err != nil {
				return nil, err
			}
		}
		return srel.Collection(entity)
	}
	target, err := srel.Get(entity)
	if err != nil || target == nil {
		return nil, err
	}
	return []any{target}, nil
}

// detach unlinks the entities a relation no longer points at from their
// opposite side: a to-one opposite that still references entity is cleared and
// a loaded to-many opposite drops it.
func (r *DtoRepository) detach(ctx context.Context, rt *resource.Type, rel *resource.RelationField, srel *schema.Relation, entity any, previous []any) error {
	if len(previous) == 0 {
		return nil
	}
	opposite, ok := rt.Opposite(rel)
	if !ok {
		return nil
	}
	current, err := r.currentTargets(ctx, srel, entity)
	if err != nil {
		return err
	}
	targetMapping, err := r.mapping(rel.Target)
	if err != nil {
		return err
	}
	orel, ok := targetMapping.Relation(opposite.Field)
	if !ok {
		return errors.AssertionFailedf("entity %s has no relation %s", targetMapping.Name, opposite.Field)
	}

	for _, old := range previous {
		if containsIdentity(current, old) {
			continue
		}
		if orel.IsCollection() {
			if !r.em.IsLoaded(ctx, old, orel.Field) {
				continue
			}
			items, err := orel.Collection(old)
			if err != nil {
				return err
			}
			if err := orel.SetCollection(old, RemoveFromCollection(items, []any{entity})); err != nil {
				return err
			}
			continue
		}
		back, err := orel.Get(old)
		if err != nil {
			return err
		}
		if back == entity {
			if err := orel.Set(old, nil); err != nil {
				return err
			}
		}
	}
	return nil
}
