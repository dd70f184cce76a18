package session

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// ResultList executes a criteria and returns the selected entities in row
// order. Pending changes are flushed first so the query sees them. Fetched
// relations are loaded before returning.
func (s *Session) ResultList(ctx context.Context, c *query.Criteria) ([]any, error) {
	if err := s.flush(ctx, false); err != nil {
		return nil, err
	}

	stmt, err := c.Compile(s.manager.dialect)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", stmt.Plan.Root.Mapping.Name)
	}
	defer rows.Close()

	h := &hydration{session: s, bySelection: make(map[*query.Selection][]any)}
	values := make([]any, stmt.Plan.Columns)
	ptrs := make([]any, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var results []any
	seen := make(map[any]bool)
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		entity, err := h.hydrate(stmt.Plan.Root, values)
		if err != nil {
			return nil, err
		}
		if entity != nil && !seen[entity] {
			seen[entity] = true
			results = append(results, entity)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ConvertDBError(err), "row iteration failed")
	}
	rows.Close()

	if err := h.loadDeferred(ctx, stmt.Plan.Root); err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of distinct entities selected by a criteria
func (s *Session) Count(ctx context.Context, c *query.Criteria) (int64, error) {
	if err := s.flush(ctx, false); err != nil {
		return 0, err
	}

	stmt, err := c.CompileCount(s.manager.dialect)
	if err != nil {
		return 0, err
	}

	rows, err := s.query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, errors.Wrap(err, "count query failed")
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, errors.Wrap(err, "failed to scan count")
		}
	}
	return count, errors.Wrap(rows.Err(), "count query failed")
}

// hydration turns rows of one statement into managed entities
type hydration struct {
	session     *Session
	bySelection map[*query.Selection][]any
}

func (h *hydration) hydrate(sel *query.Selection, row []any) (any, error) {
	s := h.session
	rawID := row[sel.Start+sel.IDIndex]
	if rawID == nil {
		return nil, nil
	}

	entity, err := s.reference(sel.Mapping, rawID)
	if err != nil {
		return nil, err
	}
	e := s.byPtr[entity]

	if !e.initialized {
		for i, col := range sel.Columns {
			if err := col.Set(entity, row[sel.Start+i]); err != nil {
				return nil, errors.Wrapf(err, "hydrate %s", sel.Mapping.Name)
			}
		}
		offset := sel.Start + len(sel.Columns)
		for i, rel := range sel.ForeignKeys {
			var target any
			if fk := row[offset+i]; fk != nil {
				targetMapping, ok := s.manager.registry.ForType(rel.Target)
				if !ok {
					return nil, errors.Newf("relation %s targets unregistered %s", rel.Field, rel.Target.Name())
				}
				if target, err = s.reference(targetMapping, fk); err != nil {
					return nil, err
				}
			}
			if err := rel.Set(entity, target); err != nil {
				return nil, err
			}
		}
		e.initialized = true
		if e.snapshot, _, err = s.state(e); err != nil {
			return nil, err
		}
	}

	for _, child := range sel.Fetched {
		target, err := h.hydrate(child, row)
		if err != nil {
			return nil, err
		}
		if child.Relation.IsOwning() || e.loaded[child.Relation] {
			continue
		}
		if err := child.Relation.Set(entity, target); err != nil {
			return nil, err
		}
		e.loaded[child.Relation] = true
	}

	h.bySelection[sel] = append(h.bySelection[sel], entity)
	return entity, nil
}

// loadDeferred loads the fetched collections of every selection in one
// statement per relation.
func (h *hydration) loadDeferred(ctx context.Context, sel *query.Selection) error {
	s := h.session
	owners := distinct(h.bySelection[sel])

	for _, d := range sel.Deferred {
		var pending []any
		var ids []any
		for _, owner := range owners {
			e := s.byPtr[owner]
			if e == nil || e.loaded[d.Relation] {
				continue
			}
			id, err := e.mapping.IdentifierOf(owner)
			if err != nil {
				return err
			}
			pending = append(pending, owner)
			ids = append(ids, id)
		}
		if len(pending) == 0 {
			continue
		}

		c, err := d.Criteria(s.manager.registry, ids)
		if err != nil {
			return err
		}
		children, err := s.ResultList(ctx, c)
		if err != nil {
			return err
		}

		grouped := make(map[any][]any, len(pending))
		for _, child := range children {
			owner, err := d.Relation.Owner.Get(child)
			if err != nil {
				return err
			}
			grouped[owner] = append(grouped[owner], child)
		}
		for _, owner := range pending {
			if d.Relation.IsCollection() {
				items := grouped[owner]
				if items == nil {
					items = []any{}
				}
				if err := d.Relation.SetCollection(owner, items); err != nil {
					return err
				}
			} else {
				var target any
				if items := grouped[owner]; len(items) > 0 {
					target = items[0]
				}
				if err := d.Relation.Set(owner, target); err != nil {
					return err
				}
			}
			s.byPtr[owner].loaded[d.Relation] = true
		}
	}

	for _, child := range sel.Fetched {
		if err := h.loadDeferred(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

func distinct(entities []any) []any {
	seen := make(map[any]bool, len(entities))
	result := make([]any, 0, len(entities))
	for _, e := range entities {
		if !seen[e] {
			seen[e] = true
			result = append(result, e)
		}
	}
	return result
}

// state computes the persisted values of an entity keyed by column name.
// Owning relations contribute their foreign key. pending is true when a
// referenced entity has not been saved yet; its foreign key is reported as nil.
func (s *Session) state(e *entry) (values map[string]any, pending bool, err error) {
	values = make(map[string]any, len(e.mapping.Columns))
	for _, col := range e.mapping.Columns {
		v, err := col.Value(e.entity)
		if err != nil {
			return nil, false, err
		}
		values[col.Name] = v
	}
	for _, rel := range e.mapping.OwningRelations() {
		fk, transient, err := s.foreignKey(rel, e.entity)
		if err != nil {
			return nil, false, err
		}
		if transient {
			pending = true
		}
		values[rel.JoinColumn] = fk
	}
	return values, pending, nil
}

func (s *Session) foreignKey(rel *schema.Relation, entity any) (fk any, transient bool, err error) {
	target, err := rel.Get(entity)
	if err != nil || target == nil {
		return nil, false, err
	}
	targetMapping, err := s.manager.registry.ForEntity(target)
	if err != nil {
		return nil, false, err
	}
	id, err := targetMapping.IdentifierOf(target)
	if err != nil {
		return nil, false, err
	}
	if schema.IsZeroID(id) && !s.Contains(target) {
		return nil, true, nil
	}
	return schema.NormalizeID(id), false, nil
}
