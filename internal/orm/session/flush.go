package session

import (
	"context"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// Flush writes the changed columns of every managed entity to the database.
// It fails when an entity still references an entity that was never persisted.
func (s *Session) Flush(ctx context.Context) error {
	return s.flush(ctx, true)
}

// flush writes pending updates. When strict is false, entities referencing
// unsaved entities are skipped and written by a later flush.
func (s *Session) flush(ctx context.Context, strict bool) error {
	for _, e := range s.order {
		if !e.initialized {
			continue
		}
		current, pending, err := s.state(e)
		if err != nil {
			return err
		}
		if pending {
			if strict {
				return errors.Wrapf(ErrTransientReference, "flush %s", e.mapping.Name)
			}
			continue
		}

		var names []string
		var args []any
		for _, col := range e.mapping.Columns {
			if col.PrimaryKey {
				continue
			}
			if !reflect.DeepEqual(current[col.Name], e.snapshot[col.Name]) {
				names = append(names, col.Name)
				args = append(args, current[col.Name])
			}
		}
		for _, rel := range e.mapping.OwningRelations() {
			if !reflect.DeepEqual(current[rel.JoinColumn], e.snapshot[rel.JoinColumn]) {
				names = append(names, rel.JoinColumn)
				args = append(args, current[rel.JoinColumn])
			}
		}
		if len(names) == 0 {
			continue
		}

		id, err := e.mapping.IdentifierOf(e.entity)
		if err != nil {
			return err
		}
		if err := s.update(ctx, e.mapping, names, args, id); err != nil {
			return err
		}
		e.snapshot = current
	}
	return nil
}

func (s *Session) update(ctx context.Context, mapping *schema.EntityMapping, names []string, args []any, id any) error {
	d := s.manager.dialect
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = query.QuoteIdentifier(name) + " = " + d.Placeholder(i+1)
	}
	q := "UPDATE " + query.QuoteIdentifier(mapping.Table) +
		" SET " + strings.Join(sets, ", ") +
		" WHERE " + query.QuoteIdentifier(mapping.ID.Name) + " = " + d.Placeholder(len(names)+1)

	res, err := s.exec(ctx, q, append(args, id)...)
	if err != nil {
		return errors.Wrapf(err, "update %s", mapping.Name)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "update %s %v", mapping.Name, id)
	}
	return nil
}

// PrePersister is implemented by entities that prepare their state before insert
type PrePersister interface {
	PrePersist(ctx context.Context) error
}

func (s *Session) insert(ctx context.Context, mapping *schema.EntityMapping, entity any) error {
	d := s.manager.dialect

	if hook, ok := entity.(PrePersister); ok {
		if err := hook.PrePersist(ctx); err != nil {
			return errors.Wrapf(err, "pre-persist %s", mapping.Name)
		}
	}

	id, err := mapping.IdentifierOf(entity)
	if err != nil {
		return err
	}
	generated := schema.IsZeroID(id)

	var names []string
	var args []any
	for _, col := range mapping.Columns {
		if col.PrimaryKey && generated {
			continue
		}
		v, err := col.Value(entity)
		if err != nil {
			return err
		}
		names = append(names, col.Name)
		args = append(args, v)
	}
	for _, rel := range mapping.OwningRelations() {
		fk, _, err := s.foreignKey(rel, entity)
		if err != nil {
			return err
		}
		names = append(names, rel.JoinColumn)
		args = append(args, fk)
	}

	var q strings.Builder
	q.WriteString("INSERT INTO ")
	q.WriteString(query.QuoteIdentifier(mapping.Table))
	if len(names) == 0 {
		q.WriteString(" DEFAULT VALUES")
	} else {
		cols := make([]string, len(names))
		placeholders := make([]string, len(names))
		for i, name := range names {
			cols[i] = query.QuoteIdentifier(name)
			placeholders[i] = d.Placeholder(i + 1)
		}
		q.WriteString(" (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")")
	}
	q.WriteString(" RETURNING ")
	q.WriteString(query.QuoteIdentifier(mapping.ID.Name))

	rows, err := s.query(ctx, q.String(), args...)
	if err != nil {
		return errors.Wrapf(err, "insert %s", mapping.Name)
	}
	defer rows.Close()

	var returned any
	if rows.Next() {
		if err := rows.Scan(&returned); err != nil {
			return errors.Wrapf(err, "insert %s", mapping.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrapf(ConvertDBError(err), "insert %s", mapping.Name)
	}
	if returned == nil {
		return errors.Newf("insert %s returned no identifier", mapping.Name)
	}
	rows.Close()

	if err := mapping.SetIdentifier(entity, returned); err != nil {
		return err
	}
	id, _ = mapping.IdentifierOf(entity)

	if existing, ok := s.byKey[entityKey{mapping: mapping, id: schema.NormalizeID(id)}]; ok {
		s.forget(existing)
	}
	e := s.register(mapping, entity, id)
	e.initialized = true
	for _, rel := range mapping.Relations {
		if !rel.IsOwning() {
			e.loaded[rel] = true
		}
	}

	// unsaved references were written as NULL and stay nil in the snapshot
	e.snapshot, _, err = s.state(e)
	return err
}
