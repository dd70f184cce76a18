package resource

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrUnknownField is returned when a path names a field the resource does not have
var ErrUnknownField = errors.New("unknown field")

// ResolvePath converts an API attribute path into Go field names. Leading
// segments must be to-one relations; the last segment is "id", a stored
// attribute or a to-one relation.
func (t *Type) ResolvePath(path []string) ([]string, error) {
	if len(path) == 0 {
		return nil, errors.Wrap(ErrUnknownField, "empty path")
	}

	fields := make([]string, 0, len(path))
	cur := t
	for i, seg := range path {
		last := i == len(path)-1

		if last {
			if seg == "id" {
				return append(fields, cur.ID.Field), nil
			}
			if attr, ok := cur.Attribute(seg); ok {
				if attr.Derived {
					return nil, errors.Wrapf(ErrUnknownField, "%s.%s is derived and not stored", cur.Name, seg)
				}
				return append(fields, attr.Field), nil
			}
		}

		rel, ok := cur.Relation(seg)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownField, "%s has no field %s", cur.Name, seg)
		}
		if rel.IsToMany() {
			return nil, errors.Wrapf(ErrUnknownField, "%s.%s is a to-many relation", cur.Name, seg)
		}
		fields = append(fields, rel.Field)
		cur = rel.Target
	}
	return fields, nil
}

// ResolveRelationPath validates an include path and returns the relations it traverses
func (t *Type) ResolveRelationPath(path []string) ([]*RelationField, error) {
	if len(path) == 0 {
		return nil, errors.Wrap(ErrUnknownField, "empty relation path")
	}
	rels := make([]*RelationField, 0, len(path))
	cur := t
	for _, seg := range path {
		rel, ok := cur.Relation(seg)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownField, "%s has no relation %s", cur.Name, seg)
		}
		rels = append(rels, rel)
		cur = rel.Target
	}
	return rels, nil
}

// SplitPath splits a dotted API path
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
