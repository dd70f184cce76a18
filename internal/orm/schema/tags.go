package schema

import (
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
)

var timeType = reflect.TypeOf(time.Time{})

// buildMapping derives an EntityMapping from struct tags.
//
// Columns use `db:"name[,pk][,natural_id]"`; an exported field without a db
// tag is mapped to its snake_case name when it has a scalar type. Relations use
// `orm:"kind[,join=fk_column][,mapped_by=Field]"` and must be pointers (to-one)
// or slices of pointers (to-many) to another entity struct.
func buildMapping(t reflect.Type, table string) (*EntityMapping, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf("entity type %s must be a struct", t)
	}

	m := &EntityMapping{
		Name:             t.Name(),
		Type:             t,
		Table:            table,
		columnsByField:   make(map[string]*Column),
		relationsByField: make(map[string]*Relation),
	}
	if m.Table == "" {
		m.Table = toSnakeCase(t.Name()) + "s"
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		if ormTag, ok := f.Tag.Lookup("orm"); ok {
			if ormTag == "-" {
				continue
			}
			rel, err := parseRelation(f, ormTag)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", t.Name(), f.Name)
			}
			m.Relations = append(m.Relations, rel)
			m.relationsByField[rel.Field] = rel
			continue
		}

		dbTag, tagged := f.Tag.Lookup("db")
		if dbTag == "-" {
			continue
		}
		if !tagged && !isScalar(f.Type) {
			continue
		}

		col := &Column{Field: f.Name, index: f.Index, typ: f.Type}
		parts := strings.Split(dbTag, ",")
		col.Name = strings.TrimSpace(parts[0])
		if col.Name == "" {
			col.Name = toSnakeCase(f.Name)
		}
		for _, opt := range parts[1:] {
			switch strings.TrimSpace(opt) {
			case "pk":
				col.PrimaryKey = true
			case "natural_id":
				col.NaturalID = true
			case "":
			default:
				return nil, errors.Newf("%s.%s: unknown db option %q", t.Name(), f.Name, opt)
			}
		}

		if col.PrimaryKey {
			if m.ID != nil {
				return nil, errors.Newf("%s: multiple primary key columns", t.Name())
			}
			m.ID = col
		}
		if col.NaturalID {
			if m.NaturalID != nil {
				return nil, errors.Newf("%s: multiple natural id columns", t.Name())
			}
			m.NaturalID = col
		}
		m.Columns = append(m.Columns, col)
		m.columnsByField[col.Field] = col
	}

	if m.ID == nil {
		if col, ok := m.columnsByField["ID"]; ok {
			col.PrimaryKey = true
			m.ID = col
		} else {
			return nil, errors.Newf("%s: no primary key column", t.Name())
		}
	}

	return m, nil
}

func parseRelation(f reflect.StructField, tag string) (*Relation, error) {
	parts := strings.Split(tag, ",")
	kind, err := ParseRelationKind(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}

	rel := &Relation{Field: f.Name, Kind: kind, index: f.Index, typ: f.Type}
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "join":
			rel.JoinColumn = value
		case "mapped_by":
			rel.MappedBy = value
		default:
			return nil, errors.Newf("unknown orm option %q", opt)
		}
	}

	switch kind {
	case OneToMany:
		if f.Type.Kind() != reflect.Slice || f.Type.Elem().Kind() != reflect.Pointer ||
			f.Type.Elem().Elem().Kind() != reflect.Struct {
			return nil, errors.Newf("one_to_many field must be a slice of struct pointers, got %s", f.Type)
		}
		rel.Target = f.Type.Elem().Elem()
		if rel.MappedBy == "" {
			return nil, errors.New("one_to_many requires mapped_by")
		}
		if rel.JoinColumn != "" {
			return nil, errors.New("one_to_many cannot declare a join column")
		}
	default:
		if f.Type.Kind() != reflect.Pointer || f.Type.Elem().Kind() != reflect.Struct {
			return nil, errors.Newf("%s field must be a struct pointer, got %s", kind, f.Type)
		}
		rel.Target = f.Type.Elem()
		if kind == ManyToOne && rel.JoinColumn == "" {
			rel.JoinColumn = toSnakeCase(f.Name) + "_id"
		}
		if rel.JoinColumn == "" && rel.MappedBy == "" {
			return nil, errors.New("one_to_one requires join or mapped_by")
		}
		if rel.JoinColumn != "" && rel.MappedBy != "" {
			return nil, errors.New("join and mapped_by are mutually exclusive")
		}
	}

	return rel, nil
}

func isScalar(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == timeType {
		return true
	}
	if reflect.PointerTo(t).Implements(scannerType) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// toSnakeCase converts CamelCase to snake_case, keeping acronyms together
func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
