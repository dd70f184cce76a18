package schema

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type team struct {
	ID      int64     `db:"id,pk"`
	Name    string    `db:"name"`
	Members []*player `orm:"one_to_many,mapped_by=Team"`
	Captain *player   `orm:"one_to_one,join=captain_id"`
	Notes   []string
}

type player struct {
	ID     int64     `db:"id,pk"`
	Code   uuid.UUID `db:"code,natural_id"`
	Handle string
	Rating *float64
	Team   *team `orm:"many_to_one"`
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	_, err := reg.Register(team{}, "teams")
	require.NoError(t, err)
	_, err = reg.Register(&player{}, "")
	require.NoError(t, err)
	require.NoError(t, reg.Validate())
	return reg
}

func TestRegistry(t *testing.T) {
	t.Run("register and lookup", func(t *testing.T) {
		reg := newTestRegistry(t)

		m, ok := reg.Get("team")
		require.True(t, ok)
		assert.Equal(t, "teams", m.Table)

		byType, ok := reg.ForType(reflect.TypeOf(&team{}))
		require.True(t, ok)
		assert.Same(t, m, byType)

		p, err := reg.ForEntity(&player{})
		require.NoError(t, err)
		assert.Equal(t, "players", p.Table)
		assert.Equal(t, 2, reg.Count())
		assert.True(t, reg.Sealed())
	})

	t.Run("duplicate registration", func(t *testing.T) {
		reg := NewRegistry()
		_, err := reg.Register(team{}, "")
		require.NoError(t, err)
		_, err = reg.Register(&team{}, "")
		assert.Error(t, err)
	})

	t.Run("sealed registry rejects registration", func(t *testing.T) {
		reg := newTestRegistry(t)
		type extra struct {
			ID int `db:"id,pk"`
		}
		_, err := reg.Register(extra{}, "")
		assert.Error(t, err)
	})

	t.Run("unregistered relation target", func(t *testing.T) {
		reg := NewRegistry()
		_, err := reg.Register(team{}, "")
		require.NoError(t, err)
		assert.Error(t, reg.Validate())
	})

	t.Run("unknown entity", func(t *testing.T) {
		reg := newTestRegistry(t)
		_, err := reg.ForEntity(&struct{}{})
		assert.Error(t, err)
	})
}

func TestMapping(t *testing.T) {
	reg := newTestRegistry(t)
	tm, _ := reg.Get("team")
	pm, _ := reg.Get("player")

	t.Run("columns", func(t *testing.T) {
		require.NotNil(t, pm.ID)
		assert.Equal(t, "id", pm.ID.Name)
		require.NotNil(t, pm.NaturalID)
		assert.Equal(t, "code", pm.NaturalID.Name)

		handle, ok := pm.Column("Handle")
		require.True(t, ok)
		assert.Equal(t, "handle", handle.Name)

		_, ok = tm.Column("Notes")
		assert.False(t, ok)
		assert.Len(t, tm.Columns, 2)
	})

	t.Run("relations", func(t *testing.T) {
		members, ok := tm.Relation("Members")
		require.True(t, ok)
		assert.True(t, members.IsCollection())
		assert.False(t, members.IsOwning())
		require.NotNil(t, members.Owner)
		assert.Equal(t, "team_id", members.Owner.JoinColumn)

		captain, ok := tm.Relation("Captain")
		require.True(t, ok)
		assert.Equal(t, OneToOne, captain.Kind)
		assert.True(t, captain.IsOwning())

		assert.Len(t, pm.OwningRelations(), 1)
		assert.Len(t, tm.OwningRelations(), 1)
	})
}

func TestBuildMappingErrors(t *testing.T) {
	type noKey struct {
		Name string
	}
	type badRelation struct {
		ID    int64  `db:"id,pk"`
		Owner string `orm:"many_to_one"`
	}
	type missingMappedBy struct {
		ID       int64     `db:"id,pk"`
		Children []*player `orm:"one_to_many"`
	}
	type unknownKind struct {
		ID    int64   `db:"id,pk"`
		Other *player `orm:"many_to_many"`
	}

	tests := []struct {
		name   string
		entity any
	}{
		{"no primary key", noKey{}},
		{"relation on scalar", badRelation{}},
		{"one_to_many without mapped_by", missingMappedBy{}},
		{"unknown relation kind", unknownKind{}},
		{"not a struct", 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry().Register(tt.entity, "")
			assert.Error(t, err)
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"ID":           "id",
		"Name":         "name",
		"EmployeeID":   "employee_id",
		"UUID":         "uuid",
		"HTTPServer":   "http_server",
		"NameLength2x": "name_length2x",
	}
	for in, want := range tests {
		assert.Equal(t, want, toSnakeCase(in), in)
	}
}
