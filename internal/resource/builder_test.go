package resource

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type author struct {
	ID    int64
	Name  string
	Books []*book
}

type book struct {
	ID     int64
	Title  string
	Author *author
}

type authorDTO struct {
	ID        int64      `jsonapi:"primary,author"`
	Name      string     `jsonapi:"attr,name"`
	NameUpper string     `jsonapi:"attr,nameUpper" resource:"derived"`
	Books     []*bookDTO `jsonapi:"relation,books" resource:"opposite=author"`
	Internal  string
}

type bookDTO struct {
	ID     int64      `jsonapi:"primary,book"`
	Title  string     `jsonapi:"attr,title"`
	Author *authorDTO `jsonapi:"relation,author" resource:"opposite=books"`
}

func buildTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewBuilder().
		Register(authorDTO{}, author{}, Derive("nameUpper", func(entity any) (any, error) {
			return strings.ToUpper(entity.(*author).Name), nil
		})).
		Register(&bookDTO{}, reflect.TypeOf(book{})).
		Build()
	require.NoError(t, err)
	return reg
}

func TestBuild(t *testing.T) {
	reg := buildTestRegistry(t)

	t.Run("lookups", func(t *testing.T) {
		a, ok := reg.ByName("author")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(authorDTO{}), a.DTO)
		assert.Equal(t, reflect.TypeOf(author{}), a.Storage)

		byDTO, ok := reg.ByDTO(reflect.TypeOf(&authorDTO{}))
		require.True(t, ok)
		assert.Same(t, a, byDTO)

		byStorage, ok := reg.ByStorage(reflect.TypeOf(author{}))
		require.True(t, ok)
		assert.Same(t, a, byStorage)

		forDTO, ok := reg.ForDTO(&bookDTO{})
		require.True(t, ok)
		assert.Equal(t, "book", forDTO.Name)

		assert.Len(t, reg.All(), 2)
	})

	t.Run("fields", func(t *testing.T) {
		a, _ := reg.ByName("author")
		assert.Equal(t, "ID", a.ID.Field)
		require.Len(t, a.Attributes, 2)

		upper, ok := a.Attribute("nameUpper")
		require.True(t, ok)
		assert.True(t, upper.Derived)
		v, derived, err := upper.Derive(&author{Name: "ursula"})
		require.NoError(t, err)
		assert.True(t, derived)
		assert.Equal(t, "URSULA", v)

		name, _ := a.Attribute("name")
		_, derived, err = name.Derive(&author{})
		require.NoError(t, err)
		assert.False(t, derived)

		books, ok := a.Relation("books")
		require.True(t, ok)
		assert.Equal(t, ToMany, books.Cardinality)
		assert.Equal(t, "book", books.Target.Name)

		opposite, ok := a.Opposite(books)
		require.True(t, ok)
		assert.Equal(t, "author", opposite.Name)
		assert.Equal(t, ToOne, opposite.Cardinality)
	})

	t.Run("dto accessors", func(t *testing.T) {
		a, _ := reg.ByName("author")
		b, _ := reg.ByName("book")

		dto := a.New().(*authorDTO)
		require.NoError(t, a.SetID(dto, "12"))
		id, err := a.IDOf(dto)
		require.NoError(t, err)
		assert.Equal(t, int64(12), id)

		books, _ := a.Relation("books")
		items, set, err := books.Many(dto)
		require.NoError(t, err)
		assert.False(t, set)
		assert.Nil(t, items)

		require.NoError(t, books.SetMany(dto, []any{}))
		items, set, err = books.Many(dto)
		require.NoError(t, err)
		assert.True(t, set)
		assert.Empty(t, items)

		bd := b.New().(*bookDTO)
		rel, _ := b.Relation("author")
		require.NoError(t, rel.SetOne(bd, dto))
		got, err := rel.One(bd)
		require.NoError(t, err)
		assert.Same(t, dto, got)
		assert.Error(t, rel.SetOne(bd, bd))

		_, err = a.IDOf(bd)
		assert.Error(t, err)
	})
}

func TestBuildErrors(t *testing.T) {
	type noPrimary struct {
		Name string `jsonapi:"attr,name"`
	}
	type missingEntityField struct {
		ID    int64  `jsonapi:"primary,x"`
		Extra string `jsonapi:"attr,extra"`
	}
	type badRelation struct {
		ID     int64  `jsonapi:"primary,y"`
		Author string `jsonapi:"relation,author"`
	}
	type unregisteredTarget struct {
		ID     int64      `jsonapi:"primary,z"`
		Author *authorDTO `jsonapi:"relation,author"`
	}
	type entityWithAuthor struct {
		ID     int64
		Extra  string
		Author *author
	}
	type wrongOpposite struct {
		ID     int64      `jsonapi:"primary,w"`
		Author *authorDTO `jsonapi:"relation,author" resource:"opposite=missing"`
	}

	tests := []struct {
		name  string
		build func() *Builder
	}{
		{"no primary", func() *Builder { return NewBuilder().Register(noPrimary{}, author{}) }},
		{"entity lacks field", func() *Builder { return NewBuilder().Register(missingEntityField{}, author{}) }},
		{"relation on scalar", func() *Builder { return NewBuilder().Register(badRelation{}, entityWithAuthor{}) }},
		{"unregistered target", func() *Builder { return NewBuilder().Register(unregisteredTarget{}, entityWithAuthor{}) }},
		{"missing opposite", func() *Builder {
			return NewBuilder().
				Register(authorDTO{}, author{}).
				Register(bookDTO{}, book{}).
				Register(wrongOpposite{}, entityWithAuthor{})
		}},
		{"duplicate name", func() *Builder {
			return NewBuilder().Register(bookDTO{}, book{}).Register(authorDTO{}, author{}).Register(bookDTO{}, book{})
		}},
		{"derivation for plain attribute", func() *Builder {
			return NewBuilder().
				Register(authorDTO{}, author{}, Derive("name", func(any) (any, error) { return nil, nil })).
				Register(bookDTO{}, book{})
		}},
		{"entity not a struct", func() *Builder { return NewBuilder().Register(bookDTO{}, 3) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			assert.Error(t, err)
		})
	}
}
