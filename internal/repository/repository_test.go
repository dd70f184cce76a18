package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/resourcemap/internal/demo"
	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/session"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

const seedSQL = `
INSERT INTO departments (name, location) VALUES
	('Engineering', 'Ottawa'),
	('Sales', 'Toronto'),
	('Legal', 'Montreal');
INSERT INTO employees (name, job, department_id) VALUES
	('Ada', 'dev', 1),
	('Grace', 'admiral', 1),
	('Linus', 'dev', 2),
	('Ken', 'ops', NULL);`

type fixture struct {
	db          *sql.DB
	manager     *session.Manager
	repo        *DtoRepository
	departments *resource.Type
	employees   *resource.Type
	persons     *resource.Type
}

func setupFixture(t *testing.T, seed bool) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, demo.Migrate(ctx, db, query.SQLite))
	if seed {
		_, err = db.ExecContext(ctx, seedSQL)
		require.NoError(t, err)
	}

	entities, resources, err := demo.Register()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t).Sugar()
	manager, err := session.NewManager(db, query.SQLite, entities, logger)
	require.NoError(t, err)

	repo, err := New(manager, resources, Config{Logger: logger})
	require.NoError(t, err)

	f := &fixture{db: db, manager: manager, repo: repo}
	f.departments, _ = resources.ByName("department")
	f.employees, _ = resources.ByName("employee")
	f.persons, _ = resources.ByName("person")
	return f
}

// inTx runs fn in a committed transaction
func (f *fixture) inTx(t *testing.T, fn func(ctx context.Context)) {
	t.Helper()
	err := f.manager.Transactional(context.Background(), func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
	require.NoError(t, err)
}

func (f *fixture) findAll(t *testing.T, params FindAllParams) *ResourceList {
	t.Helper()
	var list *ResourceList
	f.inTx(t, func(ctx context.Context) {
		var err error
		list, err = f.repo.FindAll(ctx, params)
		require.NoError(t, err)
	})
	return list
}

func (f *fixture) scalar(t *testing.T, q string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.QueryRow(q, args...).Scan(&n))
	return n
}

func employeeIDs(list *ResourceList) []int64 {
	ids := make([]int64, 0, len(list.Items))
	for _, item := range list.Items {
		ids = append(ids, item.(*demo.EmployeeDTO).ID)
	}
	return ids
}

func TestNew(t *testing.T) {
	f := setupFixture(t, false)
	_, resources, err := demo.Register()
	require.NoError(t, err)

	t.Run("missing entity manager", func(t *testing.T) {
		_, err := New(nil, resources, Config{})
		assert.Error(t, err)
	})

	t.Run("missing resource registry", func(t *testing.T) {
		_, err := New(f.manager, nil, Config{})
		assert.Error(t, err)
	})

	t.Run("negative default limit", func(t *testing.T) {
		_, err := New(f.manager, resources, Config{DefaultLimit: -1})
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		repo, err := New(f.manager, resources, Config{})
		require.NoError(t, err)
		assert.Equal(t, DefaultLimit, repo.limit)
		assert.NotNil(t, repo.logger)
		assert.NotNil(t, repo.Mapper())
		assert.Same(t, resources, repo.Resources())
	})
}

func TestFindAllDefaultLimit(t *testing.T) {
	f := setupFixture(t, false)
	for i := 1; i <= 150; i++ {
		_, err := f.db.Exec("INSERT INTO departments (name) VALUES (?)", fmt.Sprintf("dept-%03d", i))
		require.NoError(t, err)
	}

	t.Run("unspecified limit and offset", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{Source: f.departments, QuerySpec: queryspec.New(f.departments)})
		require.Len(t, list.Items, 100)
		for i, item := range list.Items {
			assert.Equal(t, int64(i+1), item.(*demo.DepartmentDTO).ID)
		}
		assert.Nil(t, list.Meta)
		assert.Nil(t, list.Links)
	})

	t.Run("params default limit", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{
			Source:       f.departments,
			QuerySpec:    queryspec.New(f.departments),
			DefaultLimit: 25,
		})
		assert.Len(t, list.Items, 25)
	})

	t.Run("pagination is repeatable", func(t *testing.T) {
		params := FindAllParams{
			Source:    f.departments,
			QuerySpec: queryspec.New(f.departments).WithOffset(140).WithLimit(20),
		}
		first := f.findAll(t, params)
		second := f.findAll(t, params)
		require.Len(t, first.Items, 10)
		assert.Equal(t, first.Items, second.Items)
		assert.Equal(t, int64(141), first.Items[0].(*demo.DepartmentDTO).ID)
	})
}

func TestFindAllSort(t *testing.T) {
	f := setupFixture(t, true)

	tests := []struct {
		name string
		spec *queryspec.QuerySpec
		want []int64
	}{
		{"default by id", queryspec.New(f.employees), []int64{1, 2, 3, 4}},
		{"descending name", queryspec.New(f.employees).WithSort("name", queryspec.Descending), []int64{3, 4, 2, 1}},
		{
			"related attribute then name",
			queryspec.New(f.employees).
				WithSort("department.name", queryspec.Ascending).
				WithSort("name", queryspec.Ascending),
			[]int64{4, 1, 2, 3},
		},
		{
			"job then descending id",
			queryspec.New(f.employees).
				WithSort("job", queryspec.Ascending).
				WithSort("id", queryspec.Descending),
			[]int64{2, 3, 1, 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := f.findAll(t, FindAllParams{Source: f.employees, QuerySpec: tt.spec})
			assert.Equal(t, tt.want, employeeIDs(list))
		})
	}

	t.Run("derived attribute cannot be sorted", func(t *testing.T) {
		err := f.manager.Transactional(context.Background(), func(ctx context.Context) error {
			_, err := f.repo.FindAll(ctx, FindAllParams{
				Source:    f.employees,
				QuerySpec: queryspec.New(f.employees).WithSort("nameUppercase", queryspec.Ascending),
			})
			return err
		})
		assert.True(t, errors.Is(err, resource.ErrUnknownField))
	})
}

func TestFindAllFilter(t *testing.T) {
	f := setupFixture(t, true)

	tests := []struct {
		name   string
		spec   *queryspec.QuerySpec
		filter FilterFunc
		want   []int64
	}{
		{"equality", queryspec.New(f.employees).WithFilter("job", "eq", "dev"), nil, []int64{1, 3}},
		{"related attribute", queryspec.New(f.employees).WithFilter("department.name", "eq", "Sales"), nil, []int64{3}},
		{"membership", queryspec.New(f.employees).WithFilter("name", "in", "Ada, Ken"), nil, []int64{1, 4}},
		{"excluded ids", queryspec.New(f.employees).WithFilter("id", "nin", "1,2"), nil, []int64{3, 4}},
		{"missing relation", queryspec.New(f.employees).WithFilter("department", "null", ""), nil, []int64{4}},
		{"relation id", queryspec.New(f.employees).WithFilter("department", "eq", "1"), nil, []int64{1, 2}},
		{
			"custom filter is combined",
			queryspec.New(f.employees).WithFilter("job", "eq", "dev"),
			func(target *query.From, _ *query.Criteria) query.Predicate {
				return query.Like(target.Get("Name"), "L%")
			},
			[]int64{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list := f.findAll(t, FindAllParams{Source: f.employees, QuerySpec: tt.spec, CustomFilter: tt.filter})
			assert.Equal(t, tt.want, employeeIDs(list))
		})
	}

	t.Run("invalid value", func(t *testing.T) {
		err := f.manager.Transactional(context.Background(), func(ctx context.Context) error {
			_, err := f.repo.FindAll(ctx, FindAllParams{
				Source:    f.employees,
				QuerySpec: queryspec.New(f.employees).WithFilter("id", "gt", "ten"),
			})
			return err
		})
		assert.True(t, errors.Is(err, queryspec.ErrInvalidQuery))
	})
}

func TestFindAllInclude(t *testing.T) {
	f := setupFixture(t, true)

	t.Run("to-one", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{
			Source:    f.employees,
			QuerySpec: queryspec.New(f.employees).WithInclude("department"),
		})
		require.Len(t, list.Items, 4)

		ada := list.Items[0].(*demo.EmployeeDTO)
		assert.Equal(t, "ADA", ada.NameUppercase)
		require.NotNil(t, ada.Department)
		assert.Equal(t, "Engineering", ada.Department.Name)
		assert.Nil(t, ada.Department.Employees)

		ken := list.Items[3].(*demo.EmployeeDTO)
		assert.Nil(t, ken.Department)
	})

	t.Run("not included to-one is a reference", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{Source: f.employees, QuerySpec: queryspec.New(f.employees)})
		linus := list.Items[2].(*demo.EmployeeDTO)
		assert.Equal(t, &demo.DepartmentDTO{ID: 2}, linus.Department)
	})

	t.Run("to-many", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{
			Source:    f.departments,
			QuerySpec: queryspec.New(f.departments).WithInclude("employees"),
		})
		require.Len(t, list.Items, 3)

		engineering := list.Items[0].(*demo.DepartmentDTO)
		require.Len(t, engineering.Employees, 2)
		assert.Equal(t, "Ada", engineering.Employees[0].Name)
		assert.Equal(t, "Grace", engineering.Employees[1].Name)
		assert.Equal(t, &demo.DepartmentDTO{ID: 1}, engineering.Employees[0].Department)

		legal := list.Items[2].(*demo.DepartmentDTO)
		assert.NotNil(t, legal.Employees)
		assert.Empty(t, legal.Employees)
	})

	t.Run("not included to-many stays unset", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{Source: f.departments, QuerySpec: queryspec.New(f.departments)})
		for _, item := range list.Items {
			assert.Nil(t, item.(*demo.DepartmentDTO).Employees)
		}
	})

	t.Run("nested", func(t *testing.T) {
		list := f.findAll(t, FindAllParams{
			Source:    f.employees,
			QuerySpec: queryspec.New(f.employees).WithInclude("department.employees"),
		})
		grace := list.Items[1].(*demo.EmployeeDTO)
		require.NotNil(t, grace.Department)
		require.Len(t, grace.Department.Employees, 2)
		assert.Equal(t, "Ada", grace.Department.Employees[0].Name)
	})
}

func TestFindAllCustomRoot(t *testing.T) {
	f := setupFixture(t, true)

	params := FindAllParams{
		Source:    f.departments,
		QuerySpec: queryspec.New(f.employees),
		CustomRoot: func(root *query.From) *query.From {
			return root.Join("Employees", query.JoinInner)
		},
		CustomFilter: func(_ *query.From, c *query.Criteria) query.Predicate {
			return query.Equal(c.Root().ID(), int64(1))
		},
		MetaProvider: TotalCountMetaProvider{},
	}

	list := f.findAll(t, params)
	assert.Equal(t, []int64{1, 2}, employeeIDs(list))
	assert.Equal(t, map[string]any{TotalResourceCount: int64(2)}, list.Meta)

	t.Run("selection must match the requested resource", func(t *testing.T) {
		err := f.manager.Transactional(context.Background(), func(ctx context.Context) error {
			_, err := f.repo.FindAll(ctx, FindAllParams{Source: f.departments, QuerySpec: queryspec.New(f.employees)})
			return err
		})
		assert.Error(t, err)
	})
}

func TestTotalCountMeta(t *testing.T) {
	f := setupFixture(t, true)

	list := f.findAll(t, FindAllParams{
		Source:       f.employees,
		QuerySpec:    queryspec.New(f.employees).WithLimit(1).WithInclude("department"),
		MetaProvider: TotalCountMetaProvider{},
	})
	assert.Len(t, list.Items, 1)
	assert.Equal(t, int64(4), list.Meta[TotalResourceCount])

	filtered := f.findAll(t, FindAllParams{
		Source:       f.employees,
		QuerySpec:    queryspec.New(f.employees).WithFilter("job", "eq", "dev").WithLimit(1),
		MetaProvider: TotalCountMetaProvider{},
	})
	assert.Equal(t, int64(2), filtered.Meta[TotalResourceCount])
}

func TestFindAllRequiresSession(t *testing.T) {
	f := setupFixture(t, true)
	_, err := f.repo.FindAll(context.Background(), FindAllParams{Source: f.employees, QuerySpec: queryspec.New(f.employees)})
	assert.True(t, errors.Is(err, session.ErrNoSession))

	_, err = f.repo.FindAll(context.Background(), FindAllParams{QuerySpec: queryspec.New(f.employees)})
	assert.Error(t, err)
	_, err = f.repo.FindAll(context.Background(), FindAllParams{Source: f.employees})
	assert.Error(t, err)
}

func TestFindOne(t *testing.T) {
	f := setupFixture(t, true)

	f.inTx(t, func(ctx context.Context) {
		dto, err := f.repo.FindOne(ctx, f.employees, "3", queryspec.New(f.employees).WithInclude("department"))
		require.NoError(t, err)
		linus := dto.(*demo.EmployeeDTO)
		assert.Equal(t, "Linus", linus.Name)
		assert.Equal(t, "Sales", linus.Department.Name)

		missing, err := f.repo.FindOne(ctx, f.employees, int64(99), nil)
		require.NoError(t, err)
		assert.Nil(t, missing)

		_, err = f.repo.FindOne(ctx, f.employees, "abc", nil)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}
