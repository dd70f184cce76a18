package query

import (
	"reflect"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

type department struct {
	ID        int64       `db:"id,pk"`
	Name      string      `db:"name"`
	Location  string      `db:"location"`
	Employees []*employee `orm:"one_to_many,mapped_by=Department"`
}

type employee struct {
	ID         int64       `db:"id,pk"`
	Name       string      `db:"name"`
	Job        string      `db:"job"`
	Department *department `orm:"many_to_one,join=department_id"`
}

var (
	departmentType = reflect.TypeOf(department{})
	employeeType   = reflect.TypeOf(employee{})
)

func setupRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	_, err := reg.Register(department{}, "departments")
	require.NoError(t, err)
	_, err = reg.Register(employee{}, "employees")
	require.NoError(t, err)
	require.NoError(t, reg.Validate())
	return reg
}

func TestCompile(t *testing.T) {
	reg := setupRegistry(t)

	t.Run("fetch to-one in the same statement", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		root := c.Root()
		root.Fetch("Department")
		c.OrderBy(Asc(root.ID())).Offset(0).Limit(100)

		stmt, err := c.Compile(SQLite)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT t0."id", t0."name", t0."job", t0."department_id", t1."id", t1."name", t1."location" `+
				`FROM "employees" t0 LEFT JOIN "departments" t1 ON t1."id" = t0."department_id" `+
				`ORDER BY t0."id" ASC LIMIT ? OFFSET ?`,
			stmt.SQL)
		assert.Equal(t, []any{100, 0}, stmt.Args)

		require.NotNil(t, stmt.Plan.Root)
		assert.Equal(t, 7, stmt.Plan.Columns)
		assert.Equal(t, 0, stmt.Plan.Root.Start)
		require.Len(t, stmt.Plan.Root.Fetched, 1)
		assert.Equal(t, 4, stmt.Plan.Root.Fetched[0].Start)
		assert.Equal(t, "Department", stmt.Plan.Root.Fetched[0].Relation.Field)
	})

	t.Run("fetch collection is deferred", func(t *testing.T) {
		c, err := NewCriteria(reg, departmentType)
		require.NoError(t, err)
		c.Root().Fetch("Employees")

		stmt, err := c.Compile(SQLite)
		require.NoError(t, err)
		assert.Equal(t, `SELECT t0."id", t0."name", t0."location" FROM "departments" t0`, stmt.SQL)
		require.Len(t, stmt.Plan.Root.Deferred, 1)

		batch, err := stmt.Plan.Root.Deferred[0].Criteria(reg, []any{int64(1), int64(2)})
		require.NoError(t, err)
		batchStmt, err := batch.Compile(SQLite)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT t0."id", t0."name", t0."job", t0."department_id" FROM "employees" t0 `+
				`WHERE (t0."department_id" IN (?, ?)) ORDER BY t0."id" ASC`,
			batchStmt.SQL)
		assert.Equal(t, []any{int64(1), int64(2)}, batchStmt.Args)
	})

	t.Run("postgres placeholders and arrays", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		root := c.Root()
		c.Where(In(root.ID(), []any{int64(1), int64(2)}), Equal(root.Get("Job"), "dev"))
		c.OrderBy(Desc(root.Get("Name"))).Limit(10)

		stmt, err := c.Compile(Postgres)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT t0."id", t0."name", t0."job", t0."department_id" FROM "employees" t0 `+
				`WHERE (t0."id" = ANY($1)) AND (t0."job" = $2) ORDER BY t0."name" DESC LIMIT $3`,
			stmt.SQL)
		assert.Equal(t, []any{pq.Int64Array{1, 2}, "dev", 10}, stmt.Args)
	})

	t.Run("path navigates to-one relations", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.OrderBy(Asc(c.Root().Path("Department", "Name")))

		stmt, err := c.Compile(SQLite)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT t0."id", t0."name", t0."job", t0."department_id" FROM "employees" t0 `+
				`LEFT JOIN "departments" t1 ON t1."id" = t0."department_id" ORDER BY t1."name" ASC`,
			stmt.SQL)
	})

	t.Run("select a joined collection", func(t *testing.T) {
		c, err := NewCriteria(reg, departmentType)
		require.NoError(t, err)
		root := c.Root()
		employees := root.Join("Employees", JoinInner)
		c.Select(employees).Where(Equal(root.ID(), int64(3)))

		stmt, err := c.Compile(SQLite)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT t1."id", t1."name", t1."job", t1."department_id" FROM "departments" t0 `+
				`INNER JOIN "employees" t1 ON t1."department_id" = t0."id" WHERE (t0."id" = ?)`,
			stmt.SQL)
		assert.Equal(t, "employee", stmt.Plan.Root.Mapping.Name)
		assert.Equal(t, "employee", c.Mapping().Name)
	})

	t.Run("count", func(t *testing.T) {
		c, err := NewCriteria(reg, departmentType)
		require.NoError(t, err)
		root := c.Root()
		employees := root.Join("Employees", JoinInner)
		root.Fetch("Employees")
		c.Where(Like(employees.Get("Name"), "A%")).OrderBy(Asc(root.ID())).Limit(5)

		stmt, err := c.CompileCount(SQLite)
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT COUNT(DISTINCT t0."id") FROM "departments" t0 `+
				`INNER JOIN "employees" t1 ON t1."department_id" = t0."id" WHERE (t1."name" LIKE ?)`,
			stmt.SQL)
		assert.Equal(t, []any{"A%"}, stmt.Args)
	})

	t.Run("relation attribute compares foreign key", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.Where(Or(IsNull(c.Root().Get("Department")), Not(Equal(c.Root().Get("Department"), int64(4)))))

		stmt, err := c.Compile(SQLite)
		require.NoError(t, err)
		assert.Contains(t, stmt.SQL, `WHERE ((t0."department_id" IS NULL) OR (NOT (t0."department_id" = ?)))`)
		assert.Equal(t, []any{int64(4)}, stmt.Args)
	})
}

func TestCriteriaErrors(t *testing.T) {
	reg := setupRegistry(t)

	t.Run("unknown attribute", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.OrderBy(Asc(c.Root().Get("Salary")))
		_, err = c.Compile(SQLite)
		assert.Error(t, err)
	})

	t.Run("unknown relation", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.Root().Fetch("Manager")
		assert.Error(t, c.Err())
	})

	t.Run("path through collection", func(t *testing.T) {
		c, err := NewCriteria(reg, departmentType)
		require.NoError(t, err)
		c.OrderBy(Asc(c.Root().Path("Employees", "Name")))
		_, err = c.Compile(SQLite)
		assert.Error(t, err)
	})

	t.Run("fetched collection in restriction", func(t *testing.T) {
		c, err := NewCriteria(reg, departmentType)
		require.NoError(t, err)
		fetched := c.Root().Fetch("Employees")
		c.Where(Equal(fetched.Get("Name"), "x"))
		_, err = c.Compile(SQLite)
		assert.Error(t, err)
	})

	t.Run("unregistered type", func(t *testing.T) {
		_, err := NewCriteria(reg, reflect.TypeOf(struct{}{}))
		assert.Error(t, err)
	})

	t.Run("negative pagination", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.Limit(-1)
		assert.Error(t, c.Err())
	})

	t.Run("in requires a list", func(t *testing.T) {
		c, err := NewCriteria(reg, employeeType)
		require.NoError(t, err)
		c.Where(Compare(c.Root().ID(), OpIn, int64(1)))
		_, err = c.Compile(SQLite)
		assert.Error(t, err)
	})
}

func TestDialects(t *testing.T) {
	bindAll := func(d Dialect) (func(any) string, *[]any) {
		var args []any
		return func(v any) string {
			args = append(args, v)
			return d.Placeholder(len(args))
		}, &args
	}

	t.Run("empty membership", func(t *testing.T) {
		bind, _ := bindAll(SQLite)
		assert.Equal(t, "FALSE", SQLite.In("x", nil, false, bind))
		assert.Equal(t, "TRUE", Postgres.In("x", nil, true, bind))
	})

	t.Run("sqlite offset without limit", func(t *testing.T) {
		bind, args := bindAll(SQLite)
		assert.Equal(t, " LIMIT ? OFFSET ?", SQLite.LimitOffset(0, 5, bind))
		assert.Equal(t, []any{-1, 5}, *args)
	})

	t.Run("string arrays", func(t *testing.T) {
		assert.Equal(t, pq.StringArray{"a", "b"}, arrayParam([]any{"a", "b"}))
		assert.IsType(t, pq.GenericArray{}, arrayParam([]any{1.5, 2.5}))
	})

	t.Run("dialect lookup", func(t *testing.T) {
		d, err := DialectFor("pgx")
		require.NoError(t, err)
		assert.Equal(t, Postgres, d)

		d, err = DialectFor("sqlite3")
		require.NoError(t, err)
		assert.Equal(t, SQLite, d)

		_, err = DialectFor("mysql")
		assert.Error(t, err)
	})

	t.Run("parse operator", func(t *testing.T) {
		op, err := ParseOperator("GE")
		require.NoError(t, err)
		assert.Equal(t, OpGreaterThanOrEqual, op)

		_, err = ParseOperator("between")
		assert.Error(t, err)
	})
}
