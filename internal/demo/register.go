package demo

import (
	"context"
	"database/sql"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/orm/schema"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

// Register builds the schema and resource registries of the demo domain
func Register() (*schema.Registry, *resource.Registry, error) {
	entities := schema.NewRegistry()
	for _, e := range []struct {
		entity any
		table  string
	}{
		{Department{}, "departments"},
		{Employee{}, "employees"},
		{Person{}, "persons"},
	} {
		if _, err := entities.Register(e.entity, e.table); err != nil {
			return nil, nil, err
		}
	}
	if err := entities.Validate(); err != nil {
		return nil, nil, err
	}

	resources, err := resource.NewBuilder().
		Register(DepartmentDTO{}, Department{}).
		Register(EmployeeDTO{}, Employee{}, resource.Derive("nameUppercase", upperName)).
		Register(PersonDTO{}, Person{}).
		Build()
	if err != nil {
		return nil, nil, err
	}
	return entities, resources, nil
}

func upperName(entity any) (any, error) {
	e, ok := entity.(*Employee)
	if !ok {
		return nil, errors.AssertionFailedf("expected *Employee, got %T", entity)
	}
	return strings.ToUpper(e.Name), nil
}

// Migrations returns the DDL creating the demo tables for a dialect
func Migrations(d query.Dialect) []string {
	if d == query.Postgres {
		return []string{
			`CREATE TABLE IF NOT EXISTS departments (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT ''
)`,
			`CREATE TABLE IF NOT EXISTS employees (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	job TEXT NOT NULL DEFAULT '',
	department_id BIGINT REFERENCES departments(id)
)`,
			`CREATE TABLE IF NOT EXISTS persons (
	id BIGSERIAL PRIMARY KEY,
	uuid UUID NOT NULL UNIQUE,
	name TEXT NOT NULL,
	employee_id BIGINT UNIQUE REFERENCES employees(id)
)`,
		}
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS departments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	location TEXT NOT NULL DEFAULT ''
)`,
		`CREATE TABLE IF NOT EXISTS employees (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	job TEXT NOT NULL DEFAULT '',
	department_id INTEGER REFERENCES departments(id)
)`,
		`CREATE TABLE IF NOT EXISTS persons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	employee_id INTEGER UNIQUE REFERENCES employees(id)
)`,
	}
}

// Migrate creates the demo tables
func Migrate(ctx context.Context, db *sql.DB, d query.Dialect) error {
	for _, stmt := range Migrations(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to apply migration")
		}
	}
	return nil
}
