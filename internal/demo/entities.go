// Package demo is a small company domain used by the command line server and
// by tests: departments employ employees, and a person may be an employee.
package demo

import (
	"context"

	"github.com/google/uuid"
)

// Department groups employees
type Department struct {
	ID        int64       `db:"id,pk"`
	Name      string      `db:"name" validate:"required,max=80"`
	Location  string      `db:"location" validate:"max=120"`
	Employees []*Employee `orm:"one_to_many,mapped_by=Department"`
}

// Employee works in at most one department
type Employee struct {
	ID         int64       `db:"id,pk"`
	Name       string      `db:"name" validate:"required,max=80"`
	Job        string      `db:"job" validate:"pattern=^[a-z ]*$"`
	Department *Department `orm:"many_to_one,join=department_id"`
}

// Person is identified externally by a UUID and may be linked to an employee record
type Person struct {
	ID       int64     `db:"id,pk"`
	UUID     uuid.UUID `db:"uuid,natural_id"`
	Name     string    `db:"name" validate:"required"`
	Employee *Employee `orm:"one_to_one,join=employee_id"`
}

// PrePersist assigns a random UUID to new people without one
func (p *Person) PrePersist(context.Context) error {
	if p.UUID == uuid.Nil {
		p.UUID = uuid.New()
	}
	return nil
}
