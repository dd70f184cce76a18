package demo

import (
	"github.com/google/uuid"
)

// DepartmentDTO is the API shape of a Department
type DepartmentDTO struct {
	ID        int64          `jsonapi:"primary,department"`
	Name      string         `jsonapi:"attr,name"`
	Location  string         `jsonapi:"attr,location"`
	Employees []*EmployeeDTO `jsonapi:"relation,employees" resource:"opposite=department"`
}

// EmployeeDTO is the API shape of an Employee
type EmployeeDTO struct {
	ID            int64          `jsonapi:"primary,employee"`
	Name          string         `jsonapi:"attr,name"`
	NameUppercase string         `jsonapi:"attr,nameUppercase" resource:"derived"`
	Job           string         `jsonapi:"attr,job"`
	Department    *DepartmentDTO `jsonapi:"relation,department" resource:"opposite=employees"`
}

// PersonDTO is the API shape of a Person
type PersonDTO struct {
	ID       int64        `jsonapi:"primary,person"`
	UUID     uuid.UUID    `jsonapi:"attr,uuid"`
	Name     string       `jsonapi:"attr,name"`
	Employee *EmployeeDTO `jsonapi:"relation,employee"`
}
