package jsonapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFieldsets(t *testing.T) {
	values := url.Values{
		"fields[employee]":   {"name, job"},
		"fields[department]": {""},
		"fields":             {"name"},
		"sort":               {"name"},
	}
	assert.Equal(t, map[string][]string{
		"employee":   {"name", "job"},
		"department": {},
	}, ParseFieldsets(values))
}

func TestApplySparseFieldsets(t *testing.T) {
	employee := &Resource{
		Type:          "employee",
		ID:            "1",
		Attributes:    map[string]any{"name": "Ada", "job": "dev"},
		Relationships: map[string]*Relationship{"department": {Data: &Identifier{Type: "department", ID: "1"}}},
	}
	department := &Resource{
		Type:       "department",
		ID:         "1",
		Attributes: map[string]any{"name": "Engineering"},
	}

	ApplySparseFieldsets([]*Resource{employee, department}, map[string][]string{
		"employee": {"job", "department", "unknown"},
	})

	assert.Equal(t, map[string]any{"job": "dev"}, employee.Attributes)
	assert.Contains(t, employee.Relationships, "department")
	assert.Equal(t, "1", employee.ID)
	assert.Equal(t, map[string]any{"name": "Engineering"}, department.Attributes)

	ApplySparseFieldsets([]*Resource{department}, map[string][]string{"department": {}})
	assert.Empty(t, department.Attributes)
	assert.Equal(t, "department", department.Type)
}
