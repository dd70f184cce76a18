package jsonapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/resourcemap/internal/demo"
	"github.com/conduit-lang/resourcemap/internal/resource"
)

func setupCodec(t *testing.T) (*Codec, *resource.Registry) {
	t.Helper()
	_, resources, err := demo.Register()
	require.NoError(t, err)
	return NewCodec(resources), resources
}

func resourceType(t *testing.T, resources *resource.Registry, name string) *resource.Type {
	t.Helper()
	rt, ok := resources.ByName(name)
	require.True(t, ok, name)
	return rt
}

func TestEncode(t *testing.T) {
	codec, _ := setupCodec(t)

	res, err := codec.Encode(&demo.EmployeeDTO{
		ID:            7,
		Name:          "Ada",
		NameUppercase: "ADA",
		Job:           "dev",
		Department:    &demo.DepartmentDTO{ID: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "employee", res.Type)
	assert.Equal(t, "7", res.ID)
	assert.Equal(t, map[string]any{"name": "Ada", "nameUppercase": "ADA", "job": "dev"}, res.Attributes)
	assert.Equal(t, &Identifier{Type: "department", ID: "2"}, res.Relationships["department"].Data)

	t.Run("unset to-many is left out", func(t *testing.T) {
		res, err := codec.Encode(&demo.DepartmentDTO{ID: 1, Name: "Engineering"})
		require.NoError(t, err)
		assert.NotContains(t, res.Relationships, "employees")
	})

	t.Run("empty to-many is an empty array", func(t *testing.T) {
		res, err := codec.Encode(&demo.DepartmentDTO{ID: 1, Employees: []*demo.EmployeeDTO{}})
		require.NoError(t, err)
		data, err := json.Marshal(res.Relationships["employees"])
		require.NoError(t, err)
		assert.JSONEq(t, `{"data": []}`, string(data))
	})

	t.Run("unregistered DTO", func(t *testing.T) {
		_, err := codec.Encode(&struct{ ID int64 }{})
		assert.Error(t, err)
	})
}

func TestIncluded(t *testing.T) {
	codec, _ := setupCodec(t)

	engineering := &demo.DepartmentDTO{ID: 1, Name: "Engineering"}
	primary := []any{
		&demo.EmployeeDTO{ID: 1, Name: "Ada", Department: engineering},
		&demo.EmployeeDTO{ID: 2, Name: "Grace", Department: engineering},
		&demo.EmployeeDTO{ID: 4, Name: "Ken"},
	}

	included, err := codec.Included(primary, [][]string{{"department"}})
	require.NoError(t, err)
	require.Len(t, included, 1)
	assert.Equal(t, "department", included[0].Type)
	assert.Equal(t, "1", included[0].ID)

	t.Run("primary resources are not repeated", func(t *testing.T) {
		engineering.Employees = []*demo.EmployeeDTO{primary[0].(*demo.EmployeeDTO), {ID: 9, Name: "Barbara"}}
		included, err := codec.Included(primary, [][]string{{"department", "employees"}})
		require.NoError(t, err)
		var ids []string
		for _, res := range included {
			ids = append(ids, res.Type+"/"+res.ID)
		}
		assert.Equal(t, []string{"department/1", "employee/9"}, ids)
	})

	t.Run("no includes", func(t *testing.T) {
		included, err := codec.Included(primary, nil)
		require.NoError(t, err)
		assert.Nil(t, included)
	})
}

func TestDecode(t *testing.T) {
	codec, resources := setupCodec(t)
	employees := resourceType(t, resources, "employee")

	dto, err := codec.Decode(strings.NewReader(`{"data": {
		"type": "employee",
		"attributes": {"name": "Ada", "nameUppercase": "IGNORED"},
		"relationships": {"department": {"data": {"type": "department", "id": "3"}}}
	}}`), employees, "")
	require.NoError(t, err)
	e := dto.(*demo.EmployeeDTO)
	assert.Equal(t, "Ada", e.Name)
	assert.Empty(t, e.NameUppercase)
	require.NotNil(t, e.Department)
	assert.Equal(t, int64(3), e.Department.ID)

	t.Run("to-many linkage", func(t *testing.T) {
		departments := resourceType(t, resources, "department")
		dto, err := codec.Decode(strings.NewReader(`{"data": {"type": "department", "id": "1",
			"relationships": {"employees": {"data": [{"type": "employee", "id": "1"}, {"type": "employee", "id": "2"}]}}}}`), departments, "1")
		require.NoError(t, err)
		d := dto.(*demo.DepartmentDTO)
		assert.Equal(t, int64(1), d.ID)
		require.Len(t, d.Employees, 2)
		assert.Equal(t, int64(2), d.Employees[1].ID)
	})

	t.Run("null to-one", func(t *testing.T) {
		dto, err := codec.Decode(strings.NewReader(`{"data": {"type": "employee",
			"relationships": {"department": {"data": null}}}}`), employees, "")
		require.NoError(t, err)
		assert.Nil(t, dto.(*demo.EmployeeDTO).Department)
	})

	tests := []struct {
		name string
		body string
		id   string
		want error
	}{
		{"malformed", `{"data": [`, "", ErrInvalidDocument},
		{"no primary data", `{"meta": {}}`, "", ErrInvalidDocument},
		{"other type", `{"data": {"type": "person"}}`, "", ErrTypeMismatch},
		{"other id", `{"data": {"type": "employee", "id": "2"}}`, "1", ErrTypeMismatch},
		{"unknown attribute", `{"data": {"type": "employee", "attributes": {"salary": 10}}}`, "", ErrInvalidDocument},
		{"attribute of wrong type", `{"data": {"type": "employee", "attributes": {"name": true}}}`, "", ErrInvalidDocument},
		{"unknown relationship", `{"data": {"type": "employee", "relationships": {"manager": {"data": null}}}}`, "", ErrInvalidDocument},
		{"relationship without data", `{"data": {"type": "employee", "relationships": {"department": {}}}}`, "", ErrInvalidDocument},
		{"array for to-one", `{"data": {"type": "employee", "relationships": {"department": {"data": []}}}}`, "", ErrInvalidDocument},
		{"linkage of other type", `{"data": {"type": "employee", "relationships": {"department": {"data": {"type": "person", "id": "1"}}}}}`, "", ErrTypeMismatch},
		{"malformed id", `{"data": {"type": "employee", "id": "x"}}`, "", ErrInvalidDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(strings.NewReader(tt.body), employees, tt.id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestApplyOverlaysPresentMembers(t *testing.T) {
	codec, resources := setupCodec(t)
	employees := resourceType(t, resources, "employee")

	payload, err := ReadPayload(strings.NewReader(`{"data": {"type": "employee", "id": "1", "attributes": {"job": "lead"}}}`), employees, "1")
	require.NoError(t, err)

	current := &demo.EmployeeDTO{ID: 1, Name: "Ada", Job: "dev", Department: &demo.DepartmentDTO{ID: 1}}
	require.NoError(t, codec.Apply(employees, current, payload))
	assert.Equal(t, "Ada", current.Name)
	assert.Equal(t, "lead", current.Job)
	assert.Equal(t, int64(1), current.Department.ID)
}

func TestRender(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Render(rec, http.StatusOK, &Document{Data: nil}))
	assert.Equal(t, MediaType, rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data": null}`, rec.Body.String())
}

func TestRenderErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	obj := NewError(http.StatusConflict, "already taken")
	obj.Source = &ErrorSource{Pointer: "/data/type"}
	RenderErrors(rec, http.StatusConflict, obj)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"errors": [{
		"status": "409",
		"code": "conflict",
		"title": "Conflict",
		"detail": "already taken",
		"source": {"pointer": "/data/type"}
	}]}`, rec.Body.String())
}

func TestIsJSONAPI(t *testing.T) {
	tests := []struct {
		accept string
		want   bool
	}{
		{"", false},
		{"application/json", false},
		{MediaType, true},
		{MediaType + "; charset=utf-8", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.accept != "" {
			r.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.want, IsJSONAPI(r), tt.accept)
	}
}
