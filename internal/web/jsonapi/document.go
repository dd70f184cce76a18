// Package jsonapi encodes resource DTOs as JSON:API documents and decodes
// request documents back onto DTOs, using the resource registry for type
// names, attribute names and relation shapes.
package jsonapi

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/resource"
)

// MediaType is the JSON:API media type
const MediaType = "application/vnd.api+json"

// ErrInvalidDocument is returned for request bodies that are not valid
// JSON:API resource documents for the addressed type
var ErrInvalidDocument = errors.New("invalid JSON:API document")

// ErrTypeMismatch is returned when a request document names another resource type
var ErrTypeMismatch = errors.New("resource type does not match the endpoint")

// Document is a top level JSON:API document
type Document struct {
	Data     any               `json:"data"`
	Included []*Resource       `json:"included,omitempty"`
	Meta     map[string]any    `json:"meta,omitempty"`
	Links    map[string]string `json:"links,omitempty"`
}

// Resource is a JSON:API resource object
type Resource struct {
	Type          string                   `json:"type"`
	ID            string                   `json:"id,omitempty"`
	Attributes    map[string]any           `json:"attributes,omitempty"`
	Relationships map[string]*Relationship `json:"relationships,omitempty"`
}

// Identifier is a JSON:API resource identifier object
type Identifier struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Relationship carries resource linkage: nil or *Identifier for to-one
// relations, []*Identifier for to-many relations
type Relationship struct {
	Data any `json:"data"`
}

// IsJSONAPI checks if the request accepts JSON:API format
func IsJSONAPI(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(accept)
	if err != nil {
		return strings.Contains(accept, MediaType)
	}
	return mediaType == MediaType
}

// Render writes a document. The body is marshaled before anything is written.
func Render(w http.ResponseWriter, status int, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// Codec converts between DTOs and JSON:API resource objects
type Codec struct {
	resources *resource.Registry
}

// NewCodec creates a codec over a resource registry
func NewCodec(resources *resource.Registry) *Codec {
	return &Codec{resources: resources}
}

// Encode returns the resource object of a DTO. Derived attributes are
// included. Unset to-many relations are left out.
func (c *Codec) Encode(dto any) (*Resource, error) {
	rt, ok := c.resources.ForDTO(dto)
	if !ok {
		return nil, errors.Newf("no resource registered for DTO %T", dto)
	}
	id, err := rt.IDOf(dto)
	if err != nil {
		return nil, err
	}

	res := &Resource{
		Type:       rt.Name,
		ID:         formatID(id),
		Attributes: make(map[string]any, len(rt.Attributes)),
	}
	for _, attr := range rt.Attributes {
		v, err := attr.Get(dto)
		if err != nil {
			return nil, err
		}
		res.Attributes[attr.Name] = v
	}

	for _, rel := range rt.Relations {
		linkage, present, err := c.linkage(rel, dto)
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		if res.Relationships == nil {
			res.Relationships = make(map[string]*Relationship)
		}
		res.Relationships[rel.Name] = &Relationship{Data: linkage}
	}
	return res, nil
}

// EncodeAll encodes a list of DTOs, always returning a non-nil slice
func (c *Codec) EncodeAll(dtos []any) ([]*Resource, error) {
	out := make([]*Resource, 0, len(dtos))
	for _, dto := range dtos {
		res, err := c.Encode(dto)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Included collects the related DTOs reached by the include paths from the
// primary DTOs. Each resource appears once and primary resources are skipped.
func (c *Codec) Included(primary []any, includes [][]string) ([]*Resource, error) {
	if len(includes) == 0 {
		return nil, nil
	}
	seen := make(map[Identifier]bool)
	for _, dto := range primary {
		if key, ok := c.key(dto); ok {
			seen[key] = true
		}
	}

	var out []*Resource
	for _, path := range includes {
		level := primary
		for _, name := range path {
			var next []any
			for _, dto := range level {
				related, err := c.related(dto, name)
				if err != nil {
					return nil, err
				}
				next = append(next, related...)
			}
			for _, dto := range next {
				key, ok := c.key(dto)
				if !ok || seen[key] {
					continue
				}
				seen[key] = true
				res, err := c.Encode(dto)
				if err != nil {
					return nil, err
				}
				out = append(out, res)
			}
			level = next
		}
	}
	return out, nil
}

// Payload is the primary data of a request document with its members still encoded
type Payload struct {
	Type          string
	ID            string
	Attributes    map[string]json.RawMessage
	Relationships map[string]json.RawMessage
}

// ReadPayload reads a request document addressed to the resource type rt.
// When id is not empty the document must carry the same identifier.
func ReadPayload(body io.Reader, rt *resource.Type, id string) (*Payload, error) {
	var doc struct {
		Data *struct {
			Type          string                     `json:"type"`
			ID            string                     `json:"id"`
			Attributes    map[string]json.RawMessage `json:"attributes"`
			Relationships map[string]struct {
				Data json.RawMessage `json:"data"`
			} `json:"relationships"`
		} `json:"data"`
	}
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode request body"), ErrInvalidDocument)
	}
	if doc.Data == nil {
		return nil, errors.Wrap(ErrInvalidDocument, "missing primary data")
	}
	if doc.Data.Type != rt.Name {
		return nil, errors.Wrapf(ErrTypeMismatch, "expected %s, got %q", rt.Name, doc.Data.Type)
	}
	if id != "" && doc.Data.ID != id {
		return nil, errors.Wrapf(ErrTypeMismatch, "document id %q does not match %q", doc.Data.ID, id)
	}

	p := &Payload{
		Type:          doc.Data.Type,
		ID:            doc.Data.ID,
		Attributes:    doc.Data.Attributes,
		Relationships: make(map[string]json.RawMessage, len(doc.Data.Relationships)),
	}
	for name, rel := range doc.Data.Relationships {
		if rel.Data == nil {
			return nil, errors.Wrapf(ErrInvalidDocument, "relationship %s has no data", name)
		}
		p.Relationships[name] = rel.Data
	}
	return p, nil
}

// Decode reads a request document onto a new DTO of rt
func (c *Codec) Decode(body io.Reader, rt *resource.Type, id string) (any, error) {
	p, err := ReadPayload(body, rt, id)
	if err != nil {
		return nil, err
	}
	dto := rt.New()
	if err := c.Apply(rt, dto, p); err != nil {
		return nil, err
	}
	return dto, nil
}

// Apply overlays the members present in a payload onto dto
func (c *Codec) Apply(rt *resource.Type, dto any, p *Payload) error {
	if p.ID != "" {
		if err := rt.SetID(dto, p.ID); err != nil {
			return errors.Mark(err, ErrInvalidDocument)
		}
	}
	if err := c.ApplyAttributes(rt, dto, p.Attributes); err != nil {
		return err
	}
	return c.ApplyRelationships(rt, dto, p.Relationships)
}

// ApplyAttributes decodes attribute members onto dto. Derived attributes are
// read-only and ignored.
func (c *Codec) ApplyAttributes(rt *resource.Type, dto any, attributes map[string]json.RawMessage) error {
	for name, raw := range attributes {
		attr, ok := rt.Attribute(name)
		if !ok {
			return errors.Wrapf(ErrInvalidDocument, "%s has no attribute %q", rt.Name, name)
		}
		if attr.Derived {
			continue
		}
		target := newValue(attr)
		if err := json.Unmarshal(raw, target); err != nil {
			return errors.Mark(errors.Wrapf(err, "attribute %s", name), ErrInvalidDocument)
		}
		if err := attr.Set(dto, target); err != nil {
			return errors.Mark(err, ErrInvalidDocument)
		}
	}
	return nil
}

// ApplyRelationships decodes resource linkage onto dto as identifier-only DTOs
func (c *Codec) ApplyRelationships(rt *resource.Type, dto any, relationships map[string]json.RawMessage) error {
	for name, raw := range relationships {
		rel, ok := rt.Relation(name)
		if !ok {
			return errors.Wrapf(ErrInvalidDocument, "%s has no relationship %q", rt.Name, name)
		}
		if rel.IsToMany() {
			var ids []Identifier
			if err := json.Unmarshal(raw, &ids); err != nil || ids == nil {
				return errors.Wrapf(ErrInvalidDocument, "relationship %s needs an array of identifiers", name)
			}
			items := make([]any, 0, len(ids))
			for _, ident := range ids {
				stub, err := stubFor(rel, ident)
				if err != nil {
					return err
				}
				items = append(items, stub)
			}
			if err := rel.SetMany(dto, items); err != nil {
				return err
			}
			continue
		}

		var ident *Identifier
		if err := json.Unmarshal(raw, &ident); err != nil {
			return errors.Wrapf(ErrInvalidDocument, "relationship %s needs an identifier or null", name)
		}
		if ident == nil {
			if err := rel.SetOne(dto, nil); err != nil {
				return err
			}
			continue
		}
		stub, err := stubFor(rel, *ident)
		if err != nil {
			return err
		}
		if err := rel.SetOne(dto, stub); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codec) linkage(rel *resource.RelationField, dto any) (any, bool, error) {
	if rel.IsToMany() {
		items, set, err := rel.Many(dto)
		if err != nil || !set {
			return nil, false, err
		}
		ids := make([]*Identifier, 0, len(items))
		for _, item := range items {
			id, err := rel.Target.IDOf(item)
			if err != nil {
				return nil, false, err
			}
			ids = append(ids, &Identifier{Type: rel.Target.Name, ID: formatID(id)})
		}
		return ids, true, nil
	}
	related, err := rel.One(dto)
	if err != nil {
		return nil, false, err
	}
	if related == nil {
		return nil, true, nil
	}
	id, err := rel.Target.IDOf(related)
	if err != nil {
		return nil, false, err
	}
	return &Identifier{Type: rel.Target.Name, ID: formatID(id)}, true, nil
}

// related returns the DTOs a relation of dto holds
func (c *Codec) related(dto any, name string) ([]any, error) {
	rt, ok := c.resources.ForDTO(dto)
	if !ok {
		return nil, errors.Newf("no resource registered for DTO %T", dto)
	}
	rel, ok := rt.Relation(name)
	if !ok {
		return nil, errors.Wrapf(resource.ErrUnknownField, "%s.%s", rt.Name, name)
	}
	if rel.IsToMany() {
		items, _, err := rel.Many(dto)
		return items, err
	}
	one, err := rel.One(dto)
	if err != nil || one == nil {
		return nil, err
	}
	return []any{one}, nil
}

func (c *Codec) key(dto any) (Identifier, bool) {
	rt, ok := c.resources.ForDTO(dto)
	if !ok {
		return Identifier{}, false
	}
	id, err := rt.IDOf(dto)
	if err != nil {
		return Identifier{}, false
	}
	return Identifier{Type: rt.Name, ID: formatID(id)}, true
}

func stubFor(rel *resource.RelationField, ident Identifier) (any, error) {
	if ident.Type != rel.Target.Name {
		return nil, errors.Wrapf(ErrTypeMismatch, "relationship %s expects %s, got %q", rel.Name, rel.Target.Name, ident.Type)
	}
	stub := rel.Target.New()
	if err := rel.Target.SetID(stub, ident.ID); err != nil {
		return nil, errors.Mark(err, ErrInvalidDocument)
	}
	return stub, nil
}

func newValue(attr *resource.AttributeField) any {
	return reflect.New(attr.Type()).Interface()
}

func formatID(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}
