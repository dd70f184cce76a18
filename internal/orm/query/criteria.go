// Package query provides a typed criteria API over schema mappings and
// compiles criteria into parameterized SQL for a given dialect.
package query

import (
	"fmt"
	"reflect"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// JoinType represents the type of SQL join
type JoinType int

const (
	// JoinInner only keeps rows with a matching related row
	JoinInner JoinType = iota
	// JoinLeft keeps rows without a matching related row
	JoinLeft
)

// String returns the SQL keyword of the join type
func (j JoinType) String() string {
	switch j {
	case JoinInner:
		return "INNER JOIN"
	case JoinLeft:
		return "LEFT JOIN"
	default:
		return "JOIN"
	}
}

// Criteria is a query over one entity type. It starts at a root and may
// navigate relations through joins. The selected node decides which entity
// the query returns; by default it is the root.
type Criteria struct {
	registry *schema.Registry
	root     *From
	selected *From
	where    []Predicate
	orders   []Order
	offset   int
	limit    int
	aliases  int
	err      error
}

// NewCriteria creates a criteria rooted at the given entity type
func NewCriteria(registry *schema.Registry, entityType reflect.Type) (*Criteria, error) {
	if registry == nil {
		return nil, errors.New("schema registry is required")
	}
	mapping, ok := registry.ForType(entityType)
	if !ok {
		return nil, errors.Newf("no mapping registered for %v", entityType)
	}
	c := &Criteria{registry: registry}
	c.root = c.newFrom(mapping, nil, nil, JoinInner, false)
	c.selected = c.root
	return c, nil
}

// Registry returns the schema registry the criteria resolves against
func (c *Criteria) Registry() *schema.Registry {
	return c.registry
}

// Root returns the root node
func (c *Criteria) Root() *From {
	return c.root
}

// Selected returns the node whose entities the query returns
func (c *Criteria) Selected() *From {
	return c.selected
}

// Mapping returns the mapping of the selected entity type
func (c *Criteria) Mapping() *schema.EntityMapping {
	return c.selected.mapping
}

// Select changes the node whose entities the query returns
func (c *Criteria) Select(f *From) *Criteria {
	switch {
	case f == nil || f.criteria != c:
		c.fail(errors.New("selection must be a node of the same criteria"))
	case f.err != nil:
		c.fail(f.err)
	case f.fetch:
		c.fail(errors.Newf("cannot select fetched relation %s", f.relation.Field))
	default:
		c.selected = f
	}
	return c
}

// Where adds restrictions; all restrictions are combined with AND
func (c *Criteria) Where(preds ...Predicate) *Criteria {
	for _, p := range preds {
		if p != nil {
			c.where = append(c.where, p)
		}
	}
	return c
}

// OrderBy appends orderings, applied in the given order
func (c *Criteria) OrderBy(orders ...Order) *Criteria {
	c.orders = append(c.orders, orders...)
	return c
}

// HasOrder returns true if at least one ordering has been added
func (c *Criteria) HasOrder() bool {
	return len(c.orders) > 0
}

// Offset sets the number of rows to skip
func (c *Criteria) Offset(n int) *Criteria {
	if n < 0 {
		c.fail(errors.Newf("offset must not be negative: %d", n))
		return c
	}
	c.offset = n
	return c
}

// Limit sets the maximum number of rows; zero means unbounded
func (c *Criteria) Limit(n int) *Criteria {
	if n < 0 {
		c.fail(errors.Newf("limit must not be negative: %d", n))
		return c
	}
	c.limit = n
	return c
}

// Err returns the first error recorded while building the criteria
func (c *Criteria) Err() error {
	return c.err
}

func (c *Criteria) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *Criteria) newFrom(mapping *schema.EntityMapping, parent *From, rel *schema.Relation, jt JoinType, fetch bool) *From {
	f := &From{
		criteria: c,
		mapping:  mapping,
		parent:   parent,
		relation: rel,
		joinType: jt,
		fetch:    fetch,
		alias:    fmt.Sprintf("t%d", c.aliases),
	}
	c.aliases++
	if parent != nil {
		parent.joins = append(parent.joins, f)
	}
	return f
}

// From is a node of the criteria join tree
type From struct {
	criteria *Criteria
	mapping  *schema.EntityMapping
	parent   *From
	relation *schema.Relation
	joinType JoinType
	fetch    bool
	alias    string
	joins    []*From
	err      error
}

// Mapping returns the entity mapping of this node
func (f *From) Mapping() *schema.EntityMapping {
	return f.mapping
}

// Parent returns the node this node was joined from, or nil for the root
func (f *From) Parent() *From {
	return f.parent
}

// Relation returns the relation joined to reach this node, or nil for the root
func (f *From) Relation() *schema.Relation {
	return f.relation
}

// IsFetch returns true if the node loads its relation together with the parent
func (f *From) IsFetch() bool {
	return f.fetch
}

// Joins returns the child nodes
func (f *From) Joins() []*From {
	return f.joins
}

// Err returns the error that made this node invalid, if any
func (f *From) Err() error {
	return f.err
}

// Join navigates a relation for use in restrictions, orderings or selection.
// Joining the same relation twice with the same join type returns the same node.
func (f *From) Join(field string, jt JoinType) *From {
	return f.join(field, jt, false)
}

// Fetch joins a relation so that it is loaded together with the selected
// entities. To-one relations are loaded in the same statement; collections
// are loaded in one batched statement after the main query.
func (f *From) Fetch(field string) *From {
	return f.join(field, JoinLeft, true)
}

func (f *From) join(field string, jt JoinType, fetch bool) *From {
	if f.err != nil {
		return f
	}
	rel, ok := f.mapping.Relation(field)
	if !ok {
		return f.broken(errors.Newf("%s has no relation %s", f.mapping.Name, field))
	}
	for _, existing := range f.joins {
		if existing.relation == rel && existing.fetch == fetch && existing.joinType == jt {
			return existing
		}
	}
	target, ok := f.criteria.registry.ForType(rel.Target)
	if !ok {
		return f.broken(errors.Newf("relation %s.%s targets unregistered %s", f.mapping.Name, field, rel.Target.Name()))
	}
	return f.criteria.newFrom(target, f, rel, jt, fetch)
}

func (f *From) broken(err error) *From {
	f.criteria.fail(err)
	return &From{criteria: f.criteria, mapping: f.mapping, err: err}
}

// Get returns the expression for an attribute. The field is a Go field name
// of a column, or of an owning to-one relation, which yields its foreign key.
func (f *From) Get(field string) Expression {
	if f.err != nil {
		return Expression{err: f.err}
	}
	if col, ok := f.mapping.Column(field); ok {
		return Expression{from: f, column: col.Name, typ: col.Type()}
	}
	if rel, ok := f.mapping.Relation(field); ok && rel.IsOwning() {
		target, _ := f.criteria.registry.ForType(rel.Target)
		if target == nil {
			return Expression{err: errors.Newf("relation %s.%s targets unregistered %s", f.mapping.Name, field, rel.Target.Name())}
		}
		return Expression{from: f, column: rel.JoinColumn, typ: target.ID.Type()}
	}
	err := errors.Newf("%s has no attribute %s", f.mapping.Name, field)
	f.criteria.fail(err)
	return Expression{err: err}
}

// ID returns the expression for the primary key
func (f *From) ID() Expression {
	if f.err != nil {
		return Expression{err: f.err}
	}
	return f.Get(f.mapping.ID.Field)
}

// Path resolves a dotted attribute path. All segments but the last must be
// to-one relations; they are navigated with left joins.
func (f *From) Path(segments ...string) Expression {
	if len(segments) == 0 {
		return Expression{err: errors.New("empty attribute path")}
	}
	cur := f
	for _, seg := range segments[:len(segments)-1] {
		if cur.err != nil {
			break
		}
		if rel, ok := cur.mapping.Relation(seg); ok && rel.IsCollection() {
			err := errors.Newf("path segment %s.%s is a collection", cur.mapping.Name, seg)
			cur.criteria.fail(err)
			return Expression{err: err}
		}
		cur = cur.Join(seg, JoinLeft)
	}
	return cur.Get(segments[len(segments)-1])
}

// Expression is a column reference on a criteria node
type Expression struct {
	from   *From
	column string
	typ    reflect.Type
	err    error
}

// Type returns the Go type of the referenced attribute
func (e Expression) Type() reflect.Type {
	return e.typ
}

// Err returns the error recorded when resolving the expression, if any
func (e Expression) Err() error {
	return e.err
}

// Order is an ordering over an expression
type Order struct {
	expr Expression
	desc bool
}

// Asc orders ascending by expr
func Asc(expr Expression) Order {
	return Order{expr: expr}
}

// Desc orders descending by expr
func Desc(expr Expression) Order {
	return Order{expr: expr, desc: true}
}

// Descending returns true for a descending ordering
func (o Order) Descending() bool {
	return o.desc
}
