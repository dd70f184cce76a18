package query

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/conduit-lang/resourcemap/internal/orm/schema"
)

// Statement is a compiled criteria ready for execution
type Statement struct {
	SQL  string
	Args []any
	Plan *Plan
}

// Plan describes how the columns of a result row map back onto entities
type Plan struct {
	Root    *Selection
	Columns int
}

// Selection is an entity read from a contiguous range of row columns.
// Columns come first, followed by the foreign keys of owning relations.
type Selection struct {
	Mapping     *schema.EntityMapping
	Relation    *schema.Relation // relation from the parent selection, nil for the root
	Columns     []*schema.Column
	ForeignKeys []*schema.Relation
	Fetched     []*Selection
	Deferred    []*DeferredFetch
	Start       int
	IDIndex     int

	from *From
}

// Width returns the number of row columns the selection occupies
func (s *Selection) Width() int {
	return len(s.Columns) + len(s.ForeignKeys)
}

func newSelection(f *From) *Selection {
	s := &Selection{
		Mapping:     f.mapping,
		Relation:    f.relation,
		Columns:     f.mapping.Columns,
		ForeignKeys: f.mapping.OwningRelations(),
		from:        f,
	}
	for i, col := range s.Columns {
		if col == f.mapping.ID {
			s.IDIndex = i
		}
	}
	return s
}

// DeferredFetch is a fetched collection loaded after the main statement
type DeferredFetch struct {
	Relation *schema.Relation
	node     *From
}

// Criteria builds the batched criteria that loads the collection for all the
// given owner identifiers, carrying over nested fetches.
func (d *DeferredFetch) Criteria(registry *schema.Registry, ownerIDs []any) (*Criteria, error) {
	return CollectionCriteria(registry, d.Relation, ownerIDs, d.node)
}

// CollectionCriteria builds a criteria selecting the elements of an inverse
// relation (one_to_many or mapped one_to_one) for the given owner identifiers.
// Nested fetches of template, when given, are applied to the new root.
func CollectionCriteria(registry *schema.Registry, rel *schema.Relation, ownerIDs []any, template *From) (*Criteria, error) {
	if rel.IsOwning() || rel.Owner == nil {
		return nil, errors.Newf("relation %s is not an inverse relation", rel.Field)
	}
	c, err := NewCriteria(registry, rel.Target)
	if err != nil {
		return nil, err
	}
	root := c.Root()
	if template != nil {
		copyFetches(template, root)
	}
	c.Where(In(root.Get(rel.Owner.Field), ownerIDs))
	c.OrderBy(Asc(root.ID()))
	return c, c.Err()
}

func copyFetches(src, dst *From) {
	for _, child := range src.joins {
		if child.fetch {
			copyFetches(child, dst.Fetch(child.relation.Field))
		}
	}
}

// writer accumulates bind arguments and tracks which nodes are joined
type writer struct {
	dialect Dialect
	args    []any
	joined  map[*From]bool
}

func (w *writer) bind(v any) string {
	w.args = append(w.args, v)
	return w.dialect.Placeholder(len(w.args))
}

func (w *writer) expr(e Expression) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	if e.from == nil {
		return "", errors.New("expression has no source")
	}
	if !w.joined[e.from] {
		if e.from.fetch && e.from.relation != nil && e.from.relation.IsCollection() {
			return "", errors.Newf("fetched collection %s cannot be referenced", e.from.relation.Field)
		}
		return "", errors.Newf("%s is not reachable from the query root", e.from.mapping.Name)
	}
	return e.from.alias + "." + QuoteIdentifier(e.column), nil
}

// Compile renders the criteria as a SELECT statement
func (c *Criteria) Compile(d Dialect) (*Statement, error) {
	if c.err != nil {
		return nil, c.err
	}

	w := &writer{dialect: d, joined: map[*From]bool{c.root: true}}
	plan := &Plan{}
	var joins strings.Builder

	var rootSel *Selection
	if c.selected == c.root {
		rootSel = newSelection(c.root)
		plan.Root = rootSel
	}
	if err := c.walk(w, c.root, rootSel, plan, &joins, false); err != nil {
		return nil, err
	}
	if plan.Root == nil {
		return nil, errors.New("selected node is not part of the join tree")
	}

	var cols []string
	var assign func(s *Selection)
	assign = func(s *Selection) {
		s.Start = len(cols)
		for _, col := range s.Columns {
			cols = append(cols, s.from.alias+"."+QuoteIdentifier(col.Name))
		}
		for _, fk := range s.ForeignKeys {
			cols = append(cols, s.from.alias+"."+QuoteIdentifier(fk.JoinColumn))
		}
		for _, child := range s.Fetched {
			assign(child)
		}
	}
	assign(plan.Root)
	plan.Columns = len(cols)

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(cols, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(QuoteIdentifier(c.root.mapping.Table))
	sql.WriteString(" ")
	sql.WriteString(c.root.alias)
	sql.WriteString(joins.String())

	if err := c.writeWhere(w, &sql); err != nil {
		return nil, err
	}

	if len(c.orders) > 0 {
		parts := make([]string, 0, len(c.orders))
		for _, o := range c.orders {
			col, err := w.expr(o.expr)
			if err != nil {
				return nil, err
			}
			dir := "ASC"
			if o.desc {
				dir = "DESC"
			}
			parts = append(parts, col+" "+dir)
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(parts, ", "))
	}

	sql.WriteString(d.LimitOffset(c.limit, c.offset, w.bind))

	return &Statement{SQL: sql.String(), Args: w.args, Plan: plan}, nil
}

// CompileCount renders a statement counting the distinct selected entities.
// Orderings, pagination and fetches are ignored.
func (c *Criteria) CompileCount(d Dialect) (*Statement, error) {
	if c.err != nil {
		return nil, c.err
	}

	w := &writer{dialect: d, joined: map[*From]bool{c.root: true}}
	var joins strings.Builder
	if err := c.walk(w, c.root, nil, &Plan{}, &joins, true); err != nil {
		return nil, err
	}
	if !w.joined[c.selected] {
		return nil, errors.New("selected node is not part of the join tree")
	}

	var sql strings.Builder
	fmt.Fprintf(&sql, "SELECT COUNT(DISTINCT %s.%s) FROM %s %s",
		c.selected.alias, QuoteIdentifier(c.selected.mapping.ID.Name),
		QuoteIdentifier(c.root.mapping.Table), c.root.alias)
	sql.WriteString(joins.String())

	if err := c.writeWhere(w, &sql); err != nil {
		return nil, err
	}

	return &Statement{SQL: sql.String(), Args: w.args}, nil
}

func (c *Criteria) writeWhere(w *writer, sql *strings.Builder) error {
	if len(c.where) == 0 {
		return nil
	}
	cond, err := And(c.where...).toSQL(w)
	if err != nil {
		return err
	}
	if cond != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(cond)
	}
	return nil
}

// walk emits the joins below f. sel is the selection f populates, or nil when
// f is not part of the selected entity graph.
func (c *Criteria) walk(w *writer, f *From, sel *Selection, plan *Plan, joins *strings.Builder, countOnly bool) error {
	for _, j := range f.joins {
		var childSel *Selection

		if j.fetch {
			if sel == nil || countOnly {
				continue
			}
			if j.relation.IsCollection() {
				sel.Deferred = append(sel.Deferred, &DeferredFetch{Relation: j.relation, node: j})
				continue
			}
			childSel = newSelection(j)
			sel.Fetched = append(sel.Fetched, childSel)
		} else if j == c.selected {
			childSel = newSelection(j)
			plan.Root = childSel
		}

		on, err := joinCondition(j)
		if err != nil {
			return err
		}
		fmt.Fprintf(joins, " %s %s %s ON %s", j.joinType, QuoteIdentifier(j.mapping.Table), j.alias, on)
		w.joined[j] = true

		if err := c.walk(w, j, childSel, plan, joins, countOnly); err != nil {
			return err
		}
	}
	return nil
}

func joinCondition(j *From) (string, error) {
	rel := j.relation
	parent := j.parent
	if rel.IsOwning() {
		return fmt.Sprintf("%s.%s = %s.%s",
			j.alias, QuoteIdentifier(j.mapping.ID.Name),
			parent.alias, QuoteIdentifier(rel.JoinColumn)), nil
	}
	if rel.Owner == nil {
		return "", errors.Newf("relation %s.%s has no resolved owning side", parent.mapping.Name, rel.Field)
	}
	return fmt.Sprintf("%s.%s = %s.%s",
		j.alias, QuoteIdentifier(rel.Owner.JoinColumn),
		parent.alias, QuoteIdentifier(parent.mapping.ID.Name)), nil
}
