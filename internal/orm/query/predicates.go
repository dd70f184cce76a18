package query

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	default:
		return "UNKNOWN"
	}
}

// ParseOperator converts a filter operator name to an Operator
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(s) {
	case "", "eq":
		return OpEqual, nil
	case "ne", "neq":
		return OpNotEqual, nil
	case "gt":
		return OpGreaterThan, nil
	case "ge", "gte":
		return OpGreaterThanOrEqual, nil
	case "lt":
		return OpLessThan, nil
	case "le", "lte":
		return OpLessThanOrEqual, nil
	case "in":
		return OpIn, nil
	case "nin":
		return OpNotIn, nil
	case "like":
		return OpLike, nil
	case "ilike":
		return OpILike, nil
	case "null":
		return OpIsNull, nil
	case "notnull":
		return OpIsNotNull, nil
	default:
		return 0, errors.Newf("unknown operator: %s", s)
	}
}

// Predicate is a boolean condition over criteria expressions
type Predicate interface {
	toSQL(w *writer) (string, error)
}

type comparison struct {
	expr  Expression
	op    Operator
	value any
}

// Compare builds a predicate comparing expr with value using op.
// OpIn and OpNotIn expect a []any value; OpIsNull and OpIsNotNull ignore it.
func Compare(expr Expression, op Operator, value any) Predicate {
	switch op {
	case OpIn, OpNotIn:
		values, ok := value.([]any)
		if !ok {
			return invalid{errors.Newf("%s operator requires []any value, got %T", op, value)}
		}
		return &membership{expr: expr, values: values, negate: op == OpNotIn}
	case OpIsNull:
		return IsNull(expr)
	case OpIsNotNull:
		return IsNotNull(expr)
	}
	return &comparison{expr: expr, op: op, value: value}
}

// Equal builds expr = value
func Equal(expr Expression, value any) Predicate {
	return Compare(expr, OpEqual, value)
}

// NotEqual builds expr != value
func NotEqual(expr Expression, value any) Predicate {
	return Compare(expr, OpNotEqual, value)
}

// GreaterThan builds expr > value
func GreaterThan(expr Expression, value any) Predicate {
	return Compare(expr, OpGreaterThan, value)
}

// LessThan builds expr < value
func LessThan(expr Expression, value any) Predicate {
	return Compare(expr, OpLessThan, value)
}

// Like builds a case-sensitive pattern match
func Like(expr Expression, pattern string) Predicate {
	return Compare(expr, OpLike, pattern)
}

// In builds a membership test. An empty list never matches.
func In(expr Expression, values []any) Predicate {
	return &membership{expr: expr, values: values}
}

// IsNull builds expr IS NULL
func IsNull(expr Expression) Predicate {
	return &nullCheck{expr: expr}
}

// IsNotNull builds expr IS NOT NULL
func IsNotNull(expr Expression) Predicate {
	return &nullCheck{expr: expr, negate: true}
}

// And combines predicates so that all must hold
func And(preds ...Predicate) Predicate {
	return &junction{preds: preds}
}

// Or combines predicates so that at least one must hold
func Or(preds ...Predicate) Predicate {
	return &junction{preds: preds, or: true}
}

// Not negates a predicate
func Not(pred Predicate) Predicate {
	return &negation{pred: pred}
}

func (c *comparison) toSQL(w *writer) (string, error) {
	col, err := w.expr(c.expr)
	if err != nil {
		return "", err
	}
	switch c.op {
	case OpLike, OpILike:
		return fmt.Sprintf("%s %s %s", col, w.dialect.LikeOperator(c.op == OpILike), w.bind(c.value)), nil
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		if c.value == nil {
			if c.op == OpEqual {
				return col + " IS NULL", nil
			}
			if c.op == OpNotEqual {
				return col + " IS NOT NULL", nil
			}
		}
		return fmt.Sprintf("%s %s %s", col, c.op, w.bind(c.value)), nil
	default:
		return "", errors.Newf("unsupported operator: %v", c.op)
	}
}

type membership struct {
	expr   Expression
	values []any
	negate bool
}

func (m *membership) toSQL(w *writer) (string, error) {
	col, err := w.expr(m.expr)
	if err != nil {
		return "", err
	}
	return w.dialect.In(col, m.values, m.negate, w.bind), nil
}

type nullCheck struct {
	expr   Expression
	negate bool
}

func (n *nullCheck) toSQL(w *writer) (string, error) {
	col, err := w.expr(n.expr)
	if err != nil {
		return "", err
	}
	if n.negate {
		return col + " IS NOT NULL", nil
	}
	return col + " IS NULL", nil
}

type junction struct {
	preds []Predicate
	or    bool
}

func (j *junction) toSQL(w *writer) (string, error) {
	parts := make([]string, 0, len(j.preds))
	for _, p := range j.preds {
		if p == nil {
			continue
		}
		sql, err := p.toSQL(w)
		if err != nil {
			return "", err
		}
		if sql != "" {
			parts = append(parts, "("+sql+")")
		}
	}
	if len(parts) == 0 {
		return "", nil
	}

	connector := " AND "
	if j.or {
		connector = " OR "
	}
	return strings.Join(parts, connector), nil
}

type negation struct {
	pred Predicate
}

func (n *negation) toSQL(w *writer) (string, error) {
	sql, err := n.pred.toSQL(w)
	if err != nil {
		return "", err
	}
	if sql == "" {
		return "", nil
	}
	return "NOT (" + sql + ")", nil
}

type invalid struct {
	err error
}

func (i invalid) toSQL(*writer) (string, error) {
	return "", i.err
}
