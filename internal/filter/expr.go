// Package filter provides the boolean expression tree behind composition
// queries.
//
// An expression is built from predicate leaves (see leaves.go) combined with
// And/Or/Not. Every node supports two evaluations of the same semantics: a
// parameterized SQL rendering for the database strategy, and direct matching
// against an in-memory Row for the fallback strategy. Trees are immutable
// once built; combining two expressions produces a new root.
package filter

import (
	"errors"
	"strings"

	"github.com/hurttlocker/comps/internal/model"
)

// ErrRawFilterInMemory is returned when a raw SQL leaf is evaluated by the
// in-memory strategy, which cannot interpret backend-native conditions.
var ErrRawFilterInMemory = errors.New("raw SQL filter requires the database strategy")

// Row is the unit a filter evaluates against: one composition joined with
// its match metadata and persisted cluster assignment. Compositions without
// an assignment carry the model.Unclustered sentinel.
type Row struct {
	Participant   model.Participant
	Match         model.Match
	SubClusterID  int
	MainClusterID int
}

// Expr is one node of a filter expression tree.
//
// AppendSQL writes the node's SQL fragment to sb and appends its bound
// values to args in exactly the order their placeholders appear in the
// fragment. Callers rely on that ordering to line up placeholder N with
// parameter N across the whole compiled query.
//
// Match evaluates the node against an in-memory row, returning
// ErrRawFilterInMemory for leaves that only exist in SQL form.
type Expr interface {
	AppendSQL(sb *strings.Builder, args *[]any)
	Match(row *Row) (bool, error)
}

type trueExpr struct{}

func (trueExpr) AppendSQL(sb *strings.Builder, _ *[]any) { sb.WriteString("1=1") }
func (trueExpr) Match(*Row) (bool, error)                { return true, nil }

// True returns the empty-filter expression that matches every row.
func True() Expr { return trueExpr{} }

type andExpr struct{ left, right Expr }
type orExpr struct{ left, right Expr }
type notExpr struct{ inner Expr }

// And combines two expressions conjunctively. A nil operand is treated as
// the implicit match-all expression, so And(nil, x) is just x.
func And(left, right Expr) Expr {
	if left == nil {
		return right
	}
	if right == nil {
		return left
	}
	return andExpr{left: left, right: right}
}

// Or combines two expressions disjunctively, treating nil as match-all.
func Or(left, right Expr) Expr {
	if left == nil {
		left = True()
	}
	if right == nil {
		right = True()
	}
	return orExpr{left: left, right: right}
}

// Not negates an expression, treating nil as match-all (so Not(nil) matches
// nothing).
func Not(inner Expr) Expr {
	if inner == nil {
		inner = True()
	}
	return notExpr{inner: inner}
}

// Xor holds when exactly one of the two expressions holds:
// (a OR b) AND NOT (a AND b).
func Xor(left, right Expr) Expr {
	return And(Or(left, right), Not(And(left, right)))
}

func (e andExpr) AppendSQL(sb *strings.Builder, args *[]any) {
	sb.WriteString("(")
	e.left.AppendSQL(sb, args)
	sb.WriteString(" AND ")
	e.right.AppendSQL(sb, args)
	sb.WriteString(")")
}

func (e andExpr) Match(row *Row) (bool, error) {
	ok, err := e.left.Match(row)
	if err != nil || !ok {
		return false, err
	}
	return e.right.Match(row)
}

func (e orExpr) AppendSQL(sb *strings.Builder, args *[]any) {
	sb.WriteString("(")
	e.left.AppendSQL(sb, args)
	sb.WriteString(" OR ")
	e.right.AppendSQL(sb, args)
	sb.WriteString(")")
}

func (e orExpr) Match(row *Row) (bool, error) {
	ok, err := e.left.Match(row)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return e.right.Match(row)
}

func (e notExpr) AppendSQL(sb *strings.Builder, args *[]any) {
	sb.WriteString("NOT (")
	e.inner.AppendSQL(sb, args)
	sb.WriteString(")")
}

func (e notExpr) Match(row *Row) (bool, error) {
	ok, err := e.inner.Match(row)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// SQL renders a full expression as a WHERE fragment plus its positional
// parameter list. A nil expression renders as the match-all fragment.
func SQL(e Expr) (string, []any) {
	if e == nil {
		e = True()
	}
	var sb strings.Builder
	args := make([]any, 0, 8)
	e.AppendSQL(&sb, &args)
	return sb.String(), args
}

// Describe renders an expression's SQL shape without its bound values, for
// error messages and diagnostics.
func Describe(e Expr) string {
	s, _ := SQL(e)
	return s
}
