// Package query provides the fluent query interface over stored
// compositions.
//
// A Query accumulates predicate conditions conjunctively; the combinators
// Or, Not, AndNot and Xor operate on the entire accumulated expression, not
// on the last condition added. Construction errors stick to the query and
// surface at execution, so call chains never need mid-chain error checks.
package query

import (
	"errors"
	"fmt"

	"github.com/hurttlocker/comps/internal/cluster"
	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/store"
)

// Strategy selects how a query executes.
type Strategy string

const (
	// Auto uses the database when a store is configured and reachable,
	// falling back to in-memory evaluation otherwise. The fallback from
	// an unreachable store needs an explicit Dataset to run against.
	Auto Strategy = "auto"
	// Database compiles the expression to parameterized SQL.
	Database Strategy = "database"
	// Memory evaluates the expression directly against loaded rows.
	Memory Strategy = "memory"
)

// ErrNoBackend is returned when a query has neither a usable store nor an
// in-memory dataset to run against.
var ErrNoBackend = errors.New("query has no store or dataset to execute against")

// Options configures query construction.
type Options struct {
	Store     store.Store
	Dataset   []filter.Row // rows for the memory strategy; loaded lazily from Store when nil
	Strategy  Strategy     // defaults to Auto
	Algorithm string       // cluster algorithm joined into rows; defaults to cluster.DefaultAlgorithm
	RawLimit  int          // row cap for Records; defaults to store.DefaultRawLimit
}

// Query is a fluent, compiled composition filter. The zero value is not
// usable; construct with New.
type Query struct {
	opts   Options
	expr   filter.Expr // nil means match-all
	hasRaw bool
	err    error
}

// New returns an empty query that matches every composition.
func New(opts Options) *Query {
	if opts.Strategy == "" {
		opts.Strategy = Auto
	}
	if opts.Algorithm == "" {
		opts.Algorithm = cluster.DefaultAlgorithm
	}
	if opts.RawLimit <= 0 {
		opts.RawLimit = store.DefaultRawLimit
	}
	return &Query{opts: opts}
}

// Err reports the first construction error, if any.
func (q *Query) Err() error { return q.err }

// Expr exposes the accumulated expression tree.
func (q *Query) Expr() filter.Expr { return q.expr }

// add conjoins a predicate built by ctor, keeping the first error.
func (q *Query) add(e filter.Expr, err error) *Query {
	if q.err != nil {
		return q
	}
	if err != nil {
		q.err = err
		return q
	}
	q.expr = filter.And(q.expr, e)
	return q
}

// Unit requires at least one copy of the unit on the board.
func (q *Query) Unit(characterID string) *Query {
	return q.add(filter.Unit(characterID, true))
}

// WithoutUnit requires the unit to be absent.
func (q *Query) WithoutUnit(characterID string) *Query {
	return q.add(filter.Unit(characterID, false))
}

// UnitCount requires exactly count copies of the unit.
func (q *Query) UnitCount(characterID string, count int) *Query {
	return q.add(filter.UnitCount(characterID, count))
}

// UnitStar requires some copy of the unit at a star level in [min,max].
func (q *Query) UnitStar(characterID string, min, max int) *Query {
	return q.add(filter.UnitStarLevel(characterID, min, max))
}

// UnitItemCount requires some copy of the unit holding between min and max
// items.
func (q *Query) UnitItemCount(characterID string, min, max int) *Query {
	return q.add(filter.UnitItemCount(characterID, min, max))
}

// ItemOnUnit requires the item equipped on some copy of the unit.
func (q *Query) ItemOnUnit(characterID, itemName string) *Query {
	return q.add(filter.ItemOnUnit(characterID, itemName))
}

// Trait requires the trait active at a tier in [min,max]. Tier bounds of
// (1, MaxTraitTier) cover "active at any tier".
func (q *Query) Trait(name string, min, max int) *Query {
	return q.add(filter.Trait(name, min, max))
}

// TraitActive requires the trait active at any tier.
func (q *Query) TraitActive(name string) *Query {
	return q.add(filter.Trait(name, 1, filter.MaxTraitTier))
}

// Level requires a player level in [min,max].
func (q *Query) Level(min, max int) *Query {
	return q.add(filter.PlayerLevel(min, max))
}

// LastRound requires elimination (or game end) in a round within [min,max].
func (q *Query) LastRound(min, max int) *Query {
	return q.add(filter.LastRound(min, max))
}

// Augment requires the augment to have been taken.
func (q *Query) Augment(augmentID string) *Query {
	return q.add(filter.Augment(augmentID))
}

// Patch requires the match's game version to start with "Version <patch>".
func (q *Query) Patch(patch string) *Query {
	return q.add(filter.Patch(patch))
}

// SubCluster requires membership in the given sub-cluster.
func (q *Query) SubCluster(id int) *Query {
	return q.add(filter.SubCluster(id))
}

// MainCluster requires membership in the given main cluster.
func (q *Query) MainCluster(id int) *Query {
	return q.add(filter.MainCluster(id))
}

// Raw conjoins a backend-native SQL condition with ? placeholders. Queries
// containing raw conditions can only execute on the database strategy.
func (q *Query) Raw(condition string, args ...any) *Query {
	q = q.add(filter.Raw(condition, args...))
	if q.err == nil {
		q.hasRaw = true
	}
	return q
}

// Or replaces the accumulated expression with (self OR other). The other
// query's options are ignored; only its expression carries over.
func (q *Query) Or(other *Query) *Query {
	if q.err != nil {
		return q
	}
	if other == nil {
		return q
	}
	if other.err != nil {
		q.err = fmt.Errorf("or operand: %w", other.err)
		return q
	}
	q.expr = filter.Or(q.expr, other.expr)
	q.hasRaw = q.hasRaw || other.hasRaw
	return q
}

// Not negates the entire accumulated expression.
func (q *Query) Not() *Query {
	if q.err != nil {
		return q
	}
	q.expr = filter.Not(q.expr)
	return q
}

// AndNot conjoins the negation of the other query's whole expression.
func (q *Query) AndNot(other *Query) *Query {
	if q.err != nil {
		return q
	}
	if other == nil {
		return q
	}
	if other.err != nil {
		q.err = fmt.Errorf("and-not operand: %w", other.err)
		return q
	}
	q.expr = filter.And(q.expr, filter.Not(other.expr))
	q.hasRaw = q.hasRaw || other.hasRaw
	return q
}

// Xor replaces the accumulated expression with one that holds when exactly
// one of (self, other) holds.
func (q *Query) Xor(other *Query) *Query {
	if q.err != nil {
		return q
	}
	if other == nil {
		return q
	}
	if other.err != nil {
		q.err = fmt.Errorf("xor operand: %w", other.err)
		return q
	}
	q.expr = filter.Xor(q.expr, other.expr)
	q.hasRaw = q.hasRaw || other.hasRaw
	return q
}

// Describe renders the compiled SQL shape of the accumulated expression,
// without bound values.
func (q *Query) Describe() string {
	return filter.Describe(q.expr)
}
