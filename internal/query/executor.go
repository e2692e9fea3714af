package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/store"
)

// Stats executes the aggregate form of the query: play count, average
// placement, winrate and top-4 rate over every matching composition. An
// empty result set reports all-zero metrics.
func (q *Query) Stats(ctx context.Context) (*store.Aggregate, error) {
	if q.err != nil {
		return nil, q.err
	}
	strategy, err := q.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if strategy == Database {
		where, args := filter.SQL(q.expr)
		return q.opts.Store.SelectAggregate(ctx, q.opts.Algorithm, where, args)
	}
	rows, err := q.matchRows(ctx, 0)
	if err != nil {
		return nil, err
	}
	return aggregate(rows), nil
}

// Records executes the raw form of the query, returning full composition
// rows ordered by placement, capped at the configured raw limit.
func (q *Query) Records(ctx context.Context) ([]filter.Row, error) {
	if q.err != nil {
		return nil, q.err
	}
	strategy, err := q.resolve(ctx)
	if err != nil {
		return nil, err
	}
	if strategy == Database {
		where, args := filter.SQL(q.expr)
		return q.opts.Store.SelectRows(ctx, q.opts.Algorithm, where, args, q.opts.RawLimit)
	}
	return q.matchRows(ctx, q.opts.RawLimit)
}

// resolve settles on an executable strategy for this call. Auto prefers the
// database and only falls back to memory when the store is missing or
// unreachable; a query with raw SQL conditions never falls back, since the
// memory matcher cannot interpret them. Falling back from an unreachable
// store requires an explicit Dataset, as rows cannot be loaded from the
// store that just failed.
func (q *Query) resolve(ctx context.Context) (Strategy, error) {
	switch q.opts.Strategy {
	case Database:
		if q.opts.Store == nil {
			return "", fmt.Errorf("database strategy: %w", ErrNoBackend)
		}
		return Database, nil
	case Memory:
		if q.hasRaw {
			return "", filter.ErrRawFilterInMemory
		}
		if q.opts.Dataset == nil && q.opts.Store == nil {
			return "", fmt.Errorf("memory strategy: %w", ErrNoBackend)
		}
		return Memory, nil
	default:
		if q.opts.Store != nil {
			err := q.opts.Store.Ping(ctx)
			if err == nil {
				return Database, nil
			}
			if q.hasRaw {
				return "", fmt.Errorf("store unreachable and query has raw SQL conditions: %w", err)
			}
			if q.opts.Dataset == nil {
				return "", fmt.Errorf("store unreachable and no dataset to fall back to: %w", err)
			}
			return Memory, nil
		}
		if q.hasRaw {
			return "", fmt.Errorf("query has raw SQL conditions: %w", ErrNoBackend)
		}
		if q.opts.Dataset == nil {
			return "", ErrNoBackend
		}
		return Memory, nil
	}
}

// matchRows evaluates the expression against the in-memory dataset, loading
// it from the store on first need. limit of 0 means unbounded.
func (q *Query) matchRows(ctx context.Context, limit int) ([]filter.Row, error) {
	rows := q.opts.Dataset
	if rows == nil {
		loaded, err := q.opts.Store.Rows(ctx, q.opts.Algorithm, store.RowFilter{})
		if err != nil {
			return nil, fmt.Errorf("loading rows for in-memory evaluation: %w", err)
		}
		q.opts.Dataset = loaded
		rows = loaded
	}

	expr := q.expr
	if expr == nil {
		expr = filter.True()
	}
	out := make([]filter.Row, 0, 64)
	for i := range rows {
		ok, err := expr.Match(&rows[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Participant.Placement != out[j].Participant.Placement {
			return out[i].Participant.Placement < out[j].Participant.Placement
		}
		return out[i].Participant.ID < out[j].Participant.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// aggregate computes the stats form over matched rows, mirroring the SQL
// aggregate exactly: rates are fractions and an empty set is all zeros.
func aggregate(rows []filter.Row) *store.Aggregate {
	agg := &store.Aggregate{PlayCount: int64(len(rows))}
	if len(rows) == 0 {
		return agg
	}
	var placements, wins, top4 float64
	for i := range rows {
		p := rows[i].Participant.Placement
		placements += float64(p)
		if p == 1 {
			wins++
		}
		if p <= 4 {
			top4++
		}
	}
	n := float64(len(rows))
	agg.AvgPlacement = placements / n
	agg.WinRate = wins / n
	agg.Top4Rate = top4 / n
	return agg
}
