package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
	"github.com/hurttlocker/comps/internal/store"
)

// Options configures a clustering run.
type Options struct {
	Algorithm string // defaults to DefaultAlgorithm
	Config    Config
	Filter    store.RowFilter // narrows which compositions a full run covers
	Force     bool            // treat an incremental request as a full rebuild
}

// Summary reports what a run did.
type Summary struct {
	RunID        string `json:"run_id"`
	Algorithm    string `json:"algorithm"`
	Params       string `json:"params"`
	Full         bool   `json:"full"`
	Compositions int    `json:"compositions"`
	SubClusters  int    `json:"sub_clusters"`
	MainClusters int    `json:"main_clusters"`
	Inherited    int    `json:"inherited"` // incremental: joined an existing sub-cluster
	Unclustered  int    `json:"unclustered"`
}

// Runner drives clustering runs against a store.
type Runner struct {
	store store.Store
}

// NewRunner returns a Runner backed by the store.
func NewRunner(st store.Store) *Runner {
	return &Runner{store: st}
}

// RunFull recomputes clustering from scratch: every existing assignment for
// the algorithm is dropped and replaced by a fresh pass over all stored
// compositions (narrowed by the filter, when set).
func (r *Runner) RunFull(ctx context.Context, opts Options) (*Summary, error) {
	algorithm, cfg := opts.Algorithm, opts.Config.withDefaults()
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	params := cfg.ParamsJSON()

	rows, err := r.store.Rows(ctx, algorithm, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("loading compositions: %w", err)
	}

	result := Compute(rows, cfg)
	runID := uuid.NewString()
	stamp(result.Assignments, algorithm, params, runID)

	if err := r.store.ClearAssignments(ctx, algorithm); err != nil {
		return nil, err
	}
	if err := r.store.SaveAssignments(ctx, result.Assignments); err != nil {
		return nil, err
	}

	s := &Summary{
		RunID:        runID,
		Algorithm:    algorithm,
		Params:       params,
		Full:         true,
		Compositions: len(rows),
		SubClusters:  len(result.SubClusters),
	}
	mains := map[int]bool{}
	for _, sc := range result.SubClusters {
		if sc.MainID != model.Unclustered {
			mains[sc.MainID] = true
		}
	}
	s.MainClusters = len(mains)
	for _, a := range result.Assignments {
		if a.SubClusterID == model.Unclustered {
			s.Unclustered++
		}
	}
	return s, nil
}

// RunIncremental clusters only compositions without an assignment under the
// current (algorithm, params) pair. A new composition whose carry set
// matches an existing sub-cluster inherits that sub-cluster and its main
// cluster; otherwise new carry sets large enough to form a sub-cluster get
// fresh ids above the current maximum, unattached at the main level until
// the next full run. Force falls back to RunFull.
func (r *Runner) RunIncremental(ctx context.Context, opts Options) (*Summary, error) {
	if opts.Force {
		return r.RunFull(ctx, opts)
	}
	algorithm, cfg := opts.Algorithm, opts.Config.withDefaults()
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	params := cfg.ParamsJSON()

	rows, err := r.store.UnassignedRows(ctx, algorithm, params, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("loading unassigned compositions: %w", err)
	}

	runID := uuid.NewString()
	s := &Summary{
		RunID:        runID,
		Algorithm:    algorithm,
		Params:       params,
		Compositions: len(rows),
	}
	if len(rows) == 0 {
		return s, nil
	}

	maxSub, _, err := r.store.MaxClusterIDs(ctx, algorithm, params)
	if err != nil {
		return nil, err
	}

	groups, order := groupByCarryKey(rows, cfg)
	assignments := make([]model.ClusterAssignment, 0, len(rows))
	nextSub := maxSub + 1
	for _, key := range order {
		g := groups[key]
		sub, main := model.Unclustered, model.Unclustered
		existingSub, existingMain, ok, err := r.store.SubClusterByCarries(ctx, algorithm, params, key)
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			sub, main = existingSub, existingMain
			s.Inherited += len(g.members)
		case len(g.carries) > 0 && len(g.members) >= cfg.MinSubClusterSize:
			sub = nextSub
			nextSub++
			s.SubClusters++
		}
		for _, id := range g.members {
			assignments = append(assignments, model.ClusterAssignment{
				ParticipantID: id,
				Algorithm:     algorithm,
				Params:        params,
				RunID:         runID,
				SubClusterID:  sub,
				MainClusterID: main,
				CarryUnits:    g.carries,
			})
			if sub == model.Unclustered {
				s.Unclustered++
			}
		}
	}

	if err := r.store.SaveAssignments(ctx, assignments); err != nil {
		return nil, err
	}
	return s, nil
}

type carryGroup struct {
	carries []string
	members []int64
}

// groupByCarryKey buckets rows by carry key, returning the buckets plus a
// deterministic key order (size desc, key asc) so new ids come out stable.
func groupByCarryKey(rows []filter.Row, cfg Config) (map[string]*carryGroup, []string) {
	groups := make(map[string]*carryGroup, len(rows)/4+1)
	order := make([]string, 0, len(rows)/4+1)
	for i := range rows {
		p := &rows[i].Participant
		carries := Carries(p, cfg.CarryMinItems)
		key := CarryKey(carries)
		g, ok := groups[key]
		if !ok {
			g = &carryGroup{carries: carries}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, p.ID)
	}
	sort.Slice(order, func(i, j int) bool {
		gi, gj := groups[order[i]], groups[order[j]]
		if len(gi.members) != len(gj.members) {
			return len(gi.members) > len(gj.members)
		}
		return order[i] < order[j]
	})
	for _, g := range groups {
		sort.Slice(g.members, func(i, j int) bool { return g.members[i] < g.members[j] })
	}
	return groups, order
}

func stamp(assignments []model.ClusterAssignment, algorithm, params, runID string) {
	for i := range assignments {
		assignments[i].Algorithm = algorithm
		assignments[i].Params = params
		assignments[i].RunID = runID
	}
}
