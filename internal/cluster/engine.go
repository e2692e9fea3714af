package cluster

import (
	"sort"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
)

// SubCluster is one exact-carry-set group produced by a run.
type SubCluster struct {
	ID      int
	MainID  int
	Carries []string
	Members []int64 // participant ids
}

// Result is the in-memory outcome of a clustering pass, before persistence.
type Result struct {
	SubClusters []SubCluster
	// Assignments covers every input row, including ones left unclustered
	// with sub and main ids of model.Unclustered.
	Assignments []model.ClusterAssignment
}

// Compute partitions the rows into sub-clusters by exact carry set and
// merges sub-clusters sharing carries into main clusters. The output is
// deterministic for a given input set: sub-cluster ids are assigned by
// descending group size, ties broken by carry key, and main-cluster ids by
// the smallest member sub-cluster id.
func Compute(rows []filter.Row, cfg Config) *Result {
	cfg = cfg.withDefaults()

	type group struct {
		key     string
		carries []string
		members []int64
	}
	byKey := make(map[string]*group, len(rows)/4+1)
	rowCarries := make(map[int64][]string, len(rows))
	order := make([]string, 0, len(byKey))
	for i := range rows {
		p := &rows[i].Participant
		carries := Carries(p, cfg.CarryMinItems)
		rowCarries[p.ID] = carries
		key := CarryKey(carries)
		g, ok := byKey[key]
		if !ok {
			g = &group{key: key, carries: carries}
			byKey[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, p.ID)
	}

	// Sub-cluster ids: largest groups first, carry key as the tie-break.
	// Carry-less compositions and undersized groups stay unclustered.
	sort.Slice(order, func(i, j int) bool {
		gi, gj := byKey[order[i]], byKey[order[j]]
		if len(gi.members) != len(gj.members) {
			return len(gi.members) > len(gj.members)
		}
		return gi.key < gj.key
	})

	subs := make([]SubCluster, 0, len(order))
	nextSub := 0
	for _, key := range order {
		g := byKey[key]
		if len(g.carries) == 0 || len(g.members) < cfg.MinSubClusterSize {
			continue
		}
		sort.Slice(g.members, func(i, j int) bool { return g.members[i] < g.members[j] })
		subs = append(subs, SubCluster{
			ID:      nextSub,
			MainID:  model.Unclustered,
			Carries: g.carries,
			Members: g.members,
		})
		nextSub++
	}

	assignMainClusters(subs, cfg)

	subByKey := make(map[string]*SubCluster, len(subs))
	for i := range subs {
		subByKey[CarryKey(subs[i].Carries)] = &subs[i]
	}

	assignments := make([]model.ClusterAssignment, 0, len(rows))
	for i := range rows {
		p := &rows[i].Participant
		carries := rowCarries[p.ID]
		a := model.ClusterAssignment{
			ParticipantID: p.ID,
			SubClusterID:  model.Unclustered,
			MainClusterID: model.Unclustered,
			CarryUnits:    carries,
		}
		if sc, ok := subByKey[CarryKey(carries)]; ok {
			a.SubClusterID = sc.ID
			a.MainClusterID = sc.MainID
		}
		assignments = append(assignments, a)
	}

	return &Result{SubClusters: subs, Assignments: assignments}
}

// assignMainClusters merges sub-clusters that share at least
// MinSharedCarries carry units, transitively, then numbers the surviving
// components by their smallest member sub-cluster id. Components with fewer
// than MinMainClusterSize sub-clusters stay unclustered at the main level.
func assignMainClusters(subs []SubCluster, cfg Config) {
	n := len(subs)
	if n == 0 {
		return
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			// Keep the smaller root so component identity follows the
			// smallest member id.
			if ra > rb {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if sharedCarries(subs[i].Carries, subs[j].Carries) >= cfg.MinSharedCarries {
				union(i, j)
			}
		}
	}

	components := make(map[int][]int, n)
	for i := 0; i < n; i++ {
		r := find(i)
		components[r] = append(components[r], i)
	}

	roots := make([]int, 0, len(components))
	for r, members := range components {
		if len(members) >= cfg.MinMainClusterSize {
			roots = append(roots, r)
		}
	}
	sort.Ints(roots)

	for mainID, r := range roots {
		for _, i := range components[r] {
			subs[i].MainID = mainID
		}
	}
}

// sharedCarries counts common elements of two sorted carry sets.
func sharedCarries(a, b []string) int {
	i, j, n := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			n++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return n
}
