package cluster

import (
	"fmt"
	"testing"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
)

// compRow builds one composition row whose listed units each hold two
// items, marking all of them carries under the default threshold.
func compRow(id int64, carryIDs ...string) filter.Row {
	r := filter.Row{}
	r.Participant.ID = id
	for _, cid := range carryIDs {
		r.Participant.Units = append(r.Participant.Units, model.UnitEntry{
			CharacterID: cid,
			ItemNames:   []string{"ItemA", "ItemB"},
		})
	}
	// A naked unit that must never count as a carry.
	r.Participant.Units = append(r.Participant.Units, model.UnitEntry{CharacterID: "TFT15_Filler"})
	return r
}

// nRows makes n copies of the same carry set with sequential ids starting
// at base.
func nRows(base int64, n int, carryIDs ...string) []filter.Row {
	rows := make([]filter.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, compRow(base+int64(i), carryIDs...))
	}
	return rows
}

func TestCarries_ItemThresholdAndOrder(t *testing.T) {
	p := &model.Participant{Units: []model.UnitEntry{
		{CharacterID: "TFT15_Vi", ItemNames: []string{"A", "B", "C"}},
		{CharacterID: "TFT15_Jinx", ItemNames: []string{"A", "B"}},
		{CharacterID: "TFT15_Ekko", ItemNames: []string{"A"}},
		{CharacterID: "TFT15_Jinx", ItemNames: []string{"C", "D"}},
		{CharacterID: "TFT15_Naked"},
	}}

	got := Carries(p, 2)
	want := []string{"TFT15_Jinx", "TFT15_Vi"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v (sorted, de-duplicated)", got, want)
		}
	}
}

func TestCarryKey_Canonical(t *testing.T) {
	if k := CarryKey(nil); k != "[]" {
		t.Fatalf("empty key %q, want []", k)
	}
	if k := CarryKey([]string{"a", "b"}); k != `["a","b"]` {
		t.Fatalf("key %q", k)
	}
}

func TestCompute_SubClustersBySizeThenKey(t *testing.T) {
	var rows []filter.Row
	rows = append(rows, nRows(100, 6, "TFT15_Jinx", "TFT15_Vi")...)
	rows = append(rows, nRows(200, 5, "TFT15_Aphelios")...)
	rows = append(rows, nRows(300, 5, "TFT15_Zeri")...)
	rows = append(rows, nRows(400, 2, "TFT15_Rare")...) // below min size
	rows = append(rows, compRow(500))                   // no carries at all

	res := Compute(rows, Config{})

	if len(res.SubClusters) != 3 {
		t.Fatalf("got %d sub-clusters, want 3", len(res.SubClusters))
	}
	// Largest group first; equal sizes ordered by carry key.
	if res.SubClusters[0].ID != 0 || len(res.SubClusters[0].Members) != 6 {
		t.Fatalf("sub 0: %+v", res.SubClusters[0])
	}
	if res.SubClusters[1].Carries[0] != "TFT15_Aphelios" {
		t.Errorf("tie-break by key failed: sub 1 carries %v", res.SubClusters[1].Carries)
	}
	if res.SubClusters[2].Carries[0] != "TFT15_Zeri" {
		t.Errorf("tie-break by key failed: sub 2 carries %v", res.SubClusters[2].Carries)
	}

	byID := map[int64]model.ClusterAssignment{}
	for _, a := range res.Assignments {
		byID[a.ParticipantID] = a
	}
	if len(res.Assignments) != len(rows) {
		t.Fatalf("assignments cover %d rows, want %d", len(res.Assignments), len(rows))
	}
	if a := byID[400]; a.SubClusterID != model.Unclustered {
		t.Errorf("undersized group clustered: %+v", a)
	}
	if a := byID[500]; a.SubClusterID != model.Unclustered {
		t.Errorf("carry-less composition clustered: %+v", a)
	}
	if a := byID[100]; a.SubClusterID != 0 {
		t.Errorf("largest group should be sub 0: %+v", a)
	}
}

func TestCompute_MainClustersMergeOnSharedCarries(t *testing.T) {
	var rows []filter.Row
	// Three sub-clusters pairwise sharing two carries: one component.
	rows = append(rows, nRows(100, 5, "TFT15_A", "TFT15_B", "TFT15_C")...)
	rows = append(rows, nRows(200, 5, "TFT15_A", "TFT15_B", "TFT15_D")...)
	rows = append(rows, nRows(300, 5, "TFT15_B", "TFT15_C", "TFT15_E")...)
	// Shares only one carry with the component: stays out.
	rows = append(rows, nRows(400, 5, "TFT15_A", "TFT15_X")...)

	res := Compute(rows, Config{MinMainClusterSize: 3})

	if len(res.SubClusters) != 4 {
		t.Fatalf("got %d sub-clusters, want 4", len(res.SubClusters))
	}

	mains := map[int]int{}
	for _, sc := range res.SubClusters {
		mains[sc.MainID]++
	}
	if mains[0] != 3 {
		t.Fatalf("main 0 should hold 3 sub-clusters: %v", mains)
	}
	if mains[model.Unclustered] != 1 {
		t.Fatalf("one sub-cluster should stay unattached: %v", mains)
	}

	// A single shared carry is enough once the threshold is lowered.
	res = Compute(rows, Config{MinSharedCarries: 1, MinMainClusterSize: 3})
	mains = map[int]int{}
	for _, sc := range res.SubClusters {
		mains[sc.MainID]++
	}
	if mains[0] != 4 {
		t.Fatalf("threshold 1 should pull the outlier into main 0: %v", mains)
	}
}

func TestCompute_SmallComponentStaysUnattached(t *testing.T) {
	var rows []filter.Row
	rows = append(rows, nRows(100, 5, "TFT15_A", "TFT15_B")...)
	rows = append(rows, nRows(200, 5, "TFT15_A", "TFT15_B", "TFT15_C")...)

	// Two sub-clusters merge, but the component is below the default
	// minimum of three.
	res := Compute(rows, Config{})
	for _, sc := range res.SubClusters {
		if sc.MainID != model.Unclustered {
			t.Fatalf("component of 2 got main id %d", sc.MainID)
		}
	}

	// Lowering the minimum lets it through.
	res = Compute(rows, Config{MinMainClusterSize: 2})
	for _, sc := range res.SubClusters {
		if sc.MainID != 0 {
			t.Fatalf("component of 2 should be main 0, got %d", sc.MainID)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	var rows []filter.Row
	for g := 0; g < 10; g++ {
		rows = append(rows, nRows(int64(g*100), 5, fmt.Sprintf("TFT15_C%d", g), "TFT15_Shared")...)
	}

	first := Compute(rows, Config{})
	for i := 0; i < 5; i++ {
		again := Compute(rows, Config{})
		if len(again.SubClusters) != len(first.SubClusters) {
			t.Fatal("sub-cluster count varies across runs")
		}
		for j := range first.SubClusters {
			if again.SubClusters[j].ID != first.SubClusters[j].ID ||
				again.SubClusters[j].MainID != first.SubClusters[j].MainID ||
				CarryKey(again.SubClusters[j].Carries) != CarryKey(first.SubClusters[j].Carries) {
				t.Fatalf("run %d diverged at sub %d", i, j)
			}
		}
	}
}

func TestSharedCarries(t *testing.T) {
	cases := []struct {
		a, b []string
		want int
	}{
		{nil, nil, 0},
		{[]string{"a"}, []string{"a"}, 1},
		{[]string{"a", "b", "c"}, []string{"b", "c", "d"}, 2},
		{[]string{"a", "b"}, []string{"c", "d"}, 0},
	}
	for _, tc := range cases {
		if got := sharedCarries(tc.a, tc.b); got != tc.want {
			t.Errorf("sharedCarries(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestConfig_ParamsJSONStable(t *testing.T) {
	a := Config{}.ParamsJSON()
	b := DefaultConfig().ParamsJSON()
	if a != b {
		t.Fatalf("zero config and default config fingerprints differ:\n%s\n%s", a, b)
	}
	c := Config{CarryMinItems: 3}.ParamsJSON()
	if a == c {
		t.Fatal("different parameters must produce different fingerprints")
	}
}
