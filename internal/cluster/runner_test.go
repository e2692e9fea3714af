package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hurttlocker/comps/internal/model"
	"github.com/hurttlocker/comps/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(store.Config{DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedLobby imports one 8-player match where every composition fields the
// given carry units (two items each).
func seedLobby(t *testing.T, s *store.SQLiteStore, matchID string, carryIDs ...string) {
	t.Helper()
	m := &model.Match{
		MatchID:      matchID,
		GameDatetime: time.Date(2026, 8, 10, 18, 0, 0, 0, time.UTC),
		GameVersion:  "Version 15.2.684.2108",
		QueueType:    "standard",
	}
	participants := make([]model.Participant, model.PlayersPerMatch)
	for i := range participants {
		p := &participants[i]
		p.PUUID = fmt.Sprintf("%s-p%d", matchID, i)
		p.Placement = i + 1
		p.Level = 8
		p.LastRound = 30
		p.Traits = []model.TraitEntry{}
		p.Augments = []string{}
		p.Units = []model.UnitEntry{}
		for _, cid := range carryIDs {
			p.Units = append(p.Units, model.UnitEntry{
				CharacterID: cid,
				ItemNames:   []string{"ItemA", "ItemB"},
			})
		}
	}
	if _, err := s.AddMatch(context.Background(), m, participants); err != nil {
		t.Fatalf("AddMatch(%s): %v", matchID, err)
	}
}

func TestRunFull_PersistsAssignments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_1", "TFT15_Jinx", "TFT15_Vi")
	seedLobby(t, s, "NA1_2", "TFT15_Jinx", "TFT15_Vi")
	seedLobby(t, s, "NA1_3", "TFT15_Aphelios")

	runner := NewRunner(s)
	summary, err := runner.RunFull(ctx, Options{})
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	if summary.Compositions != 24 {
		t.Fatalf("clustered %d compositions, want 24", summary.Compositions)
	}
	if summary.SubClusters != 2 {
		t.Fatalf("got %d sub-clusters, want 2", summary.SubClusters)
	}
	if summary.RunID == "" {
		t.Fatal("run id missing")
	}
	if !summary.Full {
		t.Fatal("summary should be marked full")
	}

	// Assignments are queryable by carry key afterwards.
	sub, _, ok, err := s.SubClusterByCarries(ctx, DefaultAlgorithm, summary.Params, `["TFT15_Jinx","TFT15_Vi"]`)
	if err != nil {
		t.Fatalf("SubClusterByCarries: %v", err)
	}
	if !ok || sub != 0 {
		t.Fatalf("largest carry set should be sub 0, got (%d,%v)", sub, ok)
	}
}

func TestRunFull_SupersedesPreviousRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_10", "TFT15_Jinx")

	runner := NewRunner(s)
	first, err := runner.RunFull(ctx, Options{})
	if err != nil {
		t.Fatalf("first RunFull: %v", err)
	}
	second, err := runner.RunFull(ctx, Options{})
	if err != nil {
		t.Fatalf("second RunFull: %v", err)
	}
	if first.RunID == second.RunID {
		t.Fatal("runs must have distinct ids")
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.AssignmentCount != 8 {
		t.Fatalf("rebuild left %d assignments, want 8", st.AssignmentCount)
	}
}

func TestRunIncremental_NoopWhenFullyAssigned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_20", "TFT15_Jinx")

	runner := NewRunner(s)
	if _, err := runner.RunFull(ctx, Options{}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	summary, err := runner.RunIncremental(ctx, Options{})
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if summary.Compositions != 0 {
		t.Fatalf("no-op run touched %d compositions", summary.Compositions)
	}
}

func TestRunIncremental_InheritsExistingSubCluster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_30", "TFT15_Jinx", "TFT15_Vi")

	runner := NewRunner(s)
	full, err := runner.RunFull(ctx, Options{})
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	// New match with the same carry set arrives after the full run.
	seedLobby(t, s, "NA1_31", "TFT15_Jinx", "TFT15_Vi")

	summary, err := runner.RunIncremental(ctx, Options{})
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if summary.Compositions != 8 {
		t.Fatalf("clustered %d new compositions, want 8", summary.Compositions)
	}
	if summary.Inherited != 8 {
		t.Fatalf("%d inherited, want 8", summary.Inherited)
	}
	if summary.SubClusters != 0 {
		t.Fatalf("no new sub-clusters expected, got %d", summary.SubClusters)
	}

	// The inherited rows sit in the original sub-cluster.
	stats, err := s.ClusterStats(ctx, DefaultAlgorithm, store.SubClusters, 1)
	if err != nil {
		t.Fatalf("ClusterStats: %v", err)
	}
	if len(stats) != 1 || stats[0].PlayCount != 16 {
		t.Fatalf("expected one sub-cluster of 16, got %+v", stats)
	}
	if summary.RunID == full.RunID {
		t.Fatal("incremental run must carry its own run id")
	}
}

func TestRunIncremental_NewCarrySetGetsFreshID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_40", "TFT15_Jinx")

	runner := NewRunner(s)
	if _, err := runner.RunFull(ctx, Options{}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	seedLobby(t, s, "NA1_41", "TFT15_Aphelios")

	summary, err := runner.RunIncremental(ctx, Options{})
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if summary.SubClusters != 1 {
		t.Fatalf("expected one new sub-cluster, got %d", summary.SubClusters)
	}

	sub, main, ok, err := s.SubClusterByCarries(ctx, DefaultAlgorithm, summary.Params, `["TFT15_Aphelios"]`)
	if err != nil {
		t.Fatalf("SubClusterByCarries: %v", err)
	}
	if !ok {
		t.Fatal("new carry set not persisted")
	}
	if sub != 1 {
		t.Fatalf("new sub id %d, want 1 (above previous max 0)", sub)
	}
	if main != model.Unclustered {
		t.Fatalf("new sub-cluster should be unattached at main level, got %d", main)
	}
}

func TestRunIncremental_ForceRebuildsEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedLobby(t, s, "NA1_50", "TFT15_Jinx")

	runner := NewRunner(s)
	if _, err := runner.RunFull(ctx, Options{}); err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	summary, err := runner.RunIncremental(ctx, Options{Force: true})
	if err != nil {
		t.Fatalf("forced RunIncremental: %v", err)
	}
	if !summary.Full {
		t.Fatal("forced incremental should run full")
	}
	if summary.Compositions != 8 {
		t.Fatalf("forced rebuild covered %d compositions, want 8", summary.Compositions)
	}
}
