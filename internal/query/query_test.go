package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hurttlocker/comps/internal/filter"
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

// seedFixture imports three matches with varied boards:
//   - match A (patch 15.2): players 0-3 field Jinx (stars 1..4 capped at 3,
//     two items), player 0 also fields Vi and runs Sniper tier 2
//   - match B (patch 15.1, hyperroll): players field Aphelios
//   - match C: an upstream-mangled "VERSION 15.2..." version string with
//     empty boards
func seedFixture(t *testing.T, s *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	a := &model.Match{
		MatchID:      "NA1_A",
		GameDatetime: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		GameVersion:  "Version 15.2.684.2108",
		QueueType:    "standard",
	}
	ap := make([]model.Participant, model.PlayersPerMatch)
	for i := range ap {
		p := &ap[i]
		p.PUUID = fmt.Sprintf("a-%d", i)
		p.Placement = i + 1
		p.Level = 7 + i%3
		p.LastRound = 28 + i
		p.Units = []model.UnitEntry{}
		p.Traits = []model.TraitEntry{}
		p.Augments = []string{}
		if i < 4 {
			tier := i + 1
			if tier > 3 {
				tier = 3
			}
			p.Units = append(p.Units, model.UnitEntry{
				CharacterID: "TFT15_Jinx",
				Tier:        tier,
				ItemNames:   []string{"InfinityEdge", "LastWhisper"},
			})
		}
		if i == 0 {
			p.Units = append(p.Units, model.UnitEntry{CharacterID: "TFT15_Vi", Tier: 2})
			p.Traits = append(p.Traits, model.TraitEntry{Name: "Sniper", TierCurrent: 2, NumUnits: 4})
			p.Augments = append(p.Augments, "TFT15_Augment_GlassCannon")
		}
	}
	if _, err := s.AddMatch(ctx, a, ap); err != nil {
		t.Fatalf("AddMatch A: %v", err)
	}

	b := &model.Match{
		MatchID:      "NA1_B",
		GameDatetime: time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC),
		GameVersion:  "Version 15.1.600.1000",
		QueueType:    "hyperroll",
	}
	bp := make([]model.Participant, model.PlayersPerMatch)
	for i := range bp {
		p := &bp[i]
		p.PUUID = fmt.Sprintf("b-%d", i)
		p.Placement = i + 1
		p.Level = 6
		p.LastRound = 22
		p.Units = []model.UnitEntry{{CharacterID: "TFT15_Aphelios", Tier: 2}}
		p.Traits = []model.TraitEntry{}
		p.Augments = []string{}
	}
	if _, err := s.AddMatch(ctx, b, bp); err != nil {
		t.Fatalf("AddMatch B: %v", err)
	}

	c := &model.Match{
		MatchID:      "NA1_C",
		GameDatetime: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
		GameVersion:  "VERSION 15.2.700.1000",
		QueueType:    "standard",
	}
	cp := make([]model.Participant, model.PlayersPerMatch)
	for i := range cp {
		p := &cp[i]
		p.PUUID = fmt.Sprintf("c-%d", i)
		p.Placement = i + 1
		p.Level = 6
		p.LastRound = 20
		p.Units = []model.UnitEntry{}
		p.Traits = []model.TraitEntry{}
		p.Augments = []string{}
	}
	if _, err := s.AddMatch(ctx, c, cp); err != nil {
		t.Fatalf("AddMatch C: %v", err)
	}
}

func build(q *Query) *Query { return q }

func TestStats_DatabaseAndMemoryAgree(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)
	ctx := context.Background()

	cases := []struct {
		name  string
		build func(q *Query) *Query
	}{
		{"empty query", build},
		{"unit", func(q *Query) *Query { return q.Unit("TFT15_Jinx") }},
		{"without unit", func(q *Query) *Query { return q.WithoutUnit("TFT15_Jinx") }},
		{"unit star range", func(q *Query) *Query { return q.UnitStar("TFT15_Jinx", 2, 3) }},
		{"item on unit", func(q *Query) *Query { return q.ItemOnUnit("TFT15_Jinx", "InfinityEdge") }},
		{"unit item count", func(q *Query) *Query { return q.UnitItemCount("TFT15_Jinx", 2, 3) }},
		{"trait", func(q *Query) *Query { return q.TraitActive("Sniper") }},
		{"augment", func(q *Query) *Query { return q.Augment("TFT15_Augment_GlassCannon") }},
		{"patch", func(q *Query) *Query { return q.Patch("15.2") }},
		{"level", func(q *Query) *Query { return q.Level(7, 8) }},
		{"last round", func(q *Query) *Query { return q.LastRound(28, 31) }},
		{"negated whole", func(q *Query) *Query { return q.Unit("TFT15_Jinx").Not() }},
		{"or of units", func(q *Query) *Query {
			return q.Unit("TFT15_Jinx").Or(New(Options{}).Unit("TFT15_Aphelios"))
		}},
		{"and not", func(q *Query) *Query {
			return q.Unit("TFT15_Jinx").AndNot(New(Options{}).Unit("TFT15_Vi"))
		}},
		{"xor", func(q *Query) *Query {
			return q.Unit("TFT15_Jinx").Xor(New(Options{}).TraitActive("Sniper"))
		}},
		{"sub-cluster sentinel", func(q *Query) *Query { return q.SubCluster(model.Unclustered) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := tc.build(New(Options{Store: s, Strategy: Database}))
			mem := tc.build(New(Options{Store: s, Strategy: Memory}))

			dbAgg, err := db.Stats(ctx)
			if err != nil {
				t.Fatalf("database Stats: %v", err)
			}
			memAgg, err := mem.Stats(ctx)
			if err != nil {
				t.Fatalf("memory Stats: %v", err)
			}
			if *dbAgg != *memAgg {
				t.Fatalf("strategies disagree:\n  database %+v\n  memory   %+v\n  sql: %s",
					dbAgg, memAgg, db.Describe())
			}

			dbRows, err := db.Records(ctx)
			if err != nil {
				t.Fatalf("database Records: %v", err)
			}
			memRows, err := mem.Records(ctx)
			if err != nil {
				t.Fatalf("memory Records: %v", err)
			}
			if len(dbRows) != len(memRows) {
				t.Fatalf("record counts disagree: database %d, memory %d", len(dbRows), len(memRows))
			}
			for i := range dbRows {
				if dbRows[i].Participant.ID != memRows[i].Participant.ID {
					t.Fatalf("record order disagrees at %d: %d vs %d",
						i, dbRows[i].Participant.ID, memRows[i].Participant.ID)
				}
			}
		})
	}
}

func TestStats_EmptyResultIsAllZeros(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)

	for _, strategy := range []Strategy{Database, Memory} {
		q := New(Options{Store: s, Strategy: strategy}).Unit("TFT15_DoesNotExist")
		agg, err := q.Stats(context.Background())
		if err != nil {
			t.Fatalf("%s Stats: %v", strategy, err)
		}
		if agg.PlayCount != 0 || agg.AvgPlacement != 0 || agg.WinRate != 0 || agg.Top4Rate != 0 {
			t.Fatalf("%s: empty result not zeroed: %+v", strategy, agg)
		}
	}
}

func TestPatch_CaseVariantVersionExcluded(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)

	for _, strategy := range []Strategy{Database, Memory} {
		q := New(Options{Store: s, Strategy: strategy}).Patch("15.2")
		agg, err := q.Stats(context.Background())
		if err != nil {
			t.Fatalf("%s Stats: %v", strategy, err)
		}
		if agg.PlayCount != 8 {
			t.Fatalf("%s: play count %d, want 8 (the mangled version string must not count)",
				strategy, agg.PlayCount)
		}
	}
}

func TestQuery_StickyConstructionError(t *testing.T) {
	s := newTestStore(t)

	q := New(Options{Store: s}).
		Unit("TFT15_Jinx").
		Level(0, 99). // invalid
		Patch("15.2") // still chains without panicking

	if q.Err() == nil {
		t.Fatal("expected a construction error")
	}
	if !errors.Is(q.Err(), filter.ErrInvalidRange) {
		t.Fatalf("got %v, want ErrInvalidRange", q.Err())
	}
	if _, err := q.Stats(context.Background()); !errors.Is(err, filter.ErrInvalidRange) {
		t.Fatalf("execution should surface the construction error, got %v", err)
	}
}

func TestQuery_OperandErrorPropagates(t *testing.T) {
	s := newTestStore(t)
	bad := New(Options{}).Level(0, 99)
	q := New(Options{Store: s}).Unit("TFT15_Jinx").Or(bad)
	if !errors.Is(q.Err(), filter.ErrInvalidRange) {
		t.Fatalf("operand error not propagated: %v", q.Err())
	}
}

func TestRaw_OnlyOnDatabase(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)
	ctx := context.Background()

	db := New(Options{Store: s, Strategy: Database}).Raw("p.placement <= ?", 4)
	agg, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("database raw query: %v", err)
	}
	if agg.PlayCount != 12 {
		t.Fatalf("raw predicate matched %d rows, want 12", agg.PlayCount)
	}

	mem := New(Options{Store: s, Strategy: Memory}).Raw("p.placement <= ?", 4)
	if _, err := mem.Stats(ctx); !errors.Is(err, filter.ErrRawFilterInMemory) {
		t.Fatalf("memory raw query should fail hard, got %v", err)
	}
}

func TestAuto_PrefersDatabaseFallsBackToDataset(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)
	ctx := context.Background()

	// With a live store, auto behaves like database.
	q := New(Options{Store: s}).Unit("TFT15_Jinx")
	agg, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("auto Stats: %v", err)
	}
	if agg.PlayCount != 4 {
		t.Fatalf("play count %d, want 4", agg.PlayCount)
	}

	// With only a dataset, auto evaluates in memory.
	rows, err := s.Rows(ctx, "carry", store.RowFilter{})
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	q = New(Options{Dataset: rows}).Unit("TFT15_Jinx")
	agg, err = q.Stats(ctx)
	if err != nil {
		t.Fatalf("dataset Stats: %v", err)
	}
	if agg.PlayCount != 4 {
		t.Fatalf("dataset play count %d, want 4", agg.PlayCount)
	}

	// No backend at all is a hard error.
	q = New(Options{}).Unit("TFT15_Jinx")
	if _, err := q.Stats(ctx); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected ErrNoBackend, got %v", err)
	}
}

func TestAuto_UnreachableStoreNeedsDataset(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)
	ctx := context.Background()

	rows, err := s.Rows(ctx, "carry", store.RowFilter{})
	if err != nil {
		t.Fatalf("Rows: %v", err)
	}
	s.Close()

	// With a snapshot in hand, auto degrades to memory evaluation.
	q := New(Options{Store: s, Dataset: rows}).Unit("TFT15_Jinx")
	agg, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("fallback Stats: %v", err)
	}
	if agg.PlayCount != 4 {
		t.Fatalf("play count %d, want 4", agg.PlayCount)
	}

	// Without one there is nothing to fall back to.
	q = New(Options{Store: s}).Unit("TFT15_Jinx")
	if _, err := q.Stats(ctx); err == nil {
		t.Fatal("expected an error for an unreachable store with no dataset")
	}
}

func TestRecords_HonorsRawLimit(t *testing.T) {
	s := newTestStore(t)
	seedFixture(t, s)

	for _, strategy := range []Strategy{Database, Memory} {
		q := New(Options{Store: s, Strategy: strategy, RawLimit: 5})
		rows, err := q.Records(context.Background())
		if err != nil {
			t.Fatalf("%s Records: %v", strategy, err)
		}
		if len(rows) != 5 {
			t.Fatalf("%s: got %d rows, want 5", strategy, len(rows))
		}
	}
}
