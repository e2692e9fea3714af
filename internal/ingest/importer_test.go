package ingest

import (
	"context"
	"fmt"
	"strings"
	"testing"

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

// matchLine renders one JSONL match payload with eight participants.
func matchLine(matchID string, placements []int) string {
	var parts []string
	for i, pl := range placements {
		parts = append(parts, fmt.Sprintf(`{"puuid": "%s-p%d", "riotIdGameName": "Player%d", "riotIdTagline": "NA1", "placement": %d, "level": 8, "last_round": 30, "units": [{"character_id": "TFT15_Jinx", "tier": 2, "rarity": 4, "itemNames": ["InfinityEdge", "LastWhisper"]}], "traits": [{"name": "Sniper", "tier_current": 2, "num_units": 4, "style": 2}], "augments": ["TFT15_Augment_GlassCannon"]}`, matchID, i, i, pl))
	}
	return fmt.Sprintf(`{"metadata": {"match_id": "%s"}, "info": {"game_datetime": 1754042400000, "game_version": "Version 15.2.684.2108", "tft_game_type": "standard", "participants": [%s]}}`,
		matchID, strings.Join(parts, ","))
}

func TestImport_NormalizesAndStores(t *testing.T) {
	s := newTestStore(t)
	im := New(s)
	ctx := context.Background()

	input := matchLine("NA1_1", []int{1, 2, 3, 4, 5, 6, 7, 8})
	rep, err := im.Import(ctx, strings.NewReader(input+"\n"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 1 || rep.Participants != 8 {
		t.Fatalf("report %+v, want 1 match / 8 compositions", rep)
	}
	if len(rep.Warnings) != 0 {
		t.Fatalf("clean input produced warnings: %v", rep.Warnings)
	}

	rows, err := s.RowsByMatch(ctx, "NA1_1", "carry")
	if err != nil {
		t.Fatalf("RowsByMatch: %v", err)
	}
	if len(rows) != 8 {
		t.Fatalf("stored %d compositions, want 8", len(rows))
	}
	first := rows[0]
	if first.Participant.RiotID != "Player0#NA1" {
		t.Errorf("riot id %q, want Player0#NA1", first.Participant.RiotID)
	}
	if len(first.Participant.Units) != 1 || first.Participant.Units[0].CharacterID != "TFT15_Jinx" {
		t.Errorf("units not normalized: %+v", first.Participant.Units)
	}
	if len(first.Participant.Units[0].ItemNames) != 2 {
		t.Errorf("item names lost: %+v", first.Participant.Units[0])
	}
	if first.Match.QueueType != "standard" {
		t.Errorf("queue type %q", first.Match.QueueType)
	}
	if first.Match.GameDatetime.IsZero() {
		t.Error("game datetime not converted from epoch millis")
	}
}

func TestImport_DuplicateMatchSkipped(t *testing.T) {
	s := newTestStore(t)
	im := New(s)
	ctx := context.Background()

	line := matchLine("NA1_2", []int{1, 2, 3, 4, 5, 6, 7, 8})
	input := line + "\n" + line + "\n"
	rep, err := im.Import(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 1 || rep.Skipped != 1 {
		t.Fatalf("report %+v, want 1 imported / 1 skipped", rep)
	}
}

func TestImport_BadPlacementsWarnButImport(t *testing.T) {
	s := newTestStore(t)
	im := New(s)
	ctx := context.Background()

	// Two players share placement 1; the permutation check must flag it,
	// but the match still lands in the store.
	input := matchLine("NA1_3", []int{1, 1, 3, 4, 5, 6, 7, 8})
	rep, err := im.Import(ctx, strings.NewReader(input+"\n"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 1 {
		t.Fatalf("flagged match was not imported: %+v", rep)
	}
	if len(rep.Warnings) != 1 || !strings.Contains(rep.Warnings[0], "placement") {
		t.Fatalf("expected a placement warning, got %v", rep.Warnings)
	}
}

func TestImport_MalformedLinesAreWarnings(t *testing.T) {
	s := newTestStore(t)
	im := New(s)
	ctx := context.Background()

	input := "not json at all\n" +
		`{"metadata": {}, "info": {}}` + "\n" +
		matchLine("NA1_4", []int{1, 2, 3, 4, 5, 6, 7, 8}) + "\n"
	rep, err := im.Import(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 1 {
		t.Fatalf("valid line not imported: %+v", rep)
	}
	if len(rep.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", rep.Warnings)
	}
}
