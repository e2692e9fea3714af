// Package ingest loads raw match payloads into the store.
//
// The input format is JSONL: one full Riot-style match object per line,
// with the metadata/info envelope the match API returns. Records are
// normalized into model types; data-quality problems (bad placements,
// short lobbies) are reported as warnings and the match is imported
// anyway.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hurttlocker/comps/internal/model"
	"github.com/hurttlocker/comps/internal/store"
)

// Scanner buffer cap; match payloads routinely exceed bufio's default 64K.
const maxLineBytes = 4 << 20

// Report summarizes one import.
type Report struct {
	Lines        int      `json:"lines"`
	Imported     int      `json:"imported"`
	Skipped      int      `json:"skipped"` // already present
	Participants int      `json:"participants"`
	Warnings     []string `json:"warnings,omitempty"`
}

// rawMatch mirrors the wire envelope of a match payload.
type rawMatch struct {
	Metadata struct {
		MatchID string `json:"match_id"`
	} `json:"metadata"`
	Info struct {
		GameDatetime int64  `json:"game_datetime"` // ms since epoch
		GameVersion  string `json:"game_version"`
		QueueType    string `json:"tft_game_type"`
		Participants []struct {
			PUUID      string             `json:"puuid"`
			RiotIDName string             `json:"riotIdGameName"`
			RiotIDTag  string             `json:"riotIdTagline"`
			Placement  int                `json:"placement"`
			Level      int                `json:"level"`
			LastRound  int                `json:"last_round"`
			Units      []model.UnitEntry  `json:"units"`
			Traits     []model.TraitEntry `json:"traits"`
			Augments   []string           `json:"augments"`
		} `json:"participants"`
	} `json:"info"`
}

// Importer writes normalized match records to a store.
type Importer struct {
	store store.Store
}

// New returns an Importer backed by the store.
func New(st store.Store) *Importer {
	return &Importer{store: st}
}

// ImportFile imports every match in a JSONL file.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return im.Import(ctx, f)
}

// Import reads JSONL match payloads from r and stores them. Malformed lines
// and data-quality findings become warnings; only storage failures abort
// the import.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Report, error) {
	rep := &Report{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		rep.Lines++

		var raw rawMatch
		if err := json.Unmarshal(line, &raw); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("line %d: malformed JSON: %v", rep.Lines, err))
			continue
		}
		if raw.Metadata.MatchID == "" {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("line %d: missing match id", rep.Lines))
			continue
		}

		m, participants := normalize(&raw)
		if err := model.CheckPlacements(participants); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("match %s: %v", m.MatchID, err))
		}

		ids, err := im.store.AddMatch(ctx, m, participants)
		if err != nil {
			return rep, fmt.Errorf("storing match %s: %w", m.MatchID, err)
		}
		if ids == nil {
			rep.Skipped++
			continue
		}
		rep.Imported++
		rep.Participants += len(ids)
	}
	if err := sc.Err(); err != nil {
		return rep, fmt.Errorf("reading input: %w", err)
	}
	return rep, nil
}

func normalize(raw *rawMatch) (*model.Match, []model.Participant) {
	m := &model.Match{
		MatchID:      raw.Metadata.MatchID,
		GameDatetime: time.UnixMilli(raw.Info.GameDatetime).UTC(),
		GameVersion:  raw.Info.GameVersion,
		QueueType:    raw.Info.QueueType,
	}
	participants := make([]model.Participant, 0, len(raw.Info.Participants))
	for _, rp := range raw.Info.Participants {
		p := model.Participant{
			MatchID:   m.MatchID,
			PUUID:     rp.PUUID,
			Placement: rp.Placement,
			Level:     rp.Level,
			LastRound: rp.LastRound,
			Units:     rp.Units,
			Traits:    rp.Traits,
			Augments:  rp.Augments,
		}
		if rp.RiotIDName != "" {
			p.RiotID = rp.RiotIDName
			if rp.RiotIDTag != "" {
				p.RiotID += "#" + rp.RiotIDTag
			}
		}
		if p.Units == nil {
			p.Units = []model.UnitEntry{}
		}
		if p.Traits == nil {
			p.Traits = []model.TraitEntry{}
		}
		if p.Augments == nil {
			p.Augments = []string{}
		}
		participants = append(participants, p)
	}
	return m, participants
}
