// Package model defines the normalized match records the rest of the engine
// operates on.
//
// One Participant is one player's final composition in one match: the units
// they fielded (with items), the traits they activated, the augments they
// took, and where they placed. Records are produced by the ingest layer and
// read-only everywhere else.
package model

import (
	"fmt"
	"time"
)

// Unclustered is the sentinel cluster id for compositions that did not meet
// a clustering threshold. It is a valid terminal state, not an error.
const Unclustered = -1

// PlayersPerMatch is the fixed lobby size; placements in a match form a
// permutation of 1..PlayersPerMatch.
const PlayersPerMatch = 8

// Match holds per-match metadata shared by its eight participants.
type Match struct {
	MatchID      string    `json:"match_id"`
	GameDatetime time.Time `json:"game_datetime"`
	GameVersion  string    `json:"game_version"`
	QueueType    string    `json:"queue_type"`
}

// UnitEntry is one fielded unit inside a composition.
type UnitEntry struct {
	CharacterID string   `json:"character_id"`
	Tier        int      `json:"tier"` // star level, 1-3
	Rarity      int      `json:"rarity"`
	Chosen      bool     `json:"chosen,omitempty"`
	Items       []int    `json:"items,omitempty"`
	ItemNames   []string `json:"itemNames"`
	Traits      []string `json:"traits,omitempty"`
}

// TraitEntry is one trait row of a composition.
type TraitEntry struct {
	Name        string `json:"name"`
	TierCurrent int    `json:"tier_current"` // 0 = inactive
	NumUnits    int    `json:"num_units"`
	Style       int    `json:"style"`
}

// Participant is one composition record: exactly one exists per
// (match, player).
type Participant struct {
	ID        int64        `json:"participant_id"`
	MatchID   string       `json:"match_id"`
	PUUID     string       `json:"puuid"`
	RiotID    string       `json:"riot_id,omitempty"`
	Placement int          `json:"placement"` // 1-8
	Level     int          `json:"level"`     // 1-10
	LastRound int          `json:"last_round"`
	Units     []UnitEntry  `json:"units"`
	Traits    []TraitEntry `json:"traits"`
	Augments  []string     `json:"augments"`
}

// ClusterAssignment is the persisted outcome of one clustering run for one
// composition. A composition has at most one assignment per algorithm; a
// later full run supersedes it wholesale.
type ClusterAssignment struct {
	ParticipantID int64     `json:"participant_id"`
	Algorithm     string    `json:"algorithm"`
	Params        string    `json:"params"` // canonical JSON fingerprint
	RunID         string    `json:"run_id"`
	SubClusterID  int       `json:"sub_cluster_id"`
	MainClusterID int       `json:"main_cluster_id"`
	CarryUnits    []string  `json:"carry_units"`
	ComputedAt    time.Time `json:"computed_at"`
}

// CheckPlacements flags data-quality problems in one match's participant
// set: it returns a descriptive error when placements are not a permutation
// of 1..PlayersPerMatch. Callers report the condition; they do not correct
// the records.
func CheckPlacements(participants []Participant) error {
	if len(participants) != PlayersPerMatch {
		return fmt.Errorf("match has %d participants, want %d", len(participants), PlayersPerMatch)
	}
	seen := make(map[int]string, PlayersPerMatch)
	for _, p := range participants {
		if p.Placement < 1 || p.Placement > PlayersPerMatch {
			return fmt.Errorf("participant %s has placement %d outside 1-%d", p.PUUID, p.Placement, PlayersPerMatch)
		}
		if other, dup := seen[p.Placement]; dup {
			return fmt.Errorf("placement %d assigned to both %s and %s", p.Placement, other, p.PUUID)
		}
		seen[p.Placement] = p.PUUID
	}
	return nil
}
