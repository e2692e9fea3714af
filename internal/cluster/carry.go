// Package cluster groups stored compositions into hierarchical clusters
// keyed on their carry units. Two levels come out of a run: sub-clusters
// (exact carry-set match) and main clusters (sub-clusters sharing enough
// carries, merged transitively).
package cluster

import (
	"encoding/json"
	"sort"

	"github.com/hurttlocker/comps/internal/model"
)

// Defaults for the carry algorithm parameters.
const (
	DefaultCarryMinItems      = 2
	DefaultMinSubClusterSize  = 5
	DefaultMinSharedCarries   = 2
	DefaultMinMainClusterSize = 3
)

// DefaultAlgorithm names the carry-based algorithm in persisted
// assignments.
const DefaultAlgorithm = "carry"

// Config holds the tunable parameters of a clustering run. Its canonical
// JSON form doubles as the params fingerprint stored with each assignment,
// so runs under different parameters never mix.
type Config struct {
	CarryMinItems      int `json:"carry_min_items"`
	MinSubClusterSize  int `json:"min_sub_cluster_size"`
	MinSharedCarries   int `json:"min_shared_carries"`
	MinMainClusterSize int `json:"min_main_cluster_size"`
}

// DefaultConfig returns the default parameters.
func DefaultConfig() Config {
	return Config{
		CarryMinItems:      DefaultCarryMinItems,
		MinSubClusterSize:  DefaultMinSubClusterSize,
		MinSharedCarries:   DefaultMinSharedCarries,
		MinMainClusterSize: DefaultMinMainClusterSize,
	}
}

func (c Config) withDefaults() Config {
	if c.CarryMinItems <= 0 {
		c.CarryMinItems = DefaultCarryMinItems
	}
	if c.MinSubClusterSize <= 0 {
		c.MinSubClusterSize = DefaultMinSubClusterSize
	}
	if c.MinSharedCarries <= 0 {
		c.MinSharedCarries = DefaultMinSharedCarries
	}
	if c.MinMainClusterSize <= 0 {
		c.MinMainClusterSize = DefaultMinMainClusterSize
	}
	return c
}

// ParamsJSON is the canonical fingerprint of the configuration. Struct
// field order is fixed, so equal configs always produce equal strings.
func (c Config) ParamsJSON() string {
	b, _ := json.Marshal(c.withDefaults())
	return string(b)
}

// Carries extracts the composition's carry units: the sorted, de-duplicated
// character ids of units holding at least minItems completed items. Item
// count, not unit cost, is what marks a carry.
func Carries(p *model.Participant, minItems int) []string {
	if minItems <= 0 {
		minItems = DefaultCarryMinItems
	}
	seen := make(map[string]bool, 4)
	for _, u := range p.Units {
		if len(u.ItemNames) >= minItems {
			seen[u.CharacterID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CarryKey renders a carry set as its canonical JSON array, the exact form
// persisted in the carry_units column. Compositions with equal keys carry
// the same units.
func CarryKey(carries []string) string {
	if len(carries) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(carries)
	return string(b)
}
