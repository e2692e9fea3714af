package filter

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation failures surfaced at predicate construction time, never
// deferred to execution.
var (
	ErrInvalidRange    = errors.New("invalid range")
	ErrMissingArgument = errors.New("missing argument")
)

// Bounds of the scalar fields the range predicates cover.
const (
	MinStarLevel = 1
	MaxStarLevel = 3
	MinItemCount = 0
	MaxItemCount = 3
	MinPlayerLvl = 1
	MaxPlayerLvl = 10
	MaxTraitTier = 4
)

// Game version strings look like "Version 15.2.684.2108 ...".
const patchVersionPrefix = "Version "

// leaf is one atomic predicate: a SQL fragment with its bound values and an
// equivalent in-memory matcher. eval is nil for raw SQL leaves.
type leaf struct {
	desc string
	sql  string
	args []any
	eval func(row *Row) bool
}

func (l *leaf) AppendSQL(sb *strings.Builder, args *[]any) {
	sb.WriteString(l.sql)
	*args = append(*args, l.args...)
}

func (l *leaf) Match(row *Row) (bool, error) {
	if l.eval == nil {
		return false, fmt.Errorf("%s: %w", l.desc, ErrRawFilterInMemory)
	}
	return l.eval(row), nil
}

func checkRange(desc string, min, max, lo, hi int) error {
	if min > max {
		return fmt.Errorf("%s [%d,%d]: min exceeds max: %w", desc, min, max, ErrInvalidRange)
	}
	if min < lo || max > hi {
		return fmt.Errorf("%s [%d,%d]: outside valid range [%d,%d]: %w", desc, min, max, lo, hi, ErrInvalidRange)
	}
	return nil
}

func checkID(desc, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s: %w", desc, ErrMissingArgument)
	}
	return nil
}

// Unit matches compositions fielding at least one unit with the given
// character id when present is true, or none when present is false.
func Unit(characterID string, present bool) (Expr, error) {
	if err := checkID("unit filter character id", characterID); err != nil {
		return nil, err
	}
	sql := `EXISTS (SELECT 1 FROM json_each(p.units) AS u WHERE json_extract(u.value, '$.character_id') = ?)`
	if !present {
		sql = "NOT " + sql
	}
	return &leaf{
		desc: fmt.Sprintf("unit %q presence", characterID),
		sql:  sql,
		args: []any{characterID},
		eval: func(row *Row) bool {
			for _, u := range row.Participant.Units {
				if u.CharacterID == characterID {
					return present
				}
			}
			return !present
		},
	}, nil
}

// UnitCount matches compositions fielding exactly count copies of the unit.
// A count of zero is valid and means "none fielded".
func UnitCount(characterID string, count int) (Expr, error) {
	if err := checkID("unit count character id", characterID); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("unit count %d: negative: %w", count, ErrInvalidRange)
	}
	return &leaf{
		desc: fmt.Sprintf("unit %q count", characterID),
		sql:  `(SELECT COUNT(*) FROM json_each(p.units) AS u WHERE json_extract(u.value, '$.character_id') = ?) = ?`,
		args: []any{characterID, count},
		eval: func(row *Row) bool {
			n := 0
			for _, u := range row.Participant.Units {
				if u.CharacterID == characterID {
					n++
				}
			}
			return n == count
		},
	}, nil
}

// UnitStarLevel matches compositions where some copy of the unit has a star
// level in the inclusive [min,max] range. An absent unit never matches.
func UnitStarLevel(characterID string, min, max int) (Expr, error) {
	if err := checkID("unit star character id", characterID); err != nil {
		return nil, err
	}
	if err := checkRange("unit star range", min, max, MinStarLevel, MaxStarLevel); err != nil {
		return nil, err
	}
	return &leaf{
		desc: fmt.Sprintf("unit %q star level", characterID),
		sql: `EXISTS (SELECT 1 FROM json_each(p.units) AS u ` +
			`WHERE json_extract(u.value, '$.character_id') = ? ` +
			`AND json_extract(u.value, '$.tier') BETWEEN ? AND ?)`,
		args: []any{characterID, min, max},
		eval: func(row *Row) bool {
			for _, u := range row.Participant.Units {
				if u.CharacterID == characterID && u.Tier >= min && u.Tier <= max {
					return true
				}
			}
			return false
		},
	}, nil
}

// UnitItemCount matches compositions where some copy of the unit carries an
// item-list length in the inclusive [min,max] range. An absent unit never
// matches.
func UnitItemCount(characterID string, min, max int) (Expr, error) {
	if err := checkID("unit item count character id", characterID); err != nil {
		return nil, err
	}
	if err := checkRange("unit item count range", min, max, MinItemCount, MaxItemCount); err != nil {
		return nil, err
	}
	return &leaf{
		desc: fmt.Sprintf("unit %q item count", characterID),
		sql: `EXISTS (SELECT 1 FROM json_each(p.units) AS u ` +
			`WHERE json_extract(u.value, '$.character_id') = ? ` +
			`AND COALESCE(json_array_length(u.value, '$.itemNames'), 0) BETWEEN ? AND ?)`,
		args: []any{characterID, min, max},
		eval: func(row *Row) bool {
			for _, u := range row.Participant.Units {
				if u.CharacterID == characterID && len(u.ItemNames) >= min && len(u.ItemNames) <= max {
					return true
				}
			}
			return false
		},
	}, nil
}

// ItemOnUnit matches compositions where some copy of the unit holds the
// given item.
func ItemOnUnit(characterID, itemName string) (Expr, error) {
	if err := checkID("item-on-unit character id", characterID); err != nil {
		return nil, err
	}
	if err := checkID("item-on-unit item name", itemName); err != nil {
		return nil, err
	}
	return &leaf{
		desc: fmt.Sprintf("item %q on unit %q", itemName, characterID),
		sql: `EXISTS (SELECT 1 FROM json_each(p.units) AS u ` +
			`WHERE json_extract(u.value, '$.character_id') = ? ` +
			`AND EXISTS (SELECT 1 FROM json_each(u.value, '$.itemNames') AS it WHERE it.value = ?))`,
		args: []any{characterID, itemName},
		eval: func(row *Row) bool {
			for _, u := range row.Participant.Units {
				if u.CharacterID != characterID {
					continue
				}
				for _, it := range u.ItemNames {
					if it == itemName {
						return true
					}
				}
			}
			return false
		},
	}, nil
}

// Trait matches compositions where the named trait's current activation
// tier is in the inclusive [min,max] range. Tier 0 means inactive, so a min
// of 0 deliberately also matches compositions without the trait activated.
func Trait(name string, min, max int) (Expr, error) {
	if err := checkID("trait name", name); err != nil {
		return nil, err
	}
	if err := checkRange("trait tier range", min, max, 0, MaxTraitTier); err != nil {
		return nil, err
	}
	return &leaf{
		desc: fmt.Sprintf("trait %q tier", name),
		sql: `EXISTS (SELECT 1 FROM json_each(p.traits) AS t ` +
			`WHERE json_extract(t.value, '$.name') = ? ` +
			`AND json_extract(t.value, '$.tier_current') BETWEEN ? AND ?)`,
		args: []any{name, min, max},
		eval: func(row *Row) bool {
			for _, t := range row.Participant.Traits {
				if t.Name == name && t.TierCurrent >= min && t.TierCurrent <= max {
					return true
				}
			}
			return false
		},
	}, nil
}

// PlayerLevel matches compositions whose player level is in [min,max].
func PlayerLevel(min, max int) (Expr, error) {
	if err := checkRange("player level range", min, max, MinPlayerLvl, MaxPlayerLvl); err != nil {
		return nil, err
	}
	return &leaf{
		desc: "player level",
		sql:  `p.level BETWEEN ? AND ?`,
		args: []any{min, max},
		eval: func(row *Row) bool {
			return row.Participant.Level >= min && row.Participant.Level <= max
		},
	}, nil
}

// LastRound matches compositions eliminated (or finishing) in a round
// within [min,max].
func LastRound(min, max int) (Expr, error) {
	if min < 1 || min > max {
		return nil, fmt.Errorf("last round range [%d,%d]: %w", min, max, ErrInvalidRange)
	}
	return &leaf{
		desc: "last round",
		sql:  `p.last_round BETWEEN ? AND ?`,
		args: []any{min, max},
		eval: func(row *Row) bool {
			return row.Participant.LastRound >= min && row.Participant.LastRound <= max
		},
	}, nil
}

// Augment matches compositions that took the given augment.
func Augment(augmentID string) (Expr, error) {
	if err := checkID("augment id", augmentID); err != nil {
		return nil, err
	}
	return &leaf{
		desc: fmt.Sprintf("augment %q", augmentID),
		sql:  `EXISTS (SELECT 1 FROM json_each(p.augments) AS a WHERE a.value = ?)`,
		args: []any{augmentID},
		eval: func(row *Row) bool {
			for _, a := range row.Participant.Augments {
				if a == augmentID {
					return true
				}
			}
			return false
		},
	}, nil
}

// Patch matches compositions from matches whose game version starts with
// "Version <patch>". The prefix (not substring) semantics mirror the
// upstream version strings, where "15.1" must not match "15.10". The
// comparison is case-sensitive under both strategies.
func Patch(patch string) (Expr, error) {
	if err := checkID("patch version", patch); err != nil {
		return nil, err
	}
	prefix := patchVersionPrefix + patch
	return &leaf{
		desc: fmt.Sprintf("patch %q", patch),
		sql:  `substr(m.game_version, 1, ?) = ?`,
		args: []any{utf8.RuneCountInString(prefix), prefix},
		eval: func(row *Row) bool {
			return strings.HasPrefix(row.Match.GameVersion, prefix)
		},
	}, nil
}

// SubCluster matches compositions whose persisted assignment has the given
// sub-cluster id. Pass model.Unclustered to select unclustered ones.
func SubCluster(id int) (Expr, error) {
	return &leaf{
		desc: fmt.Sprintf("sub-cluster %d", id),
		sql:  `COALESCE(c.sub_cluster_id, -1) = ?`,
		args: []any{id},
		eval: func(row *Row) bool { return row.SubClusterID == id },
	}, nil
}

// MainCluster matches compositions whose persisted assignment has the given
// main-cluster id.
func MainCluster(id int) (Expr, error) {
	return &leaf{
		desc: fmt.Sprintf("main-cluster %d", id),
		sql:  `COALESCE(c.main_cluster_id, -1) = ?`,
		args: []any{id},
		eval: func(row *Row) bool { return row.MainClusterID == id },
	}, nil
}

// Raw wraps a backend-native boolean condition with its bound values. The
// condition text must use ? placeholders; its values are spliced into the
// compiled parameter list at the leaf's traversal position. Raw leaves are
// only executable by the database strategy.
func Raw(condition string, args ...any) (Expr, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, fmt.Errorf("raw condition: %w", ErrMissingArgument)
	}
	return &leaf{
		desc: "raw SQL condition",
		sql:  "(" + condition + ")",
		args: args,
		eval: nil,
	}, nil
}
