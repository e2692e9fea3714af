package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hurttlocker/comps/internal/cluster"
	"github.com/hurttlocker/comps/internal/query"
	"github.com/hurttlocker/comps/internal/store"
)

const queryUsage = `usage: comps query [conditions] [--raw] [--limit N] [--strategy auto|database|memory]

Conditions (ANDed together):
  --unit <id>            Unit on the board (repeatable)
  --without-unit <id>    Unit absent (repeatable)
  --star <id>:<min>-<max>      Unit at a star level in range
  --item <id>:<item>           Item equipped on unit
  --trait <name>[:<min>-<max>] Trait active (default tiers 1-4)
  --augment <id>         Augment taken (repeatable)
  --patch <patch>        Game patch prefix, e.g. 15.2
  --level <min>-<max>    Player level range
  --last-round <min>-<max>  Elimination round range
  --sub-cluster <id>     Sub-cluster membership (-1 = unclustered)
  --main-cluster <id>    Main-cluster membership

Output:
  --raw                  Print matching records instead of aggregate stats
  --limit <n>            Record cap for --raw (default 1000)
  --json                 Aggregate output as JSON
`

func runQuery(args []string) error {
	var (
		dbPath   string
		strategy = query.Auto
		rawMode  bool
		jsonOut  bool
		limit    int
	)
	type cond func(q *query.Query) *query.Query
	var conds []cond

	for i := 0; i < len(args); i++ {
		arg := args[i]
		next := func() (string, error) {
			v, err := flagValue(args, i, arg)
			i++
			return v, err
		}
		switch arg {
		case "--help", "-h":
			fmt.Print(queryUsage)
			return nil
		case "--db":
			v, err := next()
			if err != nil {
				return err
			}
			dbPath = v
		case "--strategy":
			v, err := next()
			if err != nil {
				return err
			}
			switch query.Strategy(v) {
			case query.Auto, query.Database, query.Memory:
				strategy = query.Strategy(v)
			default:
				return fmt.Errorf("invalid strategy %q (auto, database, memory)", v)
			}
		case "--raw":
			rawMode = true
		case "--json":
			jsonOut = true
		case "--limit":
			v, err := next()
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", v)
			}
			limit = n
		case "--unit":
			v, err := next()
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.Unit(v) })
		case "--without-unit":
			v, err := next()
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.WithoutUnit(v) })
		case "--star":
			v, err := next()
			if err != nil {
				return err
			}
			id, lo, hi, err := parseIDRange(v, "--star")
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.UnitStar(id, lo, hi) })
		case "--item":
			v, err := next()
			if err != nil {
				return err
			}
			id, item, ok := strings.Cut(v, ":")
			if !ok {
				return fmt.Errorf("--item wants <unit>:<item>, got %q", v)
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.ItemOnUnit(id, item) })
		case "--trait":
			v, err := next()
			if err != nil {
				return err
			}
			name, rng, ok := strings.Cut(v, ":")
			lo, hi := 1, 4
			if ok {
				lo, hi, err = parseRange(rng, "--trait")
				if err != nil {
					return err
				}
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.Trait(name, lo, hi) })
		case "--augment":
			v, err := next()
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.Augment(v) })
		case "--patch":
			v, err := next()
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.Patch(v) })
		case "--level":
			v, err := next()
			if err != nil {
				return err
			}
			lo, hi, err := parseRange(v, "--level")
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.Level(lo, hi) })
		case "--last-round":
			v, err := next()
			if err != nil {
				return err
			}
			lo, hi, err := parseRange(v, "--last-round")
			if err != nil {
				return err
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.LastRound(lo, hi) })
		case "--sub-cluster":
			v, err := next()
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid sub-cluster id %q", v)
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.SubCluster(id) })
		case "--main-cluster":
			v, err := next()
			if err != nil {
				return err
			}
			id, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid main-cluster id %q", v)
			}
			conds = append(conds, func(q *query.Query) *query.Query { return q.MainCluster(id) })
		default:
			return fmt.Errorf("unknown flag: %s\n\n%s", arg, queryUsage)
		}
	}

	s, cfg, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	if cfg.Strategy.Value != "" && strategy == query.Auto {
		strategy = query.Strategy(cfg.Strategy.Value)
	}
	if limit == 0 {
		limit = cfg.RawLimit.Int(store.DefaultRawLimit)
	}

	q := query.New(query.Options{
		Store:     s,
		Strategy:  strategy,
		Algorithm: cfg.Algorithm.Or(cluster.DefaultAlgorithm),
		RawLimit:  limit,
	})
	for _, c := range conds {
		q = c(q)
	}
	if err := q.Err(); err != nil {
		return err
	}

	ctx := context.Background()
	if rawMode {
		rows, err := q.Records(ctx)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	agg, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		data, err := json.MarshalIndent(agg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Printf("Compositions:  %d\n", agg.PlayCount)
	fmt.Printf("Avg placement: %.2f\n", agg.AvgPlacement)
	fmt.Printf("Winrate:       %.1f%%\n", agg.WinRate*100)
	fmt.Printf("Top-4 rate:    %.1f%%\n", agg.Top4Rate*100)
	return nil
}

// parseRange parses "min-max" into two ints.
func parseRange(s, flag string) (int, int, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, fmt.Errorf("%s wants <min>-<max>, got %q", flag, s)
	}
	min, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: invalid min %q", flag, lo)
	}
	max, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("%s: invalid max %q", flag, hi)
	}
	return min, max, nil
}

// parseIDRange parses "id:min-max".
func parseIDRange(s, flag string) (string, int, int, error) {
	id, rng, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, 0, fmt.Errorf("%s wants <id>:<min>-<max>, got %q", flag, s)
	}
	lo, hi, err := parseRange(rng, flag)
	if err != nil {
		return "", 0, 0, err
	}
	return id, lo, hi, nil
}
