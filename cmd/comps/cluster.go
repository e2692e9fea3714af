package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hurttlocker/comps/internal/cluster"
	"github.com/hurttlocker/comps/internal/store"
)

const clusterUsage = `usage: comps cluster [--full] [--patch <patch>] [--queue <type>] [flags]

Flags:
  --full                    Rebuild all assignments from scratch
  --patch <patch>           Only cluster matches from this patch (full runs)
  --queue <type>            Only cluster matches from this queue (full runs)
  --since <date>            Only cluster matches on or after this date (YYYY-MM-DD)
  --until <date>            Only cluster matches on or before this date (YYYY-MM-DD)
  --carry-min-items <n>     Items a unit needs to count as a carry (default 2)
  --min-sub-size <n>        Minimum compositions per sub-cluster (default 5)
  --min-shared <n>          Shared carries needed to merge sub-clusters (default 2)
  --min-main-size <n>       Minimum sub-clusters per main cluster (default 3)
`

func runCluster(args []string) error {
	var (
		dbPath string
		full   bool
		f      store.RowFilter
	)
	ccfg := cluster.DefaultConfig()

	intFlag := func(args []string, i int, flag string, dst *int) error {
		v, err := flagValue(args, i, flag)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s: invalid value %q", flag, v)
		}
		*dst = n
		return nil
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--help", "-h":
			fmt.Print(clusterUsage)
			return nil
		case "--db":
			v, err := flagValue(args, i, "--db")
			if err != nil {
				return err
			}
			dbPath = v
			i++
		case "--full":
			full = true
		case "--patch":
			v, err := flagValue(args, i, "--patch")
			if err != nil {
				return err
			}
			f.Patch = v
			i++
		case "--queue":
			v, err := flagValue(args, i, "--queue")
			if err != nil {
				return err
			}
			f.QueueType = v
			i++
		case "--since":
			v, err := flagValue(args, i, "--since")
			if err != nil {
				return err
			}
			ts, err := time.Parse("2006-01-02", v)
			if err != nil {
				return fmt.Errorf("--since: invalid date %q (want YYYY-MM-DD)", v)
			}
			f.From = ts
			i++
		case "--until":
			v, err := flagValue(args, i, "--until")
			if err != nil {
				return err
			}
			ts, err := time.Parse("2006-01-02", v)
			if err != nil {
				return fmt.Errorf("--until: invalid date %q (want YYYY-MM-DD)", v)
			}
			// Inclusive through the end of the named day.
			f.To = ts.Add(24*time.Hour - time.Nanosecond)
			i++
		case "--carry-min-items":
			if err := intFlag(args, i, "--carry-min-items", &ccfg.CarryMinItems); err != nil {
				return err
			}
			i++
		case "--min-sub-size":
			if err := intFlag(args, i, "--min-sub-size", &ccfg.MinSubClusterSize); err != nil {
				return err
			}
			i++
		case "--min-shared":
			if err := intFlag(args, i, "--min-shared", &ccfg.MinSharedCarries); err != nil {
				return err
			}
			i++
		case "--min-main-size":
			if err := intFlag(args, i, "--min-main-size", &ccfg.MinMainClusterSize); err != nil {
				return err
			}
			i++
		default:
			return fmt.Errorf("unknown flag: %s\n\n%s", args[i], clusterUsage)
		}
	}

	s, cfg, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	// Config-file cluster parameters fill in anything the flags left at
	// the default.
	if ccfg.CarryMinItems == cluster.DefaultCarryMinItems {
		ccfg.CarryMinItems = cfg.CarryMinItems.Int(ccfg.CarryMinItems)
	}
	if ccfg.MinSubClusterSize == cluster.DefaultMinSubClusterSize {
		ccfg.MinSubClusterSize = cfg.MinSubClusterSize.Int(ccfg.MinSubClusterSize)
	}
	if ccfg.MinSharedCarries == cluster.DefaultMinSharedCarries {
		ccfg.MinSharedCarries = cfg.MinSharedCarries.Int(ccfg.MinSharedCarries)
	}
	if ccfg.MinMainClusterSize == cluster.DefaultMinMainClusterSize {
		ccfg.MinMainClusterSize = cfg.MinMainClusterSize.Int(ccfg.MinMainClusterSize)
	}

	runner := cluster.NewRunner(s)
	opts := cluster.Options{
		Algorithm: cfg.Algorithm.Or(cluster.DefaultAlgorithm),
		Config:    ccfg,
		Filter:    f,
	}

	ctx := context.Background()
	var summary *cluster.Summary
	if full {
		fmt.Println("Running full clustering...")
		summary, err = runner.RunFull(ctx, opts)
	} else {
		fmt.Println("Running incremental clustering...")
		summary, err = runner.RunIncremental(ctx, opts)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Run %s (%s)\n", summary.RunID, summary.Algorithm)
	fmt.Printf("  Compositions: %d\n", summary.Compositions)
	if summary.Full {
		fmt.Printf("  Sub-clusters: %d\n", summary.SubClusters)
		fmt.Printf("  Main clusters: %d\n", summary.MainClusters)
	} else {
		fmt.Printf("  Joined existing sub-clusters: %d\n", summary.Inherited)
		fmt.Printf("  New sub-clusters: %d\n", summary.SubClusters)
	}
	fmt.Printf("  Unclustered: %d\n", summary.Unclustered)
	return nil
}

func runClusters(args []string) error {
	var (
		dbPath  string
		kind    = store.SubClusters
		minSize = 1
		top     = 20
		jsonOut bool
	)

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--db":
			v, err := flagValue(args, i, "--db")
			if err != nil {
				return err
			}
			dbPath = v
			i++
		case "--main":
			kind = store.MainClusters
		case "--min-size":
			v, err := flagValue(args, i, "--min-size")
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid min size %q", v)
			}
			minSize = n
			i++
		case "--top":
			v, err := flagValue(args, i, "--top")
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return fmt.Errorf("invalid top count %q", v)
			}
			top = n
			i++
		case "--json":
			jsonOut = true
		default:
			return fmt.Errorf("unknown flag: %s\nusage: comps clusters [--main] [--min-size N] [--top N] [--json]", args[i])
		}
	}

	s, cfg, err := resolveAndOpen(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.ClusterStats(context.Background(), cfg.Algorithm.Or(cluster.DefaultAlgorithm), kind, minSize)
	if err != nil {
		return err
	}
	if len(stats) > top {
		stats = stats[:top]
	}

	if jsonOut {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(stats) == 0 {
		fmt.Println("No clusters. Run 'comps cluster' first.")
		return nil
	}
	fmt.Printf("%-8s %-7s %-8s %-8s %-7s %-6s %s\n",
		"CLUSTER", "PLAYS", "AVG", "WIN%", "TOP4%", "FREQ%", "CARRIES")
	for _, cs := range stats {
		fmt.Printf("%-8d %-7d %-8.2f %-8.1f %-7.1f %-6.1f %s\n",
			cs.ClusterID, cs.PlayCount, cs.AvgPlacement,
			cs.WinRate*100, cs.Top4Rate*100, cs.Frequency*100,
			strings.Join(cs.Carries, ", "))
	}
	return nil
}
