// Package mcp provides a Model Context Protocol server for comps.
//
// It exposes composition queries (stats and raw), cluster reports and
// clustering runs as MCP tools over stdio transport, so agent frontends
// can interrogate the match database directly.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/comps/internal/cluster"
	"github.com/hurttlocker/comps/internal/query"
	"github.com/hurttlocker/comps/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store     store.Store
	Algorithm string // cluster algorithm joined into query rows
	Version   string // version string for MCP server info
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines, and
// SQLite supports only one writer at a time; the mutex keeps cluster runs
// from interleaving with queries.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all comps tools.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = cluster.DefaultAlgorithm
	}

	s := server.NewMCPServer(
		"comps",
		ver,
		server.WithToolCapabilities(false),
	)

	registerQueryStatsTool(s, cfg)
	registerQueryRawTool(s, cfg)
	registerClustersTool(s, cfg)
	registerClusterRunTool(s, cfg)
	registerStatsTool(s, cfg)

	return s
}

// withQueryConditions declares the shared predicate parameters of the two
// query tools.
func withQueryConditions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("unit",
			mcp.Description("Require this unit on the board (character id, e.g. 'TFT15_Jinx')"),
		),
		mcp.WithString("without_unit",
			mcp.Description("Require this unit to be absent"),
		),
		mcp.WithNumber("star_min",
			mcp.Description("With 'unit': minimum star level (1-3)"),
		),
		mcp.WithNumber("star_max",
			mcp.Description("With 'unit': maximum star level (1-3)"),
		),
		mcp.WithString("item_on_unit",
			mcp.Description("With 'unit': require this item equipped on the unit"),
		),
		mcp.WithString("trait",
			mcp.Description("Require this trait active (trait name, e.g. 'Star Guardian')"),
		),
		mcp.WithNumber("trait_min",
			mcp.Description("With 'trait': minimum activation tier (default 1)"),
		),
		mcp.WithNumber("trait_max",
			mcp.Description("With 'trait': maximum activation tier (default 4)"),
		),
		mcp.WithString("augment",
			mcp.Description("Require this augment to have been taken"),
		),
		mcp.WithString("patch",
			mcp.Description("Restrict to a game patch, e.g. '15.2'"),
		),
		mcp.WithNumber("level_min",
			mcp.Description("Minimum player level (1-10)"),
		),
		mcp.WithNumber("level_max",
			mcp.Description("Maximum player level (1-10)"),
		),
		mcp.WithNumber("sub_cluster",
			mcp.Description("Restrict to one sub-cluster id (-1 = unclustered)"),
		),
		mcp.WithNumber("main_cluster",
			mcp.Description("Restrict to one main-cluster id (-1 = unattached)"),
		),
	}
}

// buildQuery assembles a query from the shared condition parameters.
func buildQuery(req mcp.CallToolRequest, cfg ServerConfig, rawLimit int) (*query.Query, error) {
	q := query.New(query.Options{
		Store:     cfg.Store,
		Strategy:  query.Database,
		Algorithm: cfg.Algorithm,
		RawLimit:  rawLimit,
	})

	unit := ""
	if v, err := req.RequireString("unit"); err == nil && v != "" {
		unit = v
		q = q.Unit(unit)
	}
	if v, err := req.RequireString("without_unit"); err == nil && v != "" {
		q = q.WithoutUnit(v)
	}
	if unit != "" {
		smin, sminErr := req.RequireFloat("star_min")
		smax, smaxErr := req.RequireFloat("star_max")
		if sminErr == nil || smaxErr == nil {
			lo, hi := 1, 3
			if sminErr == nil {
				lo = int(smin)
			}
			if smaxErr == nil {
				hi = int(smax)
			}
			q = q.UnitStar(unit, lo, hi)
		}
		if v, err := req.RequireString("item_on_unit"); err == nil && v != "" {
			q = q.ItemOnUnit(unit, v)
		}
	}
	if v, err := req.RequireString("trait"); err == nil && v != "" {
		lo, hi := 1, 4
		if t, err := req.RequireFloat("trait_min"); err == nil {
			lo = int(t)
		}
		if t, err := req.RequireFloat("trait_max"); err == nil {
			hi = int(t)
		}
		q = q.Trait(v, lo, hi)
	}
	if v, err := req.RequireString("augment"); err == nil && v != "" {
		q = q.Augment(v)
	}
	if v, err := req.RequireString("patch"); err == nil && v != "" {
		q = q.Patch(v)
	}
	lmin, lminErr := req.RequireFloat("level_min")
	lmax, lmaxErr := req.RequireFloat("level_max")
	if lminErr == nil || lmaxErr == nil {
		lo, hi := 1, 10
		if lminErr == nil {
			lo = int(lmin)
		}
		if lmaxErr == nil {
			hi = int(lmax)
		}
		q = q.Level(lo, hi)
	}
	if v, err := req.RequireFloat("sub_cluster"); err == nil {
		q = q.SubCluster(int(v))
	}
	if v, err := req.RequireFloat("main_cluster"); err == nil {
		q = q.MainCluster(int(v))
	}

	return q, q.Err()
}

func registerQueryStatsTool(s *server.MCPServer, cfg ServerConfig) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Compute aggregate stats (play count, avg placement, winrate, top-4 rate) over compositions matching the given conditions. All conditions are ANDed."),
		mcp.WithReadOnlyHintAnnotation(true),
	}, withQueryConditions()...)
	tool := mcp.NewTool("comps_query_stats", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		q, err := buildQuery(req, cfg, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid query: %v", err)), nil
		}
		agg, err := q.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(agg, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerQueryRawTool(s *server.MCPServer, cfg ServerConfig) {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Return full composition records matching the given conditions, ordered by placement. All conditions are ANDed."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of records (default: 100, max: 1000)"),
		),
	}, withQueryConditions()...)
	tool := mcp.NewTool("comps_query_raw", opts...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		limit := 100
		if v, err := req.RequireFloat("limit"); err == nil && int(v) > 0 {
			limit = int(v)
			if limit > store.DefaultRawLimit {
				limit = store.DefaultRawLimit
			}
		}

		q, err := buildQuery(req, cfg, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid query: %v", err)), nil
		}
		rows, err := q.Records(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(rows, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClustersTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("comps_clusters",
		mcp.WithDescription("Report per-cluster performance (play count, avg placement, winrate, top-4 rate, frequency, carries), largest clusters first."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("kind",
			mcp.Description("Cluster level: 'sub' (exact carry set) or 'main' (merged archetypes). Default: sub."),
			mcp.Enum("sub", "main"),
		),
		mcp.WithNumber("min_size",
			mcp.Description("Only report clusters with at least this many compositions (default: 1)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		kind := store.SubClusters
		if v, err := req.RequireString("kind"); err == nil && v == string(store.MainClusters) {
			kind = store.MainClusters
		}
		minSize := 1
		if v, err := req.RequireFloat("min_size"); err == nil && int(v) > 0 {
			minSize = int(v)
		}

		stats, err := cfg.Store.ClusterStats(ctx, cfg.Algorithm, kind, minSize)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cluster stats error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(stats, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClusterRunTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("comps_cluster_run",
		mcp.WithDescription("Run carry-based clustering over stored compositions. Incremental mode only clusters compositions not yet assigned; full mode rebuilds everything."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("mode",
			mcp.Description("Run mode: 'incremental' (default) or 'full'"),
			mcp.Enum("incremental", "full"),
		),
		mcp.WithNumber("carry_min_items",
			mcp.Description("Items a unit needs to count as a carry (default: 2)"),
		),
		mcp.WithNumber("min_sub_cluster_size",
			mcp.Description("Minimum compositions per sub-cluster (default: 5)"),
		),
		mcp.WithNumber("min_shared_carries",
			mcp.Description("Shared carries needed to merge sub-clusters (default: 2)"),
		),
		mcp.WithNumber("min_main_cluster_size",
			mcp.Description("Minimum sub-clusters per main cluster (default: 3)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		ccfg := cluster.DefaultConfig()
		if v, err := req.RequireFloat("carry_min_items"); err == nil && int(v) > 0 {
			ccfg.CarryMinItems = int(v)
		}
		if v, err := req.RequireFloat("min_sub_cluster_size"); err == nil && int(v) > 0 {
			ccfg.MinSubClusterSize = int(v)
		}
		if v, err := req.RequireFloat("min_shared_carries"); err == nil && int(v) > 0 {
			ccfg.MinSharedCarries = int(v)
		}
		if v, err := req.RequireFloat("min_main_cluster_size"); err == nil && int(v) > 0 {
			ccfg.MinMainClusterSize = int(v)
		}

		runner := cluster.NewRunner(cfg.Store)
		opts := cluster.Options{Algorithm: cfg.Algorithm, Config: ccfg}

		var summary *cluster.Summary
		var err error
		if mode, merr := req.RequireString("mode"); merr == nil && mode == "full" {
			summary, err = runner.RunFull(ctx, opts)
		} else {
			summary, err = runner.RunIncremental(ctx, opts)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("cluster run error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(summary, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, cfg ServerConfig) {
	tool := mcp.NewTool("comps_stats",
		mcp.WithDescription("Report database stats: match, composition and cluster assignment counts, database size."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		st, err := cfg.Store.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
		}
		data, _ := json.MarshalIndent(st, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
