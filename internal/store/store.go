// Package store provides the SQLite storage layer for comps.
//
// All match data lives in a single SQLite database file:
// - Match metadata (version, queue, timestamp)
// - Normalized participant records with units/traits/augments as JSON1
//   columns, queryable with json_each/json_extract
// - Cluster assignments produced by clustering runs
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.comps/comps.db"

// DefaultBatchSize is the default batch size for bulk inserts.
const DefaultBatchSize = 500

// RowFilter narrows bulk row loads for clustering runs and snapshots.
// Zero values mean "no constraint".
type RowFilter struct {
	Patch     string    // game-version prefix, e.g. "15.2"
	QueueType string    // exact queue match
	From      time.Time // inclusive lower bound on game_datetime
	To        time.Time // inclusive upper bound on game_datetime
	Limit     int
}

// Aggregate is the stats form of a compiled query. Rates are fractions in
// [0,1]; an empty result set reports all zeros.
type Aggregate struct {
	PlayCount    int64   `json:"play_count"`
	AvgPlacement float64 `json:"avg_placement"`
	WinRate      float64 `json:"winrate"`
	Top4Rate     float64 `json:"top4_rate"`
}

// ClusterKind selects the clustering level for per-cluster statistics.
type ClusterKind string

const (
	SubClusters  ClusterKind = "sub"
	MainClusters ClusterKind = "main"
)

// ClusterStats summarizes one cluster across its member compositions.
type ClusterStats struct {
	ClusterID    int      `json:"cluster_id"`
	Kind         string   `json:"cluster_type"`
	PlayCount    int64    `json:"play_count"`
	AvgPlacement float64  `json:"avg_placement"`
	WinRate      float64  `json:"winrate"`
	Top4Rate     float64  `json:"top4_rate"`
	Frequency    float64  `json:"frequency"` // share of all clustered compositions
	Carries      []string `json:"carries"`
}

// StoreStats holds observability counts about the store.
type StoreStats struct {
	MatchCount       int64 `json:"matches"`
	ParticipantCount int64 `json:"participants"`
	AssignmentCount  int64 `json:"cluster_assignments"`
	DBSizeBytes      int64 `json:"db_size_bytes"`
}

// Config holds configuration for Open.
type Config struct {
	DBPath    string
	BatchSize int
}

// Store is the storage contract the query executors, the clustering runner,
// and the ingest engine build on.
type Store interface {
	// Writes (ingest)
	AddMatch(ctx context.Context, m *model.Match, participants []model.Participant) ([]int64, error)

	// Reads (composition records)
	GetRow(ctx context.Context, participantID int64, algorithm string) (*filter.Row, error)
	RowsByMatch(ctx context.Context, matchID, algorithm string) ([]filter.Row, error)
	Rows(ctx context.Context, algorithm string, f RowFilter) ([]filter.Row, error)

	// Compiled-query execution
	SelectAggregate(ctx context.Context, algorithm, where string, args []any) (*Aggregate, error)
	SelectRows(ctx context.Context, algorithm, where string, args []any, limit int) ([]filter.Row, error)

	// Cluster assignments
	SaveAssignments(ctx context.Context, assignments []model.ClusterAssignment) error
	ClearAssignments(ctx context.Context, algorithm string) error
	AssignmentFor(ctx context.Context, participantID int64, algorithm string) (*model.ClusterAssignment, error)
	UnassignedRows(ctx context.Context, algorithm, params string, f RowFilter) ([]filter.Row, error)
	SubClusterByCarries(ctx context.Context, algorithm, params, carryKey string) (sub, main int, ok bool, err error)
	MaxClusterIDs(ctx context.Context, algorithm, params string) (maxSub, maxMain int, err error)
	ClusterStats(ctx context.Context, algorithm string, kind ClusterKind, minSize int) ([]ClusterStats, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)
	Ping(ctx context.Context) error

	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	db        *sql.DB
	dbPath    string
	batchSize int
}

// Open creates a SQLite-backed Store. Pass ":memory:" for in-memory
// databases (testing).
func Open(cfg Config) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:        db,
		dbPath:    cfg.DBPath,
		batchSize: cfg.BatchSize,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Ping verifies the backing database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Stats reports store-level counts.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{}
	counts := []struct {
		query string
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM matches`, &st.MatchCount},
		{`SELECT COUNT(*) FROM participants`, &st.ParticipantCount},
		{`SELECT COUNT(*) FROM cluster_assignments`, &st.AssignmentCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}
	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
