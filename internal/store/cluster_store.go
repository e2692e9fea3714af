package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
)

// SaveAssignments upserts cluster assignments in one transaction. An
// existing assignment for the same (participant, algorithm) is replaced,
// which is how a later run supersedes an earlier one.
func (s *SQLiteStore) SaveAssignments(ctx context.Context, assignments []model.ClusterAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save assignments: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO cluster_assignments
		   (participant_id, algorithm, params, run_id, sub_cluster_id, main_cluster_id, carry_units, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(participant_id, algorithm) DO UPDATE SET
		   params = excluded.params,
		   run_id = excluded.run_id,
		   sub_cluster_id = excluded.sub_cluster_id,
		   main_cluster_id = excluded.main_cluster_id,
		   carry_units = excluded.carry_units,
		   computed_at = CURRENT_TIMESTAMP`,
	)
	if err != nil {
		return fmt.Errorf("preparing assignment upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		carries, err := json.Marshal(a.CarryUnits)
		if err != nil {
			return fmt.Errorf("encoding carries for participant %d: %w", a.ParticipantID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ParticipantID, a.Algorithm, a.Params, a.RunID,
			a.SubClusterID, a.MainClusterID, string(carries),
		); err != nil {
			return fmt.Errorf("saving assignment for participant %d: %w", a.ParticipantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save assignments: %w", err)
	}
	return nil
}

// ClearAssignments removes every assignment for the algorithm, ahead of a
// full (or forced) reclustering run.
func (s *SQLiteStore) ClearAssignments(ctx context.Context, algorithm string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cluster_assignments WHERE algorithm = ?`, algorithm,
	); err != nil {
		return fmt.Errorf("clearing assignments for %q: %w", algorithm, err)
	}
	return nil
}

// AssignmentFor returns the composition's assignment under the algorithm,
// or nil when it has none.
func (s *SQLiteStore) AssignmentFor(ctx context.Context, participantID int64, algorithm string) (*model.ClusterAssignment, error) {
	a := model.ClusterAssignment{ParticipantID: participantID, Algorithm: algorithm}
	var carries string
	err := s.db.QueryRowContext(ctx,
		`SELECT params, run_id, sub_cluster_id, main_cluster_id, carry_units, computed_at
		 FROM cluster_assignments
		 WHERE participant_id = ? AND algorithm = ?`,
		participantID, algorithm,
	).Scan(&a.Params, &a.RunID, &a.SubClusterID, &a.MainClusterID, &carries, &a.ComputedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting assignment for participant %d: %w", participantID, err)
	}
	if err := json.Unmarshal([]byte(carries), &a.CarryUnits); err != nil {
		return nil, fmt.Errorf("decoding carries for participant %d: %w", participantID, err)
	}
	return &a, nil
}

// UnassignedRows returns composition rows lacking any assignment under the
// (algorithm, params) pair, for incremental runs.
func (s *SQLiteStore) UnassignedRows(ctx context.Context, algorithm, params string, f RowFilter) ([]filter.Row, error) {
	where, args := rowFilterSQL(f,
		`NOT EXISTS (SELECT 1 FROM cluster_assignments ca
		  WHERE ca.participant_id = p.id AND ca.algorithm = ? AND ca.params = ?)`,
	)
	args = append([]any{algorithm, params}, args...)
	return s.queryRows(ctx, algorithm, where, args, "ORDER BY p.id ASC", f.Limit)
}

// SubClusterByCarries looks up the sub-cluster (and its main cluster)
// already holding the exact carry set, identified by its canonical JSON
// key. ok is false when no clustered composition carries that set.
func (s *SQLiteStore) SubClusterByCarries(ctx context.Context, algorithm, params, carryKey string) (sub, main int, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT sub_cluster_id, main_cluster_id
		 FROM cluster_assignments
		 WHERE algorithm = ? AND params = ? AND carry_units = ? AND sub_cluster_id != -1
		 ORDER BY sub_cluster_id ASC
		 LIMIT 1`,
		algorithm, params, carryKey,
	).Scan(&sub, &main)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("looking up sub-cluster by carries: %w", err)
	}
	return sub, main, true, nil
}

// MaxClusterIDs returns the highest sub- and main-cluster ids in use under
// (algorithm, params). Both are -1 when nothing is clustered yet, so new
// ids can start at max+1.
func (s *SQLiteStore) MaxClusterIDs(ctx context.Context, algorithm, params string) (maxSub, maxMain int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sub_cluster_id), -1), COALESCE(MAX(main_cluster_id), -1)
		 FROM cluster_assignments
		 WHERE algorithm = ? AND params = ?`,
		algorithm, params,
	).Scan(&maxSub, &maxMain)
	if err != nil {
		return 0, 0, fmt.Errorf("reading max cluster ids: %w", err)
	}
	return maxSub, maxMain, nil
}

// ClusterStats aggregates per-cluster performance for every sub- or
// main-cluster with at least minSize member compositions, ordered by
// frequency. Unclustered compositions are excluded.
func (s *SQLiteStore) ClusterStats(ctx context.Context, algorithm string, kind ClusterKind, minSize int) ([]ClusterStats, error) {
	idColumn := "sub_cluster_id"
	if kind == MainClusters {
		idColumn = "main_cluster_id"
	}
	if minSize < 1 {
		minSize = 1
	}

	// idColumn is one of two literals chosen above, never caller input.
	query := fmt.Sprintf(`
		WITH clustered AS (
			SELECT ca.%[1]s AS cluster_id, p.placement, ca.carry_units
			FROM cluster_assignments ca
			JOIN participants p ON p.id = ca.participant_id
			WHERE ca.algorithm = ? AND ca.%[1]s != -1
		),
		totals AS (SELECT COUNT(*) AS total FROM clustered)
		SELECT c.cluster_id,
		       COUNT(*),
		       AVG(c.placement),
		       AVG(CASE WHEN c.placement = 1 THEN 1.0 ELSE 0.0 END),
		       AVG(CASE WHEN c.placement <= 4 THEN 1.0 ELSE 0.0 END),
		       CAST(COUNT(*) AS REAL) / t.total,
		       MIN(c.carry_units)
		FROM clustered c, totals t
		GROUP BY c.cluster_id
		HAVING COUNT(*) >= ?
		ORDER BY COUNT(*) DESC, AVG(c.placement) ASC, c.cluster_id ASC`,
		idColumn,
	)

	rows, err := s.db.QueryContext(ctx, query, algorithm, minSize)
	if err != nil {
		return nil, fmt.Errorf("querying %s cluster stats: %w", kind, err)
	}
	defer rows.Close()

	out := make([]ClusterStats, 0, 32)
	for rows.Next() {
		cs := ClusterStats{Kind: string(kind)}
		var carries string
		if err := rows.Scan(
			&cs.ClusterID, &cs.PlayCount, &cs.AvgPlacement,
			&cs.WinRate, &cs.Top4Rate, &cs.Frequency, &carries,
		); err != nil {
			return nil, fmt.Errorf("scanning cluster stats row: %w", err)
		}
		if err := json.Unmarshal([]byte(carries), &cs.Carries); err != nil {
			return nil, fmt.Errorf("decoding carries for cluster %d: %w", cs.ClusterID, err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cluster stats: %w", err)
	}
	return out, nil
}
