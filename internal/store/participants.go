package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hurttlocker/comps/internal/filter"
	"github.com/hurttlocker/comps/internal/model"
)

// DefaultRawLimit caps the raw form of a compiled query.
const DefaultRawLimit = 1000

// rowSelect is the shared projection for composition rows. The cluster
// join is parameterized on the algorithm name, so its bound value always
// precedes any WHERE parameters.
const rowSelect = `
	SELECT p.id, p.match_id, p.puuid, p.riot_id, p.placement, p.level, p.last_round,
	       p.units, p.traits, p.augments,
	       m.game_datetime, m.game_version, m.queue_type,
	       COALESCE(c.sub_cluster_id, -1), COALESCE(c.main_cluster_id, -1)
	FROM participants p
	JOIN matches m ON m.match_id = p.match_id
	LEFT JOIN cluster_assignments c ON c.participant_id = p.id AND c.algorithm = ?`

// AddMatch inserts one match with its participant records in a single
// transaction and returns the participant row ids in input order. Matches
// already present are skipped wholesale.
func (s *SQLiteStore) AddMatch(ctx context.Context, m *model.Match, participants []model.Participant) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin add match: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO matches (match_id, game_datetime, game_version, queue_type)
		 VALUES (?, ?, ?, ?)`,
		m.MatchID, m.GameDatetime.UTC(), m.GameVersion, m.QueueType,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting match %s: %w", m.MatchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already imported; participants are covered by the same import.
		return nil, nil
	}

	ids := make([]int64, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		units, err := json.Marshal(p.Units)
		if err != nil {
			return nil, fmt.Errorf("encoding units for %s: %w", p.PUUID, err)
		}
		traits, err := json.Marshal(p.Traits)
		if err != nil {
			return nil, fmt.Errorf("encoding traits for %s: %w", p.PUUID, err)
		}
		augments, err := json.Marshal(p.Augments)
		if err != nil {
			return nil, fmt.Errorf("encoding augments for %s: %w", p.PUUID, err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO participants (match_id, puuid, riot_id, placement, level, last_round, units, traits, augments)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.MatchID, p.PUUID, p.RiotID, p.Placement, p.Level, p.LastRound,
			string(units), string(traits), string(augments),
		)
		if err != nil {
			return nil, fmt.Errorf("inserting participant %s/%s: %w", m.MatchID, p.PUUID, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("reading participant insert id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add match: %w", err)
	}
	return ids, nil
}

// GetRow returns one composition row by participant id, or nil when not
// found.
func (s *SQLiteStore) GetRow(ctx context.Context, participantID int64, algorithm string) (*filter.Row, error) {
	rows, err := s.queryRows(ctx, algorithm, "p.id = ?", []any{participantID}, "", 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RowsByMatch returns a match's composition rows ordered by placement.
func (s *SQLiteStore) RowsByMatch(ctx context.Context, matchID, algorithm string) ([]filter.Row, error) {
	return s.queryRows(ctx, algorithm, "p.match_id = ?", []any{matchID}, "ORDER BY p.placement ASC", 0)
}

// Rows bulk-loads composition rows for clustering runs and in-memory
// snapshots, honoring the RowFilter constraints.
func (s *SQLiteStore) Rows(ctx context.Context, algorithm string, f RowFilter) ([]filter.Row, error) {
	where, args := rowFilterSQL(f, "")
	return s.queryRows(ctx, algorithm, where, args, "ORDER BY p.id ASC", f.Limit)
}

// SelectAggregate executes the aggregate form of a compiled predicate.
// Empty result sets report all-zero metrics.
func (s *SQLiteStore) SelectAggregate(ctx context.Context, algorithm, where string, args []any) (*Aggregate, error) {
	if where == "" {
		where = "1=1"
	}
	query := `
		SELECT COUNT(*),
		       COALESCE(AVG(p.placement), 0),
		       COALESCE(AVG(CASE WHEN p.placement = 1 THEN 1.0 ELSE 0.0 END), 0),
		       COALESCE(AVG(CASE WHEN p.placement <= 4 THEN 1.0 ELSE 0.0 END), 0)
		FROM participants p
		JOIN matches m ON m.match_id = p.match_id
		LEFT JOIN cluster_assignments c ON c.participant_id = p.id AND c.algorithm = ?
		WHERE ` + where

	all := append([]any{algorithm}, args...)
	agg := &Aggregate{}
	if err := s.db.QueryRowContext(ctx, query, all...).Scan(
		&agg.PlayCount, &agg.AvgPlacement, &agg.WinRate, &agg.Top4Rate,
	); err != nil {
		return nil, fmt.Errorf("executing aggregate query: %w", err)
	}
	return agg, nil
}

// SelectRows executes the raw form of a compiled predicate, returning full
// composition rows ordered by placement, capped at limit (DefaultRawLimit
// when limit <= 0).
func (s *SQLiteStore) SelectRows(ctx context.Context, algorithm, where string, args []any, limit int) ([]filter.Row, error) {
	if limit <= 0 {
		limit = DefaultRawLimit
	}
	return s.queryRows(ctx, algorithm, where, args, "ORDER BY p.placement ASC, p.id ASC", limit)
}

func (s *SQLiteStore) queryRows(ctx context.Context, algorithm, where string, args []any, order string, limit int) ([]filter.Row, error) {
	if where == "" {
		where = "1=1"
	}
	query := rowSelect + "\n\tWHERE " + where
	if order != "" {
		query += "\n\t" + order
	}
	all := append([]any{algorithm}, args...)
	if limit > 0 {
		query += "\n\tLIMIT ?"
		all = append(all, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("querying composition rows: %w", err)
	}
	defer rows.Close()

	out := make([]filter.Row, 0, 64)
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating composition rows: %w", err)
	}
	return out, nil
}

func scanRow(rows *sql.Rows) (*filter.Row, error) {
	var (
		r                       filter.Row
		units, traits, augments string
	)
	if err := rows.Scan(
		&r.Participant.ID, &r.Participant.MatchID, &r.Participant.PUUID,
		&r.Participant.RiotID, &r.Participant.Placement, &r.Participant.Level,
		&r.Participant.LastRound,
		&units, &traits, &augments,
		&r.Match.GameDatetime, &r.Match.GameVersion, &r.Match.QueueType,
		&r.SubClusterID, &r.MainClusterID,
	); err != nil {
		return nil, fmt.Errorf("scanning composition row: %w", err)
	}
	r.Match.MatchID = r.Participant.MatchID

	if err := json.Unmarshal([]byte(units), &r.Participant.Units); err != nil {
		return nil, fmt.Errorf("decoding units for participant %d: %w", r.Participant.ID, err)
	}
	if err := json.Unmarshal([]byte(traits), &r.Participant.Traits); err != nil {
		return nil, fmt.Errorf("decoding traits for participant %d: %w", r.Participant.ID, err)
	}
	if err := json.Unmarshal([]byte(augments), &r.Participant.Augments); err != nil {
		return nil, fmt.Errorf("decoding augments for participant %d: %w", r.Participant.ID, err)
	}
	return &r, nil
}

// rowFilterSQL renders a RowFilter as WHERE fragments. extra is ANDed in
// front when non-empty.
func rowFilterSQL(f RowFilter, extra string) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if extra != "" {
		clauses = append(clauses, extra)
	}
	if f.Patch != "" {
		prefix := "Version " + f.Patch
		clauses = append(clauses, "substr(m.game_version, 1, ?) = ?")
		args = append(args, utf8.RuneCountInString(prefix), prefix)
	}
	if f.QueueType != "" {
		clauses = append(clauses, "m.queue_type = ?")
		args = append(args, f.QueueType)
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "m.game_datetime >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "m.game_datetime <= ?")
		args = append(args, f.To.UTC())
	}
	if len(clauses) == 0 {
		return "1=1", args
	}
	return strings.Join(clauses, " AND "), args
}
