package store

import "fmt"

const schemaVersion = "1"

// migrate creates all tables if they don't exist and records the schema
// version. The DDL is idempotent; re-running against an existing database
// is a no-op.
func (s *SQLiteStore) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS matches (
			match_id      TEXT PRIMARY KEY,
			game_datetime DATETIME NOT NULL,
			game_version  TEXT NOT NULL DEFAULT '',
			queue_type    TEXT NOT NULL DEFAULT ''
		)`,

		// One row per (match, player). Units/traits/augments are stored as
		// JSON arrays so predicates can reach into them with json_each.
		`CREATE TABLE IF NOT EXISTS participants (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id   TEXT NOT NULL REFERENCES matches(match_id) ON DELETE CASCADE,
			puuid      TEXT NOT NULL,
			riot_id    TEXT NOT NULL DEFAULT '',
			placement  INTEGER NOT NULL,
			level      INTEGER NOT NULL,
			last_round INTEGER NOT NULL,
			units      TEXT NOT NULL DEFAULT '[]',
			traits     TEXT NOT NULL DEFAULT '[]',
			augments   TEXT NOT NULL DEFAULT '[]',
			UNIQUE(match_id, puuid)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_participants_match ON participants(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_placement ON participants(placement)`,

		// Clustering output. carry_units holds the canonical sorted JSON
		// array for the composition so incremental runs can join new
		// compositions to existing sub-clusters by exact carry-set match.
		`CREATE TABLE IF NOT EXISTS cluster_assignments (
			participant_id  INTEGER NOT NULL REFERENCES participants(id) ON DELETE CASCADE,
			algorithm       TEXT NOT NULL,
			params          TEXT NOT NULL DEFAULT '{}',
			run_id          TEXT NOT NULL DEFAULT '',
			sub_cluster_id  INTEGER NOT NULL DEFAULT -1,
			main_cluster_id INTEGER NOT NULL DEFAULT -1,
			carry_units     TEXT NOT NULL DEFAULT '[]',
			computed_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (participant_id, algorithm)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_assignments_sub ON cluster_assignments(algorithm, sub_cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_main ON cluster_assignments(algorithm, main_cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assignments_carries ON cluster_assignments(algorithm, params, carry_units)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if _, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO NOTHING`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("seeding schema version: %w", err)
	}
	return nil
}
