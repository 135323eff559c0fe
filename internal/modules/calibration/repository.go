package calibration

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/counts"
)

// Repository persists calibration sets in the models database. Counts are
// stored relationally so individual runs stay queryable.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new calibration repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "calibration").Logger(),
	}
}

// InitSchema creates the calibration tables if needed
func (r *Repository) InitSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS calibrations (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			nbits      INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS calibration_clusters (
			calibration_id TEXT NOT NULL REFERENCES calibrations(id) ON DELETE CASCADE,
			cluster_idx    INTEGER NOT NULL,
			qubits         TEXT NOT NULL,
			PRIMARY KEY (calibration_id, cluster_idx)
		)`,
		`CREATE TABLE IF NOT EXISTS calibration_counts (
			calibration_id TEXT NOT NULL REFERENCES calibrations(id) ON DELETE CASCADE,
			cluster_idx    INTEGER NOT NULL,
			preparation    TEXT NOT NULL,
			outcome        TEXT NOT NULL,
			shots          INTEGER NOT NULL,
			PRIMARY KEY (calibration_id, cluster_idx, preparation, outcome)
		)`,
	}
	for _, q := range queries {
		if _, err := r.db.Exec(q); err != nil {
			return fmt.Errorf("failed to create calibration schema: %w", err)
		}
	}
	return nil
}

// Save stores a calibration set atomically.
func (r *Repository) Save(s *Set) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin calibration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`INSERT INTO calibrations (id, name, nbits, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Name, s.NumBits, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store calibration %s: %w", s.ID, err)
	}

	for ci, c := range s.Clusters {
		qubitsJSON, err := json.Marshal(c.Qubits)
		if err != nil {
			return fmt.Errorf("failed to encode cluster qubits: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO calibration_clusters (calibration_id, cluster_idx, qubits) VALUES (?, ?, ?)`,
			s.ID, ci, string(qubitsJSON))
		if err != nil {
			return fmt.Errorf("failed to store cluster %d of calibration %s: %w", ci, s.ID, err)
		}

		for prep, run := range c.Runs {
			for outcome, n := range run.Counts() {
				_, err = tx.Exec(`INSERT INTO calibration_counts
					(calibration_id, cluster_idx, preparation, outcome, shots) VALUES (?, ?, ?, ?, ?)`,
					s.ID, ci, prep, outcome, n)
				if err != nil {
					return fmt.Errorf("failed to store counts for calibration %s: %w", s.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit calibration %s: %w", s.ID, err)
	}
	r.log.Debug().Str("id", s.ID).Int("clusters", len(s.Clusters)).Msg("Stored calibration set")
	return nil
}

// Get loads a full calibration set by ID.
func (r *Repository) Get(id string) (*Set, error) {
	s := Set{ID: id}
	err := r.db.QueryRow(`SELECT name, nbits, created_at FROM calibrations WHERE id = ?`, id).
		Scan(&s.Name, &s.NumBits, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCalibrationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration %s: %w", id, err)
	}

	clusters, err := r.loadClusters(id)
	if err != nil {
		return nil, err
	}
	if err := r.loadCounts(id, clusters); err != nil {
		return nil, err
	}
	s.Clusters = clusters
	return &s, nil
}

func (r *Repository) loadClusters(id string) ([]ClusterCalibration, error) {
	rows, err := r.db.Query(`SELECT cluster_idx, qubits FROM calibration_clusters
		WHERE calibration_id = ? ORDER BY cluster_idx`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query clusters of calibration %s: %w", id, err)
	}
	defer rows.Close()

	var clusters []ClusterCalibration
	for rows.Next() {
		var idx int
		var qubitsJSON string
		if err := rows.Scan(&idx, &qubitsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan cluster row: %w", err)
		}
		if idx != len(clusters) {
			return nil, fmt.Errorf("calibration %s has a gap at cluster %d", id, len(clusters))
		}
		var qubits []int
		if err := json.Unmarshal([]byte(qubitsJSON), &qubits); err != nil {
			return nil, fmt.Errorf("failed to decode cluster qubits: %w", err)
		}
		clusters = append(clusters, ClusterCalibration{Qubits: qubits, Runs: map[string]*counts.FrequencyTable{}})
	}
	return clusters, rows.Err()
}

func (r *Repository) loadCounts(id string, clusters []ClusterCalibration) error {
	rows, err := r.db.Query(`SELECT cluster_idx, preparation, outcome, shots FROM calibration_counts
		WHERE calibration_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to query counts of calibration %s: %w", id, err)
	}
	defer rows.Close()

	raw := make([]map[string]map[string]int64, len(clusters))
	for rows.Next() {
		var idx int
		var prep, outcome string
		var shots int64
		if err := rows.Scan(&idx, &prep, &outcome, &shots); err != nil {
			return fmt.Errorf("failed to scan counts row: %w", err)
		}
		if idx < 0 || idx >= len(clusters) {
			return fmt.Errorf("calibration %s references unknown cluster %d", id, idx)
		}
		if raw[idx] == nil {
			raw[idx] = map[string]map[string]int64{}
		}
		if raw[idx][prep] == nil {
			raw[idx][prep] = map[string]int64{}
		}
		raw[idx][prep][outcome] = shots
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for idx, preps := range raw {
		for prep, outcomes := range preps {
			table, err := counts.New(len(clusters[idx].Qubits), outcomes)
			if err != nil {
				return fmt.Errorf("calibration %s cluster %d run %s: %w", id, idx, prep, err)
			}
			clusters[idx].Runs[prep] = table
		}
	}
	return nil
}

// List returns metadata for all stored calibration sets, newest first.
func (r *Repository) List() ([]Meta, error) {
	rows, err := r.db.Query(`SELECT c.id, c.name, c.nbits, c.created_at, COUNT(cc.cluster_idx)
		FROM calibrations c
		LEFT JOIN calibration_clusters cc ON cc.calibration_id = c.id
		GROUP BY c.id ORDER BY c.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibrations: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var created time.Time
		if err := rows.Scan(&m.ID, &m.Name, &m.NumBits, &created, &m.Clusters); err != nil {
			return nil, fmt.Errorf("failed to scan calibration row: %w", err)
		}
		m.CreatedAt = created
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a calibration set and its counts.
func (r *Repository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM calibrations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete calibration %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrCalibrationNotFound, id)
	}
	return nil
}
