package correction

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrResultNotFound indicates a correction ID with no stored result.
var ErrResultNotFound = errors.New("correction result not found")

// StoredResult is a persisted correction with its provenance.
type StoredResult struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	NumBits   int       `json:"nbits"`
	CreatedAt time.Time `json:"created_at"`
	Result    *Result   `json:"result"`
}

// Repository persists correction results in the results database. Results are
// ephemeral: the maintenance scheduler prunes them past the retention window.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new correction-result repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "correction").Logger(),
	}
}

// InitSchema creates the corrections table if needed
func (r *Repository) InitSchema() error {
	query := `CREATE TABLE IF NOT EXISTS corrections (
		id         TEXT PRIMARY KEY,
		model_id   TEXT NOT NULL,
		method     TEXT NOT NULL,
		nbits      INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		metrics    TEXT NOT NULL,
		vector     BLOB NOT NULL
	)`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create corrections table: %w", err)
	}
	return nil
}

// Save stores a correction result.
func (r *Repository) Save(id, modelID string, nbits int, res *Result) error {
	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode correction metrics: %w", err)
	}
	vecBlob, err := msgpack.Marshal(res.Vector)
	if err != nil {
		return fmt.Errorf("failed to encode correction vector: %w", err)
	}

	query := `INSERT OR REPLACE INTO corrections (id, model_id, method, nbits, created_at, metrics, vector)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query, id, modelID, string(res.Metrics.Method), nbits,
		time.Now().UTC(), string(metricsJSON), vecBlob)
	if err != nil {
		return fmt.Errorf("failed to store correction %s: %w", id, err)
	}
	return nil
}

// Get loads a stored correction by ID.
func (r *Repository) Get(id string) (*StoredResult, error) {
	query := `SELECT model_id, nbits, created_at, metrics, vector FROM corrections WHERE id = ?`

	stored := StoredResult{ID: id}
	var metricsJSON string
	var vecBlob []byte
	err := r.db.QueryRow(query, id).Scan(&stored.ModelID, &stored.NumBits,
		&stored.CreatedAt, &metricsJSON, &vecBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query correction %s: %w", id, err)
	}

	var metrics QualityMetrics
	if err := json.Unmarshal([]byte(metricsJSON), &metrics); err != nil {
		return nil, fmt.Errorf("failed to decode correction metrics for %s: %w", id, err)
	}
	var vec []float64
	if err := msgpack.Unmarshal(vecBlob, &vec); err != nil {
		return nil, fmt.Errorf("failed to decode correction vector for %s: %w", id, err)
	}

	stored.Result = newResult(vec, stored.NumBits, metrics)
	return &stored, nil
}

// PruneOlderThan deletes results created before the cutoff and returns how
// many rows were removed.
func (r *Repository) PruneOlderThan(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM corrections WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune corrections: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info().Int64("pruned", n).Time("cutoff", cutoff).Msg("Pruned expired correction results")
	}
	return n, nil
}
