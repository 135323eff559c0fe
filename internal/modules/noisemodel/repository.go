package noisemodel

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrModelNotFound indicates a model ID with no stored snapshot.
var ErrModelNotFound = errors.New("noise model not found")

// Meta describes a stored model without decoding its snapshot.
type Meta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	NumBits   int       `json:"nbits"`
	Mode      Mode      `json:"mode"`
	Clusters  int       `json:"clusters"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository persists noise-model snapshots in the models database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new noise-model repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "noisemodel").Logger(),
	}
}

// InitSchema creates the noise_models table if needed
func (r *Repository) InitSchema() error {
	query := `CREATE TABLE IF NOT EXISTS noise_models (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		nbits      INTEGER NOT NULL,
		mode       TEXT NOT NULL,
		clusters   INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		snapshot   BLOB NOT NULL
	)`
	if _, err := r.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create noise_models table: %w", err)
	}
	return nil
}

// Save stores a model snapshot under the given ID.
func (r *Repository) Save(id, name string, model *Model) error {
	blob, err := model.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode noise model %s: %w", id, err)
	}

	query := `INSERT OR REPLACE INTO noise_models (id, name, nbits, mode, clusters, created_at, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.Exec(query, id, name, model.NumBits(), string(model.Mode()),
		model.NumClusters(), time.Now().UTC(), blob)
	if err != nil {
		return fmt.Errorf("failed to store noise model %s: %w", id, err)
	}

	r.log.Debug().Str("model_id", id).Int("nbits", model.NumBits()).
		Str("mode", string(model.Mode())).Msg("Stored noise model")
	return nil
}

// Get loads and rebuilds a model by ID.
func (r *Repository) Get(id string) (*Model, *Meta, error) {
	query := `SELECT name, nbits, mode, clusters, created_at, snapshot
		FROM noise_models WHERE id = ?`

	var meta Meta
	var blob []byte
	meta.ID = id
	var mode string
	err := r.db.QueryRow(query, id).Scan(&meta.Name, &meta.NumBits, &mode,
		&meta.Clusters, &meta.CreatedAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query noise model %s: %w", id, err)
	}
	meta.Mode = Mode(mode)

	model, err := UnmarshalModel(blob)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to rebuild noise model %s: %w", id, err)
	}
	return model, &meta, nil
}

// List returns metadata for all stored models, newest first.
func (r *Repository) List() ([]Meta, error) {
	query := `SELECT id, name, nbits, mode, clusters, created_at
		FROM noise_models ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list noise models: %w", err)
	}
	defer rows.Close()

	var metas []Meta
	for rows.Next() {
		var m Meta
		var mode string
		if err := rows.Scan(&m.ID, &m.Name, &m.NumBits, &mode, &m.Clusters, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan noise model row: %w", err)
		}
		m.Mode = Mode(mode)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a stored model.
func (r *Repository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM noise_models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete noise model %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return nil
}
