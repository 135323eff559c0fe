package calibration

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
)

// ServiceConfig carries the tunables the service needs from the environment.
type ServiceConfig struct {
	// MaxColumnDrift is the largest column-sum deviation accepted when
	// estimating confusion matrices. Zero means the package default.
	MaxColumnDrift float64
	// ExactModeThreshold is the largest alphabet size composed exactly.
	// Zero means the package default.
	ExactModeThreshold int
}

// Service handles calibration business logic: validating submitted datasets
// and estimating noise models from them.
type Service struct {
	repo      *Repository
	modelRepo *noisemodel.Repository
	cfg       ServiceConfig
	log       zerolog.Logger
}

// NewService creates a new calibration service
func NewService(repo *Repository, modelRepo *noisemodel.Repository, cfg ServiceConfig, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		modelRepo: modelRepo,
		cfg:       cfg,
		log:       log.With().Str("service", "calibration").Logger(),
	}
}

// Submit validates and stores a new calibration set, assigning it an ID.
func (s *Service) Submit(name string, nbits int, clusters []ClusterCalibration) (*Set, error) {
	set := &Set{
		ID:        uuid.New().String(),
		Name:      name,
		NumBits:   nbits,
		CreatedAt: time.Now().UTC(),
		Clusters:  clusters,
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(set); err != nil {
		return nil, err
	}

	s.log.Info().Str("id", set.ID).Str("name", name).Int("nbits", nbits).
		Int("clusters", len(clusters)).Msg("Calibration set stored")
	return set, nil
}

// Get loads a calibration set by ID.
func (s *Service) Get(id string) (*Set, error) {
	return s.repo.Get(id)
}

// List returns all stored calibration sets, newest first.
func (s *Service) List() ([]Meta, error) {
	return s.repo.List()
}

// Delete removes a calibration set.
func (s *Service) Delete(id string) error {
	return s.repo.Delete(id)
}

// BuildModel estimates a noise model from a stored calibration set and
// persists it under the given name. One confusion matrix is built per
// cluster; composition decides exact versus factorized representation from
// the system size.
func (s *Service) BuildModel(calibrationID, name string) (string, *noisemodel.Model, error) {
	set, err := s.repo.Get(calibrationID)
	if err != nil {
		return "", nil, err
	}

	matrices := make([]*confusion.Matrix, len(set.Clusters))
	buildOpts := confusion.BuildOptions{MaxColumnDrift: s.cfg.MaxColumnDrift}
	for ci, c := range set.Clusters {
		m, err := confusion.Build(len(c.Qubits), c.Runs, buildOpts)
		if err != nil {
			return "", nil, err
		}
		matrices[ci] = m
	}

	model, err := noisemodel.Compose(set.NumBits, matrices, set.Partition(),
		noisemodel.ComposeOptions{ExactModeThreshold: s.cfg.ExactModeThreshold})
	if err != nil {
		return "", nil, err
	}

	modelID := uuid.New().String()
	if err := s.modelRepo.Save(modelID, name, model); err != nil {
		return "", nil, err
	}

	s.log.Info().Str("calibration_id", calibrationID).Str("model_id", modelID).
		Str("mode", string(model.Mode())).
		Float64("max_condition", model.MaxConditionNumber()).
		Msg("Noise model built from calibration")
	return modelID, model, nil
}
