// Package handlers provides HTTP handlers for noise-model management.
package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
)

// Handler provides HTTP handlers for noise-model endpoints
type Handler struct {
	repo *noisemodel.Repository
	log  zerolog.Logger
}

// NewHandler creates a new noise-model handler
func NewHandler(repo *noisemodel.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "models").Logger(),
	}
}

// Routes mounts the model endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)
	r.Delete("/{id}", h.HandleDelete)
}

// HandleList handles GET /api/models
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	metas, err := h.repo.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list noise models")
		http.Error(w, "Failed to list models", http.StatusInternalServerError)
		return
	}
	if metas == nil {
		metas = []noisemodel.Meta{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metas)
}

type modelResponse struct {
	noisemodel.Meta
	Partition        [][]int   `json:"partition"`
	ConditionNumbers []float64 `json:"condition_numbers"`
	MaxCondition     float64   `json:"max_condition_number"`
	Invertible       bool      `json:"invertible"`
}

// HandleGet handles GET /api/models/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	model, meta, err := h.repo.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, noisemodel.ErrModelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load noise model")
		http.Error(w, "Failed to load model", http.StatusInternalServerError)
		return
	}

	maxCond := model.MaxConditionNumber()
	resp := modelResponse{
		Meta:             *meta,
		Partition:        model.Partition(),
		ConditionNumbers: ClampConditions(model.ConditionNumbers()),
		MaxCondition:     ClampCondition(maxCond),
		Invertible:       !math.IsInf(maxCond, 1),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ClampConditions maps each condition number through ClampCondition.
func ClampConditions(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, c := range v {
		out[i] = ClampCondition(c)
	}
	return out
}

// ClampCondition makes a condition number JSON-safe. Singular clusters have
// infinite condition number, which JSON cannot carry; they are reported as -1
// alongside invertible=false.
func ClampCondition(c float64) float64 {
	if math.IsInf(c, 1) || math.IsNaN(c) {
		return -1
	}
	return c
}

// HandleDelete handles DELETE /api/models/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, noisemodel.ErrModelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to delete noise model")
		http.Error(w, "Failed to delete model", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
