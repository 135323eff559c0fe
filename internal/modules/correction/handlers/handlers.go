// Package handlers provides HTTP handlers for running corrections.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/correction"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	"github.com/fbmaciej/qrem/internal/work"
)

// Handler provides HTTP handlers for correction endpoints
type Handler struct {
	corrector  *correction.Corrector
	modelRepo  *noisemodel.Repository
	resultRepo *correction.Repository
	pool       *work.Pool
	log        zerolog.Logger
}

// NewHandler creates a new correction handler
func NewHandler(corrector *correction.Corrector, modelRepo *noisemodel.Repository, resultRepo *correction.Repository, pool *work.Pool, log zerolog.Logger) *Handler {
	return &Handler{
		corrector:  corrector,
		modelRepo:  modelRepo,
		resultRepo: resultRepo,
		pool:       pool,
		log:        log.With().Str("handler", "correction").Logger(),
	}
}

// Routes mounts the correction endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.HandleCorrect)
	r.Get("/{id}", h.HandleGet)
	r.Post("/batch", h.HandleSubmitBatch)
	r.Get("/batch/{id}", h.HandleBatchStatus)
	r.Delete("/batch/{id}", h.HandleCancelBatch)
}

// optionsRequest is the wire form of per-request solver options.
type optionsRequest struct {
	Distance        string  `json:"distance,omitempty"`
	Tolerance       float64 `json:"tolerance,omitempty"`
	MaxIterations   int     `json:"max_iterations,omitempty"`
	FullJoint       bool    `json:"full_joint,omitempty"`
	ConfidenceBound bool    `json:"confidence_bound,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
}

func (o optionsRequest) toOptions() correction.Options {
	return correction.Options{
		Distance:            correction.Distance(o.Distance),
		Tolerance:           o.Tolerance,
		MaxIterations:       o.MaxIterations,
		FullJoint:           o.FullJoint,
		WithConfidenceBound: o.ConfidenceBound,
		Confidence:          o.Confidence,
	}
}

type correctRequest struct {
	ModelID string           `json:"model_id"`
	Method  string           `json:"method"`
	Counts  map[string]int64 `json:"counts"`
	Options optionsRequest   `json:"options"`
}

type correctResponse struct {
	ID           string                    `json:"id"`
	ModelID      string                    `json:"model_id"`
	Distribution map[string]float64        `json:"distribution"`
	Metrics      correction.QualityMetrics `json:"metrics"`
}

// HandleCorrect handles POST /api/corrections
func (h *Handler) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	method, err := parseMethod(req.Method)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	model, _, err := h.modelRepo.Get(req.ModelID)
	if err != nil {
		if errors.Is(err, noisemodel.ErrModelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load noise model")
		http.Error(w, "Failed to load model", http.StatusInternalServerError)
		return
	}

	table, err := counts.New(model.NumBits(), req.Counts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res *correction.Result
	if method == correction.MethodUnconstrained {
		res, err = h.corrector.Unconstrained(model, table, req.Options.toOptions())
	} else {
		res, err = h.corrector.Constrained(r.Context(), model, table, req.Options.toOptions())
	}
	if err != nil && !errors.Is(err, correction.ErrConvergence) {
		switch {
		case errors.Is(err, noisemodel.ErrSingularModel):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, counts.ErrMalformedTable),
			errors.Is(err, correction.ErrUnknownDistance):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.Error().Err(err).Msg("Correction failed")
			http.Error(w, "Correction failed", http.StatusInternalServerError)
		}
		return
	}

	// A convergence failure still carries the best-so-far result; the metrics
	// say it did not converge.
	id := uuid.New().String()
	if err := h.resultRepo.Save(id, req.ModelID, model.NumBits(), res); err != nil {
		h.log.Error().Err(err).Msg("Failed to store correction result")
		http.Error(w, "Failed to store result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(correctResponse{
		ID:           id,
		ModelID:      req.ModelID,
		Distribution: res.Distribution,
		Metrics:      res.Metrics,
	})
}

// HandleGet handles GET /api/corrections/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	stored, err := h.resultRepo.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, correction.ErrResultNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load correction result")
		http.Error(w, "Failed to load result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stored)
}

type batchRequest struct {
	ModelID string             `json:"model_id"`
	Method  string             `json:"method"`
	Items   []map[string]int64 `json:"items"`
	Options optionsRequest     `json:"options"`
}

// HandleSubmitBatch handles POST /api/corrections/batch
func (h *Handler) HandleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	method, err := parseMethod(req.Method)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// An unknown metric would otherwise fail every item after the batch is
	// accepted.
	if req.Options.Distance != "" {
		if _, err := correction.SolverFor(correction.Distance(req.Options.Distance)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	model, _, err := h.modelRepo.Get(req.ModelID)
	if err != nil {
		if errors.Is(err, noisemodel.ErrModelNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load noise model")
		http.Error(w, "Failed to load model", http.StatusInternalServerError)
		return
	}

	tables := make([]*counts.FrequencyTable, len(req.Items))
	for i, raw := range req.Items {
		table, err := counts.New(model.NumBits(), raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tables[i] = table
	}

	jobID, err := h.pool.Submit(req.ModelID, method, model, tables, req.Options.toOptions())
	if err != nil {
		switch {
		case errors.Is(err, work.ErrQueueFull):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, counts.ErrMalformedTable):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.Error().Err(err).Msg("Failed to submit batch")
			http.Error(w, "Failed to submit batch", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"job_id": jobID})
}

// HandleBatchStatus handles GET /api/corrections/batch/{id}. Item results are
// included when ?items=true.
func (h *Handler) HandleBatchStatus(w http.ResponseWriter, r *http.Request) {
	withItems := r.URL.Query().Get("items") == "true"
	status, err := h.pool.Status(chi.URLParam(r, "id"), withItems)
	if err != nil {
		if errors.Is(err, work.ErrJobNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load batch status")
		http.Error(w, "Failed to load batch status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// HandleCancelBatch handles DELETE /api/corrections/batch/{id}
func (h *Handler) HandleCancelBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.Cancel(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, work.ErrJobNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to cancel batch")
		http.Error(w, "Failed to cancel batch", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseMethod(s string) (correction.Method, error) {
	switch correction.Method(s) {
	case correction.MethodUnconstrained:
		return correction.MethodUnconstrained, nil
	case correction.MethodConstrained, correction.Method(""):
		// Constrained is the default: its output is always a distribution.
		return correction.MethodConstrained, nil
	default:
		return "", errors.New("unknown correction method: " + s)
	}
}
