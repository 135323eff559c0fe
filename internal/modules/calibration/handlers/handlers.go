// Package handlers provides HTTP handlers for calibration management.
package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fbmaciej/qrem/internal/modules/calibration"
	"github.com/fbmaciej/qrem/internal/modules/confusion"
	"github.com/fbmaciej/qrem/internal/modules/counts"
	"github.com/fbmaciej/qrem/internal/modules/noisemodel"
	modelhandlers "github.com/fbmaciej/qrem/internal/modules/noisemodel/handlers"
)

// Handler provides HTTP handlers for calibration endpoints
type Handler struct {
	service *calibration.Service
	log     zerolog.Logger
}

// NewHandler creates a new calibration handler
func NewHandler(service *calibration.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "calibration").Logger(),
	}
}

// Routes mounts the calibration endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.HandleList)
	r.Post("/", h.HandleSubmit)
	r.Get("/{id}", h.HandleGet)
	r.Delete("/{id}", h.HandleDelete)
	r.Post("/{id}/model", h.HandleBuildModel)
}

// clusterRequest is the wire form of one cluster's calibration data: raw
// counts keyed by preparation label, then by observed outcome.
type clusterRequest struct {
	Qubits []int                       `json:"qubits"`
	Runs   map[string]map[string]int64 `json:"runs"`
}

type submitRequest struct {
	Name     string           `json:"name"`
	NumBits  int              `json:"nbits"`
	Clusters []clusterRequest `json:"clusters"`
}

// HandleSubmit handles POST /api/calibrations
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	clusters := make([]calibration.ClusterCalibration, len(req.Clusters))
	for ci, c := range req.Clusters {
		runs := make(map[string]*counts.FrequencyTable, len(c.Runs))
		for prep, raw := range c.Runs {
			table, err := counts.New(len(c.Qubits), raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			runs[prep] = table
		}
		clusters[ci] = calibration.ClusterCalibration{Qubits: c.Qubits, Runs: runs}
	}

	set, err := h.service.Submit(req.Name, req.NumBits, clusters)
	if err != nil {
		if errors.Is(err, noisemodel.ErrInvalidPartition) || errors.Is(err, counts.ErrMalformedTable) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error().Err(err).Msg("Failed to store calibration")
		http.Error(w, "Failed to store calibration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(calibration.Meta{
		ID:        set.ID,
		Name:      set.Name,
		NumBits:   set.NumBits,
		Clusters:  len(set.Clusters),
		CreatedAt: set.CreatedAt,
	})
}

// HandleList handles GET /api/calibrations
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	metas, err := h.service.List()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list calibrations")
		http.Error(w, "Failed to list calibrations", http.StatusInternalServerError)
		return
	}
	if metas == nil {
		metas = []calibration.Meta{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metas)
}

type setResponse struct {
	calibration.Meta
	ClusterQubits [][]int `json:"cluster_qubits"`
}

// HandleGet handles GET /api/calibrations/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, calibration.ErrCalibrationNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to load calibration")
		http.Error(w, "Failed to load calibration", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(setResponse{
		Meta: calibration.Meta{
			ID:        set.ID,
			Name:      set.Name,
			NumBits:   set.NumBits,
			Clusters:  len(set.Clusters),
			CreatedAt: set.CreatedAt,
		},
		ClusterQubits: set.Partition(),
	})
}

// HandleDelete handles DELETE /api/calibrations/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, calibration.ErrCalibrationNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Msg("Failed to delete calibration")
		http.Error(w, "Failed to delete calibration", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type buildModelRequest struct {
	Name string `json:"name"`
}

type buildModelResponse struct {
	ModelID          string    `json:"model_id"`
	Mode             string    `json:"mode"`
	ConditionNumbers []float64 `json:"condition_numbers"`
	Invertible       bool      `json:"invertible"`
}

// HandleBuildModel handles POST /api/calibrations/{id}/model
func (h *Handler) HandleBuildModel(w http.ResponseWriter, r *http.Request) {
	var req buildModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	modelID, model, err := h.service.BuildModel(chi.URLParam(r, "id"), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, calibration.ErrCalibrationNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, confusion.ErrInsufficientData),
			errors.Is(err, confusion.ErrCorruptedCalibration):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			h.log.Error().Err(err).Msg("Failed to build noise model")
			http.Error(w, "Failed to build noise model", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(buildModelResponse{
		ModelID:          modelID,
		Mode:             string(model.Mode()),
		ConditionNumbers: modelhandlers.ClampConditions(model.ConditionNumbers()),
		Invertible:       !math.IsInf(model.MaxConditionNumber(), 1),
	})
}
