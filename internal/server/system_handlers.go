package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fbmaciej/qrem/internal/database"
)

// SystemHandlers handles system-wide monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	modelsDB    *database.DB
	resultsDB   *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, modelsDB, resultsDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		modelsDB:    modelsDB,
		resultsDB:   resultsDB,
	}
}

// HealthResponse is the system health payload.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	RAMPercent    float64 `json:"ram_percent"`
	DataDir       string  `json:"data_dir"`
}

// HandleHealth handles GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := h.getSystemStats()

	status := "ok"
	if err := h.modelsDB.Conn().Ping(); err != nil {
		h.log.Error().Err(err).Msg("Models database ping failed")
		status = "degraded"
	}
	if err := h.resultsDB.Conn().Ping(); err != nil {
		h.log.Error().Err(err).Msg("Results database ping failed")
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:        status,
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		CPUPercent:    cpuPct,
		RAMPercent:    ramPct,
		DataDir:       h.dataDir,
	})
}

// DatabaseStats describes one database file.
type DatabaseStats struct {
	Name      string `json:"name"`
	Profile   string `json:"profile"`
	SizeBytes int64  `json:"size_bytes"`
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := []DatabaseStats{
		{Name: h.modelsDB.Name(), Profile: string(h.modelsDB.Profile()), SizeBytes: h.modelsDB.SizeBytes()},
		{Name: h.resultsDB.Name(), Profile: string(h.resultsDB.Profile()), SizeBytes: h.resultsDB.SizeBytes()},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// getSystemStats calculates CPU and RAM usage percentages. The 100ms sampling
// window keeps the endpoint responsive for pollers.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}
