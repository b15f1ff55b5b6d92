package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Handlers implements the status API endpoints.
type Handlers struct {
	cfg Config
	log zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(cfg Config, log zerolog.Logger) *Handlers {
	return &Handlers{
		cfg: cfg,
		log: log.With().Str("component", "handlers").Logger(),
	}
}

// HandleHealth handles health check requests.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "smarttrader",
	})
}

// HandleCurrentAllocation returns the allocation in force.
func (h *Handlers) HandleCurrentAllocation(w http.ResponseWriter, r *http.Request) {
	vector := h.cfg.Loop.Allocation()

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"method":     vector.Method,
		"weights":    vector.Weights,
		"created_at": vector.CreatedAt,
		"cycle":      h.cfg.Loop.CycleCount(),
	})
}

// HandleBreakers returns circuit breaker telemetry.
func (h *Handlers) HandleBreakers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": h.cfg.Breakers.Snapshot(),
	})
}

// HandleQuoteMetrics returns the quote service counters.
func (h *Handlers) HandleQuoteMetrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.cfg.Quotes.Snapshot())
}

// HandleRecentTrades returns the most recent fills, newest first.
// Optional ?limit=N, default 50, capped at 500.
func (h *Handlers) HandleRecentTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > 500 {
		limit = 500
	}

	trades, err := h.cfg.Trades.GetHistory(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to load trade history")
		h.writeError(w, http.StatusInternalServerError, "failed to load trades")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// HandlePortfolio returns cash and open positions.
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cash":      h.cfg.Portfolio.Cash(),
		"positions": h.cfg.Portfolio.Positions(),
	})
}

// SystemResponse is the system resource snapshot.
type SystemResponse struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	DataDirMB     float64 `json:"data_dir_mb"`
	Uptime        string  `json:"uptime"`
}

var startedAt = time.Now()

// HandleSystem returns host resource usage.
func (h *Handlers) HandleSystem(w http.ResponseWriter, r *http.Request) {
	response := SystemResponse{
		DataDirMB: h.dirSizeMB(h.cfg.DataDir),
		Uptime:    time.Since(startedAt).Round(time.Second).String(),
	}

	// 100ms sample keeps the endpoint responsive for pollers.
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		response.CPUPercent = cpuPercent[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("failed to sample cpu usage")
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		response.MemoryPercent = memStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("failed to read memory statistics")
	}

	if diskStat, err := disk.Usage(h.cfg.DataDir); err == nil {
		response.DiskPercent = diskStat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("failed to read disk usage")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// dirSizeMB walks a directory and sums file sizes in megabytes.
func (h *Handlers) dirSizeMB(dir string) float64 {
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dir).Msg("failed to calculate directory size")
		return 0
	}
	return float64(total) / 1024 / 1024
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
