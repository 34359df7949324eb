// health.go — handlers health endpoints.
// /health/live — liveness probe (процесс жив)
// /health/ready — readiness probe (каталог SQLite и каталог данных доступны)
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// readyCheckTimeout — таймаут проверки каталога при readiness probe.
const readyCheckTimeout = 3 * time.Second

// Константы статусов health check.
const (
	statusOK   = "ok"
	statusFail = "fail"
)

// HealthHandler — handler health endpoints.
type HealthHandler struct {
	dataDir string
	cat     *catalog.Catalog
}

// NewHealthHandler создаёт handler health endpoints.
func NewHealthHandler(dataDir string, cat *catalog.Catalog) *HealthHandler {
	return &HealthHandler{
		dataDir: dataDir,
		cat:     cat,
	}
}

// healthCheckResult — результат проверки одной зависимости.
type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthLiveResponse — ответ liveness probe.
type healthLiveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
}

// healthReadyResponse — ответ readiness probe.
type healthReadyResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Service   string `json:"service"`
	Checks    struct {
		Catalog    healthCheckResult `json:"catalog"`
		Filesystem healthCheckResult `json:"filesystem"`
	} `json:"checks"`
}

// HealthLive — liveness probe. Возвращает 200, если процесс жив.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthLiveResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "dashboard-api",
	})
}

// HealthReady — readiness probe. Проверяет каталог SQLite
// и возможность записи в каталог данных.
// Возвращает 200 (ok) или 503 (fail).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := healthReadyResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   "dashboard-api",
	}

	resp.Checks.Catalog = h.checkCatalog(r.Context())
	resp.Checks.Filesystem = h.checkFilesystem()

	resp.Status = statusOK
	if resp.Checks.Catalog.Status == statusFail || resp.Checks.Filesystem.Status == statusFail {
		resp.Status = statusFail
	}

	code := http.StatusOK
	if resp.Status == statusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// checkCatalog проверяет доступность каталога SQLite.
func (h *HealthHandler) checkCatalog(ctx context.Context) healthCheckResult {
	pingCtx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()

	if err := h.cat.Ping(pingCtx); err != nil {
		return healthCheckResult{Status: statusFail, Message: err.Error()}
	}
	return healthCheckResult{Status: statusOK}
}

// checkFilesystem проверяет возможность записи в каталог данных.
func (h *HealthHandler) checkFilesystem() healthCheckResult {
	probe := filepath.Join(h.dataDir, ".health_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return healthCheckResult{Status: statusFail, Message: err.Error()}
	}
	_ = os.Remove(probe)
	return healthCheckResult{Status: statusOK}
}
