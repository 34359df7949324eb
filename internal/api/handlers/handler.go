// handler.go — APIHandler собирает доменные handlers и регистрирует
// маршруты на chi-роутере.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// APIHandler — единый handler для всех endpoints.
type APIHandler struct {
	files   *FilesHandler
	summary *SummaryHandler
	health  *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(files *FilesHandler, summary *SummaryHandler, health *HealthHandler) *APIHandler {
	return &APIHandler{
		files:   files,
		summary: summary,
		health:  health,
	}
}

// RegisterRoutes регистрирует все маршруты API на роутере.
func (h *APIHandler) RegisterRoutes(router chi.Router) {
	router.Route("/api/v1/files", func(r chi.Router) {
		r.Post("/", h.files.UploadFile)
		r.Get("/", h.files.ListFiles)
		r.Get("/{fileID}", h.files.GetFileDetail)
		r.Delete("/{fileID}", h.files.DeleteFile)
		r.Get("/{fileID}/download", h.files.DownloadFile)
		r.Get("/{fileID}/summary", h.summary.GetSummary)
	})

	router.Get("/health/live", h.health.HealthLive)
	router.Get("/health/ready", h.health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
}

// writeJSON — вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
