// summary.go — HTTP handler агрегации: сводная таблица
// "временная корзина × категория" по загруженному файлу.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/hyakkun/data-dashboard/internal/api/errors"
	"github.com/hyakkun/data-dashboard/internal/domain/model"
	"github.com/hyakkun/data-dashboard/internal/service"
)

// SummaryHandler — handler запросов агрегации.
type SummaryHandler struct {
	summarySvc *service.SummaryService
	logger     *slog.Logger
}

// NewSummaryHandler создаёт handler запросов агрегации.
func NewSummaryHandler(summarySvc *service.SummaryService, logger *slog.Logger) *SummaryHandler {
	return &SummaryHandler{
		summarySvc: summarySvc,
		logger:     logger.With(slog.String("component", "summary_handler")),
	}
}

// GetSummary обрабатывает GET /api/v1/files/{fileID}/summary.
//
// Обязательные query-параметры:
//   - group_by — колонка категоризации
//   - time_unit — гранулярность: day, hour, 10min, 5min, 1min
func (h *SummaryHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	groupBy := r.URL.Query().Get("group_by")
	if groupBy == "" {
		apierrors.ValidationError(w, "Отсутствует обязательный параметр group_by")
		return
	}

	rawUnit := r.URL.Query().Get("time_unit")
	if rawUnit == "" {
		apierrors.ValidationError(w, "Отсутствует обязательный параметр time_unit")
		return
	}
	unit, err := model.ParseTimeUnit(rawUnit)
	if err != nil {
		apierrors.UnsupportedTimeUnit(w,
			"Неподдерживаемая гранулярность времени: "+rawUnit)
		return
	}

	result, sumErr := h.summarySvc.Summarize(r.Context(), model.SummaryRequest{
		FileID:  fileID,
		GroupBy: groupBy,
		Unit:    unit,
	})
	if sumErr != nil {
		apierrors.WriteError(w, sumErr.StatusCode, sumErr.Code, sumErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
