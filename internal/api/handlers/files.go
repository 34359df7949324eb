// files.go — HTTP handlers каталога файлов: загрузка, список,
// карточка файла, удаление и скачивание оригинала.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/hyakkun/data-dashboard/internal/api/errors"
	"github.com/hyakkun/data-dashboard/internal/api/middleware"
	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/service"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// defaultListLimit — размер страницы списка по умолчанию.
const defaultListLimit = 50

// maxListLimit — максимальный размер страницы списка.
const maxListLimit = 1000

// FilesHandler — handlers каталога файлов.
type FilesHandler struct {
	cfg         *config.Config
	ingestSvc   *service.IngestService
	downloadSvc *service.DownloadService
	summarySvc  *service.SummaryService
	blobs       *blobstore.BlobStore
	cat         *catalog.Catalog
	logger      *slog.Logger
}

// NewFilesHandler создаёт handlers каталога файлов.
func NewFilesHandler(
	cfg *config.Config,
	ingestSvc *service.IngestService,
	downloadSvc *service.DownloadService,
	summarySvc *service.SummaryService,
	blobs *blobstore.BlobStore,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		cfg:         cfg,
		ingestSvc:   ingestSvc,
		downloadSvc: downloadSvc,
		summarySvc:  summarySvc,
		blobs:       blobs,
		cat:         cat,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// FileListItem — элемент списка файлов (без списка колонок).
type FileListItem struct {
	FileID      string    `json:"file_id"`
	Filename    string    `json:"filename"`
	Filesize    int64     `json:"filesize"`
	RowCount    int       `json:"row_count"`
	SkippedRows int       `json:"skipped_rows"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// FileListResponse — страница списка файлов.
type FileListResponse struct {
	Items   []FileListItem `json:"items"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// UploadFile обрабатывает POST /api/v1/files — загрузку CSV-файла.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	// Ограничиваем тело запроса: файл + накладные расходы multipart
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Файл превышает максимально допустимый размер")
			return
		}
		apierrors.ValidationError(w, "Отсутствует поле file в multipart-запросе")
		return
	}
	defer file.Close()

	rec, ingErr := h.ingestSvc.Ingest(r.Context(), service.IngestParams{
		Reader:       file,
		Filename:     header.Filename,
		DeclaredSize: header.Size,
	})
	if ingErr != nil {
		apierrors.WriteError(w, ingErr.StatusCode, ingErr.Code, ingErr.Message)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// ListFiles обрабатывает GET /api/v1/files — постраничный список файлов,
// отсортированный по дате загрузки (новые первыми).
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxListLimit {
			apierrors.ValidationError(w,
				"Параметр limit должен быть числом от 1 до "+strconv.Itoa(maxListLimit))
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apierrors.ValidationError(w, "Параметр offset должен быть неотрицательным числом")
			return
		}
		offset = n
	}

	records, total, err := h.cat.ListFiles(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка файлов", slog.String("error", err.Error()))
		apierrors.StorageError(w, "Каталог недоступен")
		return
	}

	items := make([]FileListItem, 0, len(records))
	for _, rec := range records {
		items = append(items, FileListItem{
			FileID:      rec.FileID,
			Filename:    rec.Filename,
			Filesize:    rec.Filesize,
			RowCount:    rec.RowCount,
			SkippedRows: rec.SkippedRows,
			UploadedAt:  rec.UploadedAt,
		})
	}

	writeJSON(w, http.StatusOK, FileListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	})
}

// GetFileDetail обрабатывает GET /api/v1/files/{fileID} — полные метаданные файла.
func (h *FilesHandler) GetFileDetail(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	rec, err := h.cat.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.NotFound(w, "Файл "+fileID+" не найден")
			return
		}
		h.logger.Error("Ошибка чтения метаданных файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()))
		apierrors.StorageError(w, "Каталог недоступен")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{fileID}.
//
// Порядок удаления: сначала каталог (источник истины), затем блоб,
// затем инвалидация кэша summary. Ошибка удаления блоба не делает
// операцию неуспешной — каталожная запись уже удалена, файл
// недоступен через API.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	if err := h.cat.DeleteFile(r.Context(), fileID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			apierrors.NotFound(w, "Файл "+fileID+" не найден")
			return
		}
		h.logger.Error("Ошибка удаления файла из каталога",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()))
		apierrors.StorageError(w, "Каталог недоступен")
		return
	}

	if err := h.blobs.Delete(fileID); err != nil {
		h.logger.Warn("Ошибка удаления блоба, запись каталога уже удалена",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()))
	}

	h.summarySvc.Invalidate(fileID)

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	h.logger.Info("Файл удалён", slog.String("file_id", fileID))

	w.WriteHeader(http.StatusNoContent)
}

// DownloadFile обрабатывает GET /api/v1/files/{fileID}/download —
// отдачу оригинальных байт файла.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	fileID, ok := fileIDParam(w, r)
	if !ok {
		return
	}

	if dlErr := h.downloadSvc.Serve(w, r, fileID); dlErr != nil {
		apierrors.WriteError(w, dlErr.StatusCode, dlErr.Code, dlErr.Message)
	}
}

// fileIDParam извлекает и валидирует идентификатор файла из URL.
// Некорректный UUID неотличим от несуществующего файла — 404.
func fileIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	fileID := chi.URLParam(r, "fileID")
	if _, err := uuid.Parse(fileID); err != nil {
		apierrors.NotFound(w, "Файл "+fileID+" не найден")
		return "", false
	}
	return fileID, true
}
