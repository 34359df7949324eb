// download.go — сервис скачивания оригинальных файлов.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/hyakkun/data-dashboard/internal/api/errors"
	"github.com/hyakkun/data-dashboard/internal/api/middleware"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// DownloadError — ошибка скачивания с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadService — сервис скачивания файлов.
// Отдаёт оригинальные байты дословно, никогда не пересериализуя
// из распарсенного представления (round-trip фиделити).
type DownloadService struct {
	blobs  *blobstore.BlobStore
	cat    *catalog.Catalog
	logger *slog.Logger
}

// NewDownloadService создаёт сервис скачивания файлов.
func NewDownloadService(
	blobs *blobstore.BlobStore,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		blobs:  blobs,
		cat:    cat,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Serve отдаёт файл клиенту через http.ServeContent.
// Поддерживает Range requests (206 Partial Content) и ETag (If-None-Match).
func (s *DownloadService) Serve(w http.ResponseWriter, r *http.Request, fileID string) *DownloadError {
	// 1. Метаданные из каталога
	meta, err := s.cat.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &DownloadError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл %s не найден", fileID),
			}
		}
		return &DownloadError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageError,
			Message:    "Каталог недоступен",
		}
	}

	// 2. Открываем оригинальный блоб
	file, err := s.blobs.Open(fileID)
	if err != nil {
		s.logger.Error("Файл не найден на диске",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return &DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    fmt.Sprintf("Файл %s не найден на диске", fileID),
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	// 3. Заголовки
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	w.Header().Set("ETag", fmt.Sprintf("%q", meta.Checksum))
	w.Header().Set("Accept-Ranges", "bytes")

	// 4. http.ServeContent обрабатывает Range, If-None-Match, Content-Length
	http.ServeContent(w, r, meta.Filename, stat.ModTime(), file)

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	s.logger.Debug("Файл скачан",
		slog.String("file_id", fileID),
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.Filesize),
	)

	return nil
}
