// Пакет service — бизнес-логика сервиса.
// ingest.go — приём загружаемого CSV: верификация, сохранение оригинала,
// потоковый разбор и атомарная запись в каталог.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apierrors "github.com/hyakkun/data-dashboard/internal/api/errors"
	"github.com/hyakkun/data-dashboard/internal/api/middleware"
	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/domain/model"
	"github.com/hyakkun/data-dashboard/internal/ingest"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// IngestParams — параметры приёма файла.
type IngestParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Filename — оригинальное имя файла
	Filename string
	// DeclaredSize — заявленный размер (из multipart), -1 если неизвестен
	DeclaredSize int64
}

// IngestError — ошибка приёма с HTTP-кодом.
type IngestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IngestService — сервис приёма CSV-файлов.
type IngestService struct {
	cfg    *config.Config
	blobs  *blobstore.BlobStore
	cat    *catalog.Catalog
	logger *slog.Logger
}

// NewIngestService создаёт сервис приёма файлов.
func NewIngestService(
	cfg *config.Config,
	blobs *blobstore.BlobStore,
	cat *catalog.Catalog,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		cfg:    cfg,
		blobs:  blobs,
		cat:    cat,
		logger: logger.With(slog.String("component", "ingest_service")),
	}
}

// Ingest принимает CSV-файл.
//
// Поток:
//  1. Проверка расширения и заявленного размера
//  2. Сохранение оригинальных байт на диск (verbatim, SHA-256 на лету)
//  3. Повторная проверка фактического размера
//  4. Потоковый разбор сохранённого файла
//  5. Атомарная запись строк и метаданных в каталог
//
// При любой ошибке после шага 2 сохранённый блоб удаляется —
// каталог и диск не расходятся.
func (s *IngestService) Ingest(ctx context.Context, params IngestParams) (*model.FileRecord, *IngestError) {
	// 1. Только CSV
	if !strings.HasSuffix(strings.ToLower(params.Filename), ".csv") {
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Допустимы только CSV-файлы",
		}
	}

	if params.DeclaredSize > s.cfg.MaxFileSize {
		return nil, &IngestError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message: fmt.Sprintf("Размер файла %d байт превышает максимум %d байт",
				params.DeclaredSize, s.cfg.MaxFileSize),
		}
	}

	fileID := uuid.New().String()

	// 2. Сохраняем оригинал. LimitReader на max+1 — авторитетная
	// серверная проверка размера независимо от заявленного значения
	limited := io.LimitReader(params.Reader, s.cfg.MaxFileSize+1)
	saved, err := s.blobs.Save(fileID, limited)
	if err != nil {
		s.logger.Error("Ошибка сохранения файла",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &IngestError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка записи файла в хранилище",
		}
	}

	// 3. Фактический размер
	if saved.Size == 0 {
		s.cleanup(fileID)
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Файл пуст",
		}
	}
	if saved.Size > s.cfg.MaxFileSize {
		s.cleanup(fileID)
		return nil, &IngestError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
		}
	}

	// 4. Разбор из сохранённого файла (оригинал уже на диске,
	// распарсенное представление его не подменяет)
	blob, err := s.blobs.Open(fileID)
	if err != nil {
		s.cleanup(fileID)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &IngestError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения сохранённого файла",
		}
	}
	defer blob.Close()

	parser, err := ingest.New(blob, s.cfg.TimeColumn)
	if err != nil {
		s.cleanup(fileID)
		if errors.Is(err, ingest.ErrEmptyFile) {
			return nil, &IngestError{
				StatusCode: 400,
				Code:       apierrors.CodeValidationError,
				Message:    "Файл не содержит заголовка CSV",
			}
		}
		return nil, &IngestError{
			StatusCode: 400,
			Code:       apierrors.CodeMalformedHeader,
			Message:    err.Error(),
		}
	}

	rec := &model.FileRecord{
		FileID:        fileID,
		Filename:      params.Filename,
		Filesize:      saved.Size,
		Columns:       parser.Columns(),
		HasTimeColumn: parser.HasTimeColumn(),
		Checksum:      saved.Checksum,
		UploadedAt:    time.Now().UTC(),
	}

	// 5. Атомарная запись: строки и метаданные в одной транзакции
	source := &parserSource{parser: parser, rec: rec}
	if err := s.cat.PutFile(ctx, rec, source); err != nil {
		s.cleanup(fileID)
		s.logger.Error("Ошибка записи в каталог",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, &IngestError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка записи в каталог",
		}
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.RowsIngestedTotal.Add(float64(rec.RowCount))
	middleware.RowsSkippedTotal.Add(float64(rec.SkippedRows))

	s.logger.Info("Файл принят",
		slog.String("file_id", fileID),
		slog.String("filename", rec.Filename),
		slog.Int64("filesize", rec.Filesize),
		slog.Int("row_count", rec.RowCount),
		slog.Int("skipped_rows", rec.SkippedRows),
		slog.Bool("has_time_column", rec.HasTimeColumn),
	)

	return rec, nil
}

// cleanup удаляет блоб при неудачном ingestion.
func (s *IngestService) cleanup(fileID string) {
	if err := s.blobs.Delete(fileID); err != nil {
		s.logger.Warn("Не удалось удалить блоб после ошибки ingestion",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}
}

// parserSource адаптирует потоковый парсер к catalog.RowSource.
// На io.EOF дозаполняет счётчики в записи метаданных —
// к моменту вставки записи в транзакции они финальны.
type parserSource struct {
	parser *ingest.Parser
	rec    *model.FileRecord
	seq    int64
}

// Next возвращает следующую строку для вставки или io.EOF.
func (ps *parserSource) Next() (*model.Row, error) {
	row, err := ps.parser.Next()
	if err == io.EOF {
		ps.rec.RowCount = ps.parser.RowCount()
		ps.rec.SkippedRows = ps.parser.Skipped()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}

	ps.seq++
	return &model.Row{
		Seq:       ps.seq,
		Values:    row.Values,
		Timestamp: row.Timestamp,
	}, nil
}
