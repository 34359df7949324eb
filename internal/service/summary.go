// summary.go — сервис временнóй агрегации: валидация запроса,
// потоковое сканирование строк и построение матрицы корзина × категория.
//
// Результаты опционально кэшируются в expirable LRU по ключу
// (file_id, group_by, time_unit); конкурентные одинаковые вычисления
// дедуплицируются через singleflight. Кэш инвалидируется при
// удалении файла.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/hyakkun/data-dashboard/internal/aggregate"
	apierrors "github.com/hyakkun/data-dashboard/internal/api/errors"
	"github.com/hyakkun/data-dashboard/internal/api/middleware"
	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/domain/model"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// SummaryError — ошибка агрегации с HTTP-кодом.
type SummaryError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SummaryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// SummaryService — сервис агрегации.
type SummaryService struct {
	cfg    *config.Config
	cat    *catalog.Catalog
	cache  *expirable.LRU[string, *model.SummaryResult] // nil если кэш выключен
	group  singleflight.Group
	logger *slog.Logger
}

// NewSummaryService создаёт сервис агрегации.
// При cfg.CacheSize == 0 кэш выключен и каждый запрос вычисляется заново.
func NewSummaryService(cfg *config.Config, cat *catalog.Catalog, logger *slog.Logger) *SummaryService {
	s := &SummaryService{
		cfg:    cfg,
		cat:    cat,
		logger: logger.With(slog.String("component", "summary_service")),
	}
	if cfg.CacheSize > 0 {
		s.cache = expirable.NewLRU[string, *model.SummaryResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return s
}

// Summarize выполняет запрос агрегации.
//
// Валидация: файл существует, содержит колонку времени, group_by —
// существующая колонка, не колонка времени и не адресное поле.
// Неизвестная колонка — ошибка валидации, не пустой результат.
func (s *SummaryService) Summarize(ctx context.Context, req model.SummaryRequest) (*model.SummaryResult, *SummaryError) {
	rec, err := s.cat.GetFile(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &SummaryError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    fmt.Sprintf("Файл %s не найден", req.FileID),
			}
		}
		return nil, &SummaryError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageError,
			Message:    "Каталог недоступен",
		}
	}

	if !rec.HasTimeColumn {
		return nil, &SummaryError{
			StatusCode: 400,
			Code:       apierrors.CodeNoTimestampColumn,
			Message:    fmt.Sprintf("Файл не содержит колонку времени %q, агрегация невозможна", s.cfg.TimeColumn),
		}
	}

	if !rec.HasColumn(req.GroupBy) {
		return nil, &SummaryError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Колонка %q отсутствует в файле", req.GroupBy),
		}
	}

	if !s.cfg.GroupByAllowed(req.GroupBy) {
		return nil, &SummaryError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Колонка %q недопустима для группировки", req.GroupBy),
		}
	}

	key := cacheKey(req)

	// Кэш
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			middleware.OperationsTotal.WithLabelValues("summary", "success").Inc()
			return cached, nil
		}
	}

	// Дедупликация одинаковых конкурентных вычислений.
	// Вычисление идёт под собственным таймаутом, независимым от
	// контекста конкретного вызывающего: результат разделяется.
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.compute(req)
	})
	if err != nil {
		var se *SummaryError
		if errors.As(err, &se) {
			middleware.OperationsTotal.WithLabelValues("summary", "error").Inc()
			return nil, se
		}
		middleware.OperationsTotal.WithLabelValues("summary", "error").Inc()
		return nil, &SummaryError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка вычисления summary",
		}
	}

	result := v.(*model.SummaryResult)
	middleware.OperationsTotal.WithLabelValues("summary", "success").Inc()
	return result, nil
}

// compute выполняет однопроходное сканирование и агрегацию.
func (s *SummaryService) compute(req model.SummaryRequest) (*model.SummaryResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SummaryTimeout)
	defer cancel()

	start := time.Now()
	acc := aggregate.New(req.Unit, s.cfg.Timezone, s.cfg.CategoryCap)

	err := s.cat.ScanRows(ctx, req.FileID, func(tsUS *int64, values map[string]string) error {
		if tsUS == nil {
			// Строка без валидной метки времени исключается из матрицы
			// и подсчитывается отдельно
			acc.AddSkipped()
			return nil
		}
		// Отсутствие ключа даёт пустую строку — полноправную категорию;
		// движок не отбрасывает строки по значению категории
		acc.Add(time.UnixMicro(*tsUS).UTC(), values[req.GroupBy])
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &SummaryError{
				StatusCode: 504,
				Code:       apierrors.CodeTimeout,
				Message:    fmt.Sprintf("Вычисление summary не уложилось в %s", s.cfg.SummaryTimeout),
			}
		}
		s.logger.Error("Ошибка сканирования строк",
			slog.String("file_id", req.FileID),
			slog.String("error", err.Error()),
		)
		return nil, &SummaryError{
			StatusCode: 503,
			Code:       apierrors.CodeStorageError,
			Message:    "Ошибка чтения строк из каталога",
		}
	}

	result := acc.Result()
	duration := time.Since(start)
	middleware.SummaryDuration.Observe(duration.Seconds())

	if s.cache != nil {
		s.cache.Add(cacheKey(req), result)
	}

	s.logger.Debug("Summary вычислен",
		slog.String("file_id", req.FileID),
		slog.String("group_by", req.GroupBy),
		slog.String("time_unit", string(req.Unit)),
		slog.Int("categories", len(result.Categories)),
		slog.Int("buckets", len(result.Rows)),
		slog.Duration("duration", duration),
	)

	return result, nil
}

// Invalidate удаляет из кэша все результаты указанного файла.
// Вызывается при удалении файла.
func (s *SummaryService) Invalidate(fileID string) {
	if s.cache == nil {
		return
	}
	prefix := fileID + "|"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
}

// cacheKey строит ключ кэша/singleflight: (file_id, group_by, time_unit).
func cacheKey(req model.SummaryRequest) string {
	return req.FileID + "|" + req.GroupBy + "|" + string(req.Unit)
}
