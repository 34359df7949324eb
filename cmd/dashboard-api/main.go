// Точка входа сервиса загрузки и анализа CSV-логов.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hyakkun/data-dashboard/internal/api/handlers"
	"github.com/hyakkun/data-dashboard/internal/api/middleware"
	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/server"
	"github.com/hyakkun/data-dashboard/internal/service"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Dashboard API запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("db_path", cfg.DBPath),
		slog.String("timezone", cfg.Timezone.String()),
	)

	// --- Инициализация компонентов ---

	// 1. Каталог SQLite: соединение и миграции
	db, err := catalog.Open(cfg.DBPath)
	if err != nil {
		logger.Error("Ошибка открытия каталога", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	if err := catalog.Migrate(db, logger); err != nil {
		logger.Error("Ошибка миграции каталога", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cat := catalog.New(db, logger)

	// 2. Блоб-хранилище оригинальных файлов
	blobs, err := blobstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации блоб-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Сервисы
	ingestSvc := service.NewIngestService(cfg, blobs, cat, logger)
	downloadSvc := service.NewDownloadService(blobs, cat, logger)
	summarySvc := service.NewSummaryService(cfg, cat, logger)

	// 4. Handlers
	filesHandler := handlers.NewFilesHandler(cfg, ingestSvc, downloadSvc, summarySvc, blobs, cat, logger)
	summaryHandler := handlers.NewSummaryHandler(summarySvc, logger)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cat)
	apiHandler := handlers.NewAPIHandler(filesHandler, summaryHandler, healthHandler)

	// 5. HTTP-сервер с middleware (метрики, логирование запросов)
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	// 6. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Dashboard API остановлен")
}
