package service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/domain/model"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// testEnv — общее окружение сервисных тестов: временные каталоги,
// SQLite-база с миграциями и собранные сервисы.
type testEnv struct {
	cfg        *config.Config
	blobs      *blobstore.BlobStore
	cat        *catalog.Catalog
	ingestSvc  *IngestService
	summarySvc *SummaryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{
		MaxFileSize:     1 << 20,
		TimeColumn:      "time_generated",
		Timezone:        time.UTC,
		CategoryCap:     50,
		SummaryTimeout:  5 * time.Second,
		CacheSize:       8,
		CacheTTL:        time.Minute,
		ExcludedColumns: []string{"_ip"},
	}

	db, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("ошибка открытия базы: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := catalog.Migrate(db, logger); err != nil {
		t.Fatalf("ошибка миграции: %v", err)
	}
	cat := catalog.New(db, logger)

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания блоб-хранилища: %v", err)
	}

	return &testEnv{
		cfg:        cfg,
		blobs:      blobs,
		cat:        cat,
		ingestSvc:  NewIngestService(cfg, blobs, cat, logger),
		summarySvc: NewSummaryService(cfg, cat, logger),
	}
}

// upload загружает CSV и возвращает запись метаданных.
func (e *testEnv) upload(t *testing.T, filename, content string) *model.FileRecord {
	t.Helper()

	rec, ingErr := e.ingestSvc.Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader(content),
		Filename:     filename,
		DeclaredSize: int64(len(content)),
	})
	if ingErr != nil {
		t.Fatalf("ошибка загрузки %s: %v", filename, ingErr)
	}
	return rec
}

// sampleCSV — три строки в двух минутных корзинах, два статуса.
const sampleCSV = "time_generated,status,src_ip\n" +
	"1700000000000000,ok,10.0.0.1\n" + // 2023-11-14 22:13:20 UTC
	"1700000010000000,fail,10.0.0.2\n" + // та же минута
	"1700000070000000,ok,10.0.0.3\n" // следующая минута

// TestIngest_RoundTrip проверяет полный цикл приёма файла.
func TestIngest_RoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "access.csv", sampleCSV)

	if rec.RowCount != 3 {
		t.Errorf("RowCount: ожидалось 3, получено %d", rec.RowCount)
	}
	if rec.SkippedRows != 0 {
		t.Errorf("SkippedRows: ожидалось 0, получено %d", rec.SkippedRows)
	}
	if len(rec.Columns) != 3 || rec.Columns[1] != "status" {
		t.Errorf("колонки: %v", rec.Columns)
	}
	if !rec.HasTimeColumn {
		t.Error("колонка времени должна быть обнаружена")
	}
	if rec.Filesize != int64(len(sampleCSV)) {
		t.Errorf("Filesize: ожидалось %d, получено %d", len(sampleCSV), rec.Filesize)
	}

	// Оригинал на диске
	if !env.blobs.Exists(rec.FileID) {
		t.Error("блоб не найден после загрузки")
	}

	// Метаданные в каталоге
	got, err := env.cat.GetFile(context.Background(), rec.FileID)
	if err != nil {
		t.Fatalf("файл не найден в каталоге: %v", err)
	}
	if got.Checksum != rec.Checksum {
		t.Errorf("checksum различается: %s и %s", got.Checksum, rec.Checksum)
	}
}

// TestIngest_Verbatim проверяет, что скачанный оригинал байт-в-байт
// совпадает с загруженным, включая пропущенные строки.
func TestIngest_Verbatim(t *testing.T) {
	env := newTestEnv(t)

	content := "time_generated,status\n" +
		"1700000000000000,ok\n" +
		"1700000030000000,fail,лишнее-поле\n" +
		"1700000060000000,fail\n"

	rec := env.upload(t, "broken.csv", content)

	if rec.RowCount != 2 || rec.SkippedRows != 1 {
		t.Errorf("счётчики: RowCount=%d SkippedRows=%d", rec.RowCount, rec.SkippedRows)
	}

	f, err := env.blobs.Open(rec.FileID)
	if err != nil {
		t.Fatalf("ошибка открытия блоба: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ошибка чтения блоба: %v", err)
	}
	if string(data) != content {
		t.Error("оригинал изменился при сохранении")
	}
}

// TestIngest_Rejections проверяет отклонение некорректных загрузок.
func TestIngest_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		filename   string
		content    string
		statusCode int
	}{
		{"не CSV", "report.pdf", "a,b\n1,2\n", 400},
		{"пустой файл", "empty.csv", "", 400},
		{"пустое имя колонки", "bad.csv", "a,,c\n1,2,3\n", 400},
		{"дубликат колонки", "dup.csv", "a,b,a\n1,2,3\n", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			_, ingErr := env.ingestSvc.Ingest(context.Background(), IngestParams{
				Reader:       strings.NewReader(tt.content),
				Filename:     tt.filename,
				DeclaredSize: int64(len(tt.content)),
			})
			if ingErr == nil {
				t.Fatal("ожидалась ошибка приёма")
			}
			if ingErr.StatusCode != tt.statusCode {
				t.Errorf("статус: ожидалось %d, получено %d (%s)",
					tt.statusCode, ingErr.StatusCode, ingErr.Message)
			}
		})
	}
}

// TestIngest_TooLarge проверяет лимит размера и отсутствие блоба после отказа.
func TestIngest_TooLarge(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxFileSize = 64

	content := "time_generated,status\n" + strings.Repeat("1700000000000000,ok\n", 10)
	_, ingErr := env.ingestSvc.Ingest(context.Background(), IngestParams{
		Reader:       strings.NewReader(content),
		Filename:     "big.csv",
		DeclaredSize: -1, // заявленный размер неизвестен
	})
	if ingErr == nil {
		t.Fatal("ожидалась ошибка размера")
	}
	if ingErr.StatusCode != 413 {
		t.Errorf("статус: ожидалось 413, получено %d", ingErr.StatusCode)
	}

	// Блоб не должен остаться на диске
	entries, err := os.ReadDir(env.blobs.DataDir())
	if err != nil {
		t.Fatalf("ошибка чтения каталога данных: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("после отказа на диске осталось %d файлов", len(entries))
	}
}

// TestIngest_NoTimeColumn проверяет приём файла без колонки времени:
// файл принимается, но помечается как непригодный для агрегации.
func TestIngest_NoTimeColumn(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "notime.csv", "status,host\nok,web-1\n")

	if rec.HasTimeColumn {
		t.Error("колонка времени не должна быть обнаружена")
	}
	if rec.RowCount != 1 {
		t.Errorf("RowCount: %d", rec.RowCount)
	}
}

// TestSummarize проверяет сценарий агрегации: три строки в двух
// минутных корзинах, два статуса.
func TestSummarize(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "access.csv", sampleCSV)

	res, sumErr := env.summarySvc.Summarize(context.Background(), model.SummaryRequest{
		FileID:  rec.FileID,
		GroupBy: "status",
		Unit:    model.Unit1Min,
	})
	if sumErr != nil {
		t.Fatalf("ошибка агрегации: %v", sumErr)
	}

	if len(res.Categories) != 2 || res.Categories[0] != "ok" || res.Categories[1] != "fail" {
		t.Errorf("категории: %v", res.Categories)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("ожидалось 2 корзины, получено %d", len(res.Rows))
	}
	if res.Rows[0].Counts["ok"] != 1 || res.Rows[0].Counts["fail"] != 1 {
		t.Errorf("первая корзина: %v", res.Rows[0].Counts)
	}
	if res.Rows[1].Counts["ok"] != 1 || res.Rows[1].Counts["fail"] != 0 {
		t.Errorf("вторая корзина: %v", res.Rows[1].Counts)
	}
	if res.MatchedRows != 3 || res.SkippedRows != 0 {
		t.Errorf("счётчики: matched=%d skipped=%d", res.MatchedRows, res.SkippedRows)
	}
}

// TestSummarize_Validation проверяет отклонение недопустимых запросов.
func TestSummarize_Validation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "access.csv", sampleCSV)

	tests := []struct {
		name       string
		fileID     string
		groupBy    string
		statusCode int
	}{
		{"несуществующий файл", "550e8400-e29b-41d4-a716-446655440000", "status", 404},
		{"неизвестная колонка", rec.FileID, "нет_такой", 400},
		{"колонка времени", rec.FileID, "time_generated", 400},
		{"адресная колонка", rec.FileID, "src_ip", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, sumErr := env.summarySvc.Summarize(context.Background(), model.SummaryRequest{
				FileID:  tt.fileID,
				GroupBy: tt.groupBy,
				Unit:    model.Unit1Min,
			})
			if sumErr == nil {
				t.Fatal("ожидалась ошибка")
			}
			if sumErr.StatusCode != tt.statusCode {
				t.Errorf("статус: ожидалось %d, получено %d (%s)",
					tt.statusCode, sumErr.StatusCode, sumErr.Message)
			}
		})
	}
}

// TestSummarize_NoTimeColumn проверяет отказ в агрегации файла
// без колонки времени.
func TestSummarize_NoTimeColumn(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "notime.csv", "status,host\nok,web-1\n")

	_, sumErr := env.summarySvc.Summarize(context.Background(), model.SummaryRequest{
		FileID:  rec.FileID,
		GroupBy: "status",
		Unit:    model.UnitHour,
	})
	if sumErr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if sumErr.StatusCode != 400 {
		t.Errorf("статус: ожидалось 400, получено %d", sumErr.StatusCode)
	}
}

// TestSummarize_SkippedTimestamps проверяет подсчёт строк
// с нечитаемой меткой времени.
func TestSummarize_SkippedTimestamps(t *testing.T) {
	env := newTestEnv(t)

	content := "time_generated,status\n" +
		"1700000000000000,ok\n" +
		"не дата,fail\n"
	rec := env.upload(t, "mixed.csv", content)

	res, sumErr := env.summarySvc.Summarize(context.Background(), model.SummaryRequest{
		FileID:  rec.FileID,
		GroupBy: "status",
		Unit:    model.UnitHour,
	})
	if sumErr != nil {
		t.Fatalf("ошибка агрегации: %v", sumErr)
	}

	if res.MatchedRows != 1 {
		t.Errorf("MatchedRows: ожидалось 1, получено %d", res.MatchedRows)
	}
	if res.SkippedRows != 1 {
		t.Errorf("SkippedRows: ожидалось 1, получено %d", res.SkippedRows)
	}
	if len(res.Categories) != 1 || res.Categories[0] != "ok" {
		t.Errorf("категории: %v", res.Categories)
	}
}

// TestSummarize_CacheAndInvalidate проверяет кэширование результата
// и его инвалидацию.
func TestSummarize_CacheAndInvalidate(t *testing.T) {
	env := newTestEnv(t)
	rec := env.upload(t, "access.csv", sampleCSV)

	req := model.SummaryRequest{FileID: rec.FileID, GroupBy: "status", Unit: model.Unit1Min}

	first, sumErr := env.summarySvc.Summarize(context.Background(), req)
	if sumErr != nil {
		t.Fatalf("ошибка агрегации: %v", sumErr)
	}

	// Повторный запрос — тот же результат из кэша
	second, sumErr := env.summarySvc.Summarize(context.Background(), req)
	if sumErr != nil {
		t.Fatalf("ошибка агрегации: %v", sumErr)
	}
	if first != second {
		t.Error("повторный запрос должен вернуть кэшированный результат")
	}

	// После инвалидации — новое вычисление
	env.summarySvc.Invalidate(rec.FileID)
	third, sumErr := env.summarySvc.Summarize(context.Background(), req)
	if sumErr != nil {
		t.Fatalf("ошибка агрегации: %v", sumErr)
	}
	if first == third {
		t.Error("после инвалидации результат должен быть вычислен заново")
	}
}

// TestDownload_NotFound проверяет скачивание несуществующего файла.
func TestDownload_NotFound(t *testing.T) {
	env := newTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dl := NewDownloadService(env.blobs, env.cat, logger)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/files/x/download", nil)

	dlErr := dl.Serve(w, r, "550e8400-e29b-41d4-a716-446655440000")
	if dlErr == nil {
		t.Fatal("ожидалась ошибка")
	}
	if dlErr.StatusCode != 404 {
		t.Errorf("статус: ожидалось 404, получено %d", dlErr.StatusCode)
	}
}
