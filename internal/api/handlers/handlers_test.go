package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyakkun/data-dashboard/internal/config"
	"github.com/hyakkun/data-dashboard/internal/domain/model"
	"github.com/hyakkun/data-dashboard/internal/service"
	"github.com/hyakkun/data-dashboard/internal/storage/blobstore"
	"github.com/hyakkun/data-dashboard/internal/storage/catalog"
)

// newTestServer собирает полный HTTP-стек на временных хранилищах.
func newTestServer(t *testing.T) *httptest.Server {
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

	ingestSvc := service.NewIngestService(cfg, blobs, cat, logger)
	downloadSvc := service.NewDownloadService(blobs, cat, logger)
	summarySvc := service.NewSummaryService(cfg, cat, logger)

	filesHandler := NewFilesHandler(cfg, ingestSvc, downloadSvc, summarySvc, blobs, cat, logger)
	summaryHandler := NewSummaryHandler(summarySvc, logger)
	healthHandler := NewHealthHandler(blobs.DataDir(), cat)
	apiHandler := NewAPIHandler(filesHandler, summaryHandler, healthHandler)

	router := chi.NewRouter()
	apiHandler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// uploadCSV загружает CSV через multipart и возвращает распарсенный ответ.
func uploadCSV(t *testing.T, srv *httptest.Server, filename, content string) (*http.Response, model.FileRecord) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("ошибка формирования multipart: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("ошибка записи multipart: %v", err)
	}
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/v1/files", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var rec model.FileRecord
	if resp.StatusCode == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			t.Fatalf("ошибка декодирования ответа: %v", err)
		}
	}
	return resp, rec
}

// errorCode извлекает машиночитаемый код из тела ошибки.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования тела ошибки: %v", err)
	}
	return body.Error.Code
}

const sampleCSV = "time_generated,status,src_ip\n" +
	"1700000000000000,ok,10.0.0.1\n" +
	"1700000010000000,fail,10.0.0.2\n" +
	"1700000070000000,ok,10.0.0.3\n"

// TestUploadFile проверяет загрузку файла через HTTP.
func TestUploadFile(t *testing.T) {
	srv := newTestServer(t)

	resp, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("статус: ожидалось 201, получено %d", resp.StatusCode)
	}
	if rec.FileID == "" {
		t.Error("в ответе нет file_id")
	}
	if rec.RowCount != 3 || rec.SkippedRows != 0 {
		t.Errorf("счётчики: RowCount=%d SkippedRows=%d", rec.RowCount, rec.SkippedRows)
	}
	if len(rec.Columns) != 3 {
		t.Errorf("колонки: %v", rec.Columns)
	}
}

// TestUploadFile_MissingField проверяет запрос без поля file.
func TestUploadFile_MissingField(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/v1/files", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("статус: ожидалось 400, получено %d", resp.StatusCode)
	}
}

// TestListFiles проверяет список файлов и пагинацию.
func TestListFiles(t *testing.T) {
	srv := newTestServer(t)

	uploadCSV(t, srv, "first.csv", sampleCSV)
	uploadCSV(t, srv, "second.csv", sampleCSV)

	resp, err := http.Get(srv.URL + "/api/v1/files?limit=1&offset=0")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", resp.StatusCode)
	}

	var list FileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}

	if list.Total != 2 {
		t.Errorf("total: ожидалось 2, получено %d", list.Total)
	}
	if len(list.Items) != 1 {
		t.Errorf("ожидался 1 элемент, получено %d", len(list.Items))
	}
	if !list.HasMore {
		t.Error("has_more должен быть true")
	}
}

// TestListFiles_InvalidParams проверяет валидацию параметров пагинации.
func TestListFiles_InvalidParams(t *testing.T) {
	srv := newTestServer(t)

	for _, query := range []string{"limit=0", "limit=9999", "limit=abc", "offset=-1"} {
		resp, err := http.Get(srv.URL + "/api/v1/files?" + query)
		if err != nil {
			t.Fatalf("ошибка запроса: %v", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: ожидалось 400, получено %d", query, resp.StatusCode)
		}
	}
}

// TestGetFileDetail проверяет карточку файла.
func TestGetFileDetail(t *testing.T) {
	srv := newTestServer(t)
	_, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	resp, err := http.Get(srv.URL + "/api/v1/files/" + rec.FileID)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", resp.StatusCode)
	}

	var got model.FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if got.FileID != rec.FileID || got.Filename != "access.csv" {
		t.Errorf("метаданные: %+v", got)
	}
	if len(got.Columns) != 3 {
		t.Errorf("карточка должна содержать колонки: %v", got.Columns)
	}
}

// TestDownloadFile проверяет скачивание оригинала байт-в-байт.
func TestDownloadFile(t *testing.T) {
	srv := newTestServer(t)
	_, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	resp, err := http.Get(srv.URL + "/api/v1/files/" + rec.FileID + "/download")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type: %s", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ошибка чтения тела: %v", err)
	}
	if string(data) != sampleCSV {
		t.Error("скачанное содержимое отличается от загруженного")
	}
}

// TestGetSummary проверяет агрегацию через HTTP.
func TestGetSummary(t *testing.T) {
	srv := newTestServer(t)
	_, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	resp, err := http.Get(srv.URL + "/api/v1/files/" + rec.FileID +
		"/summary?group_by=status&time_unit=1min")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус: ожидалось 200, получено %d", resp.StatusCode)
	}

	var result model.SummaryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}

	if len(result.Categories) != 2 {
		t.Errorf("категории: %v", result.Categories)
	}
	if len(result.Rows) != 2 {
		t.Errorf("ожидалось 2 корзины, получено %d", len(result.Rows))
	}
	if result.MatchedRows != 3 {
		t.Errorf("MatchedRows: %d", result.MatchedRows)
	}
}

// TestGetSummary_Validation проверяет валидацию параметров агрегации.
func TestGetSummary_Validation(t *testing.T) {
	srv := newTestServer(t)
	_, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	tests := []struct {
		name         string
		query        string
		expectedCode string
	}{
		{"нет group_by", "time_unit=1min", "VALIDATION_ERROR"},
		{"нет time_unit", "group_by=status", "VALIDATION_ERROR"},
		{"неизвестный time_unit", "group_by=status&time_unit=15min", "UNSUPPORTED_TIME_UNIT"},
		{"неизвестная колонка", "group_by=nope&time_unit=1min", "VALIDATION_ERROR"},
		{"адресная колонка", "group_by=src_ip&time_unit=1min", "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/v1/files/" + rec.FileID + "/summary?" + tt.query)
			if err != nil {
				t.Fatalf("ошибка запроса: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("статус: ожидалось 400, получено %d", resp.StatusCode)
			}
			if code := errorCode(t, resp); code != tt.expectedCode {
				t.Errorf("код: ожидалось %s, получено %s", tt.expectedCode, code)
			}
		})
	}
}

// TestDeleteFile_Lifecycle проверяет удаление файла и недоступность
// всех операций после него.
func TestDeleteFile_Lifecycle(t *testing.T) {
	srv := newTestServer(t)
	_, rec := uploadCSV(t, srv, "access.csv", sampleCSV)

	// Прогреваем кэш summary перед удалением
	warm, err := http.Get(srv.URL + "/api/v1/files/" + rec.FileID +
		"/summary?group_by=status&time_unit=1min")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	warm.Body.Close()

	// Удаление
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/files/"+rec.FileID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("статус удаления: ожидалось 204, получено %d", resp.StatusCode)
	}

	// Все операции после удаления — 404
	paths := []string{
		"/api/v1/files/" + rec.FileID,
		"/api/v1/files/" + rec.FileID + "/download",
		"/api/v1/files/" + rec.FileID + "/summary?group_by=status&time_unit=1min",
	}
	for _, path := range paths {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("ошибка запроса %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: ожидалось 404, получено %d", path, resp.StatusCode)
		}
	}

	// Повторное удаление — 404
	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/files/"+rec.FileID, nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("повторное удаление: ожидалось 404, получено %d", resp.StatusCode)
	}
}

// TestFileID_Invalid проверяет, что некорректный идентификатор
// неотличим от несуществующего файла.
func TestFileID_Invalid(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/files/не-uuid")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("статус: ожидалось 404, получено %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("код: %s", code)
	}
}

// TestHealth проверяет health endpoints.
func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("ошибка запроса %s: %v", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: ожидалось 200, получено %d", path, resp.StatusCode)
		}
	}
}

// TestMetrics проверяет endpoint Prometheus-метрик.
func TestMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("статус: ожидалось 200, получено %d", resp.StatusCode)
	}
}
