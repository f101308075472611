package handlers_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/gofilerelay/internal/api/handlers"
	"github.com/bigkaa/gofilerelay/internal/config"
	"github.com/bigkaa/gofilerelay/internal/domain/model"
	"github.com/bigkaa/gofilerelay/internal/expiry"
	"github.com/bigkaa/gofilerelay/internal/registry"
	"github.com/bigkaa/gofilerelay/internal/server"
	"github.com/bigkaa/gofilerelay/internal/service"
	"github.com/bigkaa/gofilerelay/internal/storage/blobstore"
)

// testApp — полный HTTP-стек сервиса для интеграционных тестов.
type testApp struct {
	handler http.Handler
	store   *blobstore.BlobStore
	reg     *registry.Registry
	cfg     *config.Config
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	dir := t.TempDir()
	store, err := blobstore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания BlobStore: %v", err)
	}

	cfg := &config.Config{
		Port:            3001,
		UploadsDir:      dir,
		ShutdownTimeout: time.Second,
		MaxFiles:        config.MaxFiles,
		MaxTotalSize:    config.MaxTotalSize,
		ExpiryTime:      time.Hour,
	}

	reg := registry.New(cfg.MaxFiles, cfg.MaxTotalSize, logger)
	sched := expiry.New(logger)
	t.Cleanup(sched.Stop)

	transferSvc := service.NewTransferService(cfg, store, reg, sched, logger)
	downloadSvc := service.NewDownloadService(store, transferSvc, logger)

	srv := server.New(cfg, logger,
		handlers.NewTransfersHandler(cfg, transferSvc, downloadSvc),
		handlers.NewHealthHandler(dir),
	)

	return &testApp{
		handler: srv.Handler(),
		store:   store,
		reg:     reg,
		cfg:     cfg,
	}
}

// file — имя и содержимое одного файла multipart-формы.
type file struct {
	name    string
	content string
}

// multipartUpload собирает multipart-форму с полем files.
func multipartUpload(t *testing.T, files []file) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatalf("Ошибка создания части формы: %v", err)
		}
		if _, err := part.Write([]byte(f.content)); err != nil {
			t.Fatalf("Ошибка записи части формы: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Ошибка завершения формы: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (app *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	return rec
}

func (app *testApp) uploadFiles(t *testing.T, files []file) *service.CreateResult {
	t.Helper()

	body, contentType := multipartUpload(t, files)
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := app.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Загрузка: хотели 200, получили %d (%s)", rec.Code, rec.Body.String())
	}

	var result service.CreateResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Ошибка декодирования ответа загрузки: %v", err)
	}
	return &result
}

// errorBody — конверт ошибки внешнего API.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Ошибка декодирования тела ошибки: %v", err)
	}
	return body
}

func TestUploadAndGetTransfer(t *testing.T) {
	app := newTestApp(t)

	result := app.uploadFiles(t, []file{
		{"a.txt", "aaaaa"},
		{"b.txt", "0123456789"},
	})

	if len(result.Code) != 6 {
		t.Fatalf("Длина кода: хотели 6, получили %d (%s)", len(result.Code), result.Code)
	}
	if result.FileCount != 2 {
		t.Errorf("fileCount: хотели 2, получили %d", result.FileCount)
	}
	if result.TotalSize != 15 {
		t.Errorf("totalSize: хотели 15, получили %d", result.TotalSize)
	}
	if result.ExpiresAt <= time.Now().UnixMilli() {
		t.Errorf("expiresAt в прошлом: %d", result.ExpiresAt)
	}

	rec := app.do(t, httptest.NewRequest("GET", "/api/transfer/"+result.Code, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Статус: хотели 200, получили %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type: хотели application/json, получили %s", got)
	}

	var info service.TransferInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
	if info.Code != result.Code {
		t.Errorf("code: хотели %s, получили %s", result.Code, info.Code)
	}
	if len(info.Files) != 2 {
		t.Fatalf("Файлов: хотели 2, получили %d", len(info.Files))
	}
	if info.Files[0].Name != "a.txt" || info.Files[0].Size != 5 {
		t.Errorf("Файл 0: хотели a.txt/5, получили %s/%d", info.Files[0].Name, info.Files[0].Size)
	}
	if info.RemainingTime <= 0 {
		t.Errorf("remainingTime должно быть положительным: %d", info.RemainingTime)
	}
}

func TestUpload_TooManyFiles(t *testing.T) {
	app := newTestApp(t)
	app.cfg.MaxFiles = 2

	body, contentType := multipartUpload(t, []file{
		{"1.txt", "x"}, {"2.txt", "x"}, {"3.txt", "x"},
	})
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := app.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Статус: хотели 400, получили %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Code; got != "VALIDATION_ERROR" {
		t.Errorf("Код ошибки: хотели VALIDATION_ERROR, получили %s", got)
	}
}

func TestUpload_NoFiles(t *testing.T) {
	app := newTestApp(t)

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest("POST", "/api/upload", body)
	req.Header.Set("Content-Type", contentType)

	rec := app.do(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Статус: хотели 400, получили %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Code; got != "VALIDATION_ERROR" {
		t.Errorf("Код ошибки: хотели VALIDATION_ERROR, получили %s", got)
	}
}

func TestGetTransfer_Unknown(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, httptest.NewRequest("GET", "/api/transfer/000000", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Статус: хотели 404, получили %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Code; got != "NOT_FOUND" {
		t.Errorf("Код ошибки: хотели NOT_FOUND, получили %s", got)
	}
}

func TestGetTransfer_Expired(t *testing.T) {
	app := newTestApp(t)

	// Просроченная запись без таймера: purge-on-read отработает сам
	saved, err := app.store.Save(strings.NewReader("data"), "a.txt", 1<<10)
	if err != nil {
		t.Fatalf("Ошибка сохранения блоба: %v", err)
	}
	past := time.Now().UTC().Add(-time.Hour)
	transfer, err := app.reg.Add([]model.FileRecord{{
		ID:          "fid-1",
		DisplayName: "a.txt",
		StorageKey:  saved.StorageKey,
		Size:        saved.Size,
		ContentType: "text/plain",
	}}, past, time.Minute)
	if err != nil {
		t.Fatalf("Ошибка вставки в реестр: %v", err)
	}

	rec := app.do(t, httptest.NewRequest("GET", "/api/transfer/"+transfer.Code, nil))
	if rec.Code != http.StatusGone {
		t.Fatalf("Статус: хотели 410, получили %d", rec.Code)
	}
	if got := decodeError(t, rec).Error.Code; got != "TRANSFER_EXPIRED" {
		t.Errorf("Код ошибки: хотели TRANSFER_EXPIRED, получили %s", got)
	}

	// Повторное обращение: 404
	rec = app.do(t, httptest.NewRequest("GET", "/api/transfer/"+transfer.Code, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Повторный статус: хотели 404, получили %d", rec.Code)
	}
}

func TestDownloadFile(t *testing.T) {
	app := newTestApp(t)

	result := app.uploadFiles(t, []file{{"a.txt", "aaaaa"}})

	rec := app.do(t, httptest.NewRequest("GET", "/api/transfer/"+result.Code, nil))
	var info service.TransferInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}

	rec = app.do(t, httptest.NewRequest("GET", "/api/download/"+result.Code+"/"+info.Files[0].ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Статус: хотели 200, получили %d", rec.Code)
	}
	if got := rec.Body.String(); got != "aaaaa" {
		t.Errorf("Тело: хотели %q, получили %q", "aaaaa", got)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="a.txt"` {
		t.Errorf("Content-Disposition: получили %s", got)
	}
}

func TestDownloadFile_Unknown(t *testing.T) {
	app := newTestApp(t)

	result := app.uploadFiles(t, []file{{"a.txt", "aaaaa"}})

	rec := app.do(t, httptest.NewRequest("GET", "/api/download/"+result.Code+"/no-such-file", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Статус: хотели 404, получили %d", rec.Code)
	}
}

func TestDownloadArchive(t *testing.T) {
	app := newTestApp(t)

	result := app.uploadFiles(t, []file{
		{"a.txt", "aaaaa"},
		{"b.txt", "0123456789"},
	})

	rec := app.do(t, httptest.NewRequest("GET", "/api/download-all/"+result.Code, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Статус: хотели 200, получили %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type: хотели application/zip, получили %s", got)
	}

	body := rec.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("Ошибка чтения архива: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("Записей в архиве: хотели 2, получили %d", len(zr.File))
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("Ошибка открытия записи архива: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("Ошибка чтения записи архива: %v", err)
	}
	if string(got) != "aaaaa" {
		t.Errorf("Содержимое: хотели %q, получили %q", "aaaaa", got)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, httptest.NewRequest("GET", "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Статус: хотели 200, получили %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: хотели ok, получили %v", body["status"])
	}
	if body["service"] != "file-relay" {
		t.Errorf("service: хотели file-relay, получили %v", body["service"])
	}
}

func TestHealthReady(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, httptest.NewRequest("GET", "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Статус: хотели 200, получили %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Ошибка декодирования ответа: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: хотели ok, получили %v", body["status"])
	}
}
