package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/methompson/met-simple-storage/internal/api/handlers"
	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/config"
	"github.com/methompson/met-simple-storage/internal/server"
	"github.com/methompson/met-simple-storage/internal/service"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
	"github.com/methompson/met-simple-storage/internal/storage/wal"
	"github.com/methompson/met-simple-storage/internal/uploads"
)

// fileJSON — форма записи файла в JSON ответах API.
type fileJSON struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"originalFilename"`
	StorageName      string `json:"storageName"`
	DateAdded        string `json:"dateAdded"`
	AuthorID         string `json:"authorId"`
	Size             int64  `json:"size"`
	IsPrivate        bool   `json:"isPrivate"`
}

// listJSON — форма ответа GET /api/v1/files.
type listJSON struct {
	Files    []fileJSON `json:"files"`
	Page     int        `json:"page"`
	PageSize int        `json:"pageSize"`
	HasMore  bool       `json:"hasMore"`
	Total    int        `json:"total"`
}

// deleteResultJSON — элемент отчёта POST /api/v1/files/delete.
type deleteResultJSON struct {
	Filename    string    `json:"filename"`
	FileDetails *fileJSON `json:"fileDetails"`
	Errors      []string  `json:"errors"`
}

// newTestServer собирает полный HTTP стек сервиса поверх временных
// директорий и in-memory каталога. Write-операции аутентифицируются
// как subject "tester", retrieve остаётся анонимным.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	root := t.TempDir()
	dataDir := filepath.Join(root, "data")
	stagingDir := filepath.Join(root, "staging")
	if err := os.MkdirAll(stagingDir, 0o750); err != nil {
		t.Fatalf("ошибка создания staging: %v", err)
	}

	store, err := blobstore.New(dataDir)
	if err != nil {
		t.Fatalf("ошибка создания блоб-хранилища: %v", err)
	}
	walEngine, err := wal.New(filepath.Join(root, "wal"), logger)
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}

	cfg := &config.Config{
		DataDir:         dataDir,
		StagingDir:      stagingDir,
		MaxFileSize:     1 << 20,
		MaxUploadFiles:  10,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	}

	cat := catalog.NewMemoryCatalog()
	cache := service.NewCacheService(64, time.Minute)
	uploadSvc := service.NewUploadService(cat, store, walEngine, logger)
	retrieveSvc := service.NewRetrieveService(cat, store, cache, logger)
	deleteSvc := service.NewDeleteService(cat, store, cache, logger)

	parser := uploads.NewParser(stagingDir, cfg.MaxFileSize, cfg.MaxUploadFiles)
	files := handlers.NewFilesHandler(cfg, parser, uploadSvc, retrieveSvc, deleteSvc, cat)
	health := handlers.NewHealthHandler(dataDir, stagingDir, nil)

	// Retrieve без аутентификации: состояние остаётся нулевым
	passthrough := func(next http.Handler) http.Handler { return next }

	router := server.NewRouter(files, health, server.AuthMiddlewares{
		Required: middleware.AllowAll("tester"),
		Optional: passthrough,
	}, middleware.RequestLogger(logger))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

// buildUploadRequest собирает multipart запрос загрузки.
// files — пары имя файла / содержимое, ops — JSON опций ("" чтобы опустить).
func buildUploadRequest(t *testing.T, url string, files [][2]string, ops string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if ops != "" {
		if err := w.WriteField("ops", ops); err != nil {
			t.Fatalf("ошибка записи поля ops: %v", err)
		}
	}
	for _, f := range files {
		part, err := w.CreateFormFile("file", f[0])
		if err != nil {
			t.Fatalf("ошибка создания части: %v", err)
		}
		if _, err := part.Write([]byte(f[1])); err != nil {
			t.Fatalf("ошибка записи части: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("ошибка закрытия multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/files/upload", &buf)
	if err != nil {
		t.Fatalf("ошибка создания запроса: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

// uploadFiles загружает пакет и возвращает записи из ответа.
func uploadFiles(t *testing.T, srv *httptest.Server, files [][2]string, ops string) []fileJSON {
	t.Helper()

	resp, err := srv.Client().Do(buildUploadRequest(t, srv.URL, files, ops))
	if err != nil {
		t.Fatalf("ошибка запроса загрузки: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("ожидался 201, получен %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Files []fileJSON `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("ошибка разбора ответа: %v", err)
	}
	return result.Files
}

// TestAPI_UploadListRetrieveDelete проверяет полный жизненный цикл
// файла через HTTP API.
func TestAPI_UploadListRetrieveDelete(t *testing.T) {
	srv := newTestServer(t)

	records := uploadFiles(t, srv, [][2]string{
		{"report.pdf", "содержимое отчёта"},
		{"notes.txt", "заметки"},
	}, `{"isPrivate": false}`)

	if len(records) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(records))
	}
	for _, rec := range records {
		if rec.AuthorID != "tester" {
			t.Errorf("ожидался авторId=tester, получен %s", rec.AuthorID)
		}
		if rec.IsPrivate {
			t.Error("файлы загружены с isPrivate=false")
		}
		if rec.StorageName == "" || rec.ID == "" {
			t.Errorf("запись без идентификаторов: %+v", rec)
		}
	}

	// Список
	resp, err := srv.Client().Get(srv.URL + "/api/v1/files")
	if err != nil {
		t.Fatalf("ошибка запроса списка: %v", err)
	}
	var list listJSON
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("ошибка разбора списка: %v", err)
	}
	resp.Body.Close()
	if list.Total != 2 || len(list.Files) != 2 {
		t.Errorf("ожидалось 2 файла в списке, получено total=%d len=%d", list.Total, len(list.Files))
	}
	// Сортировка по умолчанию: по оригинальному имени
	if list.Files[0].OriginalFilename != "notes.txt" {
		t.Errorf("первым должен идти notes.txt, получен %s", list.Files[0].OriginalFilename)
	}

	// Скачивание публичного файла анонимом
	var report fileJSON
	for _, rec := range records {
		if rec.OriginalFilename == "report.pdf" {
			report = rec
		}
	}
	resp, err = srv.Client().Get(srv.URL + "/api/v1/files/" + report.StorageName)
	if err != nil {
		t.Fatalf("ошибка скачивания: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", resp.StatusCode)
	}
	if string(body) != "содержимое отчёта" {
		t.Errorf("тело не совпадает: %q", string(body))
	}
	cd := resp.Header.Get("Content-Disposition")
	if cd != `attachment; filename="report.pdf"` {
		t.Errorf("некорректный Content-Disposition: %q", cd)
	}

	// Удаление: существующее имя плюс несуществующее
	reqBody, _ := json.Marshal(map[string]any{
		"filenames": []string{report.StorageName, "no-such-name"},
	})
	resp, err = srv.Client().Post(srv.URL+"/api/v1/files/delete", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("ошибка запроса удаления: %v", err)
	}
	var delResp struct {
		Results []deleteResultJSON `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&delResp); err != nil {
		t.Fatalf("ошибка разбора отчёта: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", resp.StatusCode)
	}
	if len(delResp.Results) != 2 {
		t.Fatalf("ожидалось 2 элемента отчёта, получено %d", len(delResp.Results))
	}
	if delResp.Results[0].FileDetails == nil || len(delResp.Results[0].Errors) != 0 {
		t.Errorf("существующий файл: ожидалась запись без ошибок, получено %+v", delResp.Results[0])
	}
	if delResp.Results[1].FileDetails != nil || len(delResp.Results[1].Errors) == 0 {
		t.Errorf("несуществующее имя: ожидались ошибки без записи, получено %+v", delResp.Results[1])
	}

	// Удалённый файл больше не скачивается
	resp, err = srv.Client().Get(srv.URL + "/api/v1/files/" + report.StorageName)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("удалённый файл должен давать 404, получен %d", resp.StatusCode)
	}
}

// TestAPI_UploadDefaultPrivate проверяет приватность по умолчанию:
// без поля ops файл недоступен анониму.
func TestAPI_UploadDefaultPrivate(t *testing.T) {
	srv := newTestServer(t)

	records := uploadFiles(t, srv, [][2]string{{"secret.txt", "тайна"}}, "")
	if !records[0].IsPrivate {
		t.Error("без ops файл должен быть приватным")
	}

	resp, err := srv.Client().Get(srv.URL + "/api/v1/files/" + records[0].StorageName)
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("аноним должен получить 404 на приватный файл, получен %d", resp.StatusCode)
	}
}

// TestAPI_UploadBadOps проверяет 400 при некорректном JSON в ops.
func TestAPI_UploadBadOps(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Do(buildUploadRequest(t, srv.URL,
		[][2]string{{"a.txt", "данные"}}, "{не json"))
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("ожидался 400, получен %d", resp.StatusCode)
	}
}

// TestAPI_ListPagination проверяет постраничный обход через HTTP.
func TestAPI_ListPagination(t *testing.T) {
	srv := newTestServer(t)

	batch := make([][2]string, 0, 5)
	for i := 0; i < 5; i++ {
		batch = append(batch, [2]string{fmt.Sprintf("f-%d.txt", i), "данные"})
	}
	uploadFiles(t, srv, batch, "")

	fetch := func(query string) listJSON {
		resp, err := srv.Client().Get(srv.URL + "/api/v1/files" + query)
		if err != nil {
			t.Fatalf("ошибка запроса списка: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ожидался 200, получен %d", resp.StatusCode)
		}
		var list listJSON
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("ошибка разбора списка: %v", err)
		}
		return list
	}

	first := fetch("?page=1&pageSize=2")
	if len(first.Files) != 2 || !first.HasMore || first.Total != 5 {
		t.Errorf("страница 1: ожидалось 2 файла hasMore=true total=5, получено %+v", first)
	}
	last := fetch("?page=3&pageSize=2")
	if len(last.Files) != 1 || last.HasMore {
		t.Errorf("страница 3: ожидался 1 файл hasMore=false, получено %+v", last)
	}
	beyond := fetch("?page=10&pageSize=2")
	if len(beyond.Files) != 0 || beyond.HasMore {
		t.Errorf("страница за пределами: ожидался пустой список, получено %+v", beyond)
	}
}

// TestAPI_ListValidation проверяет 400 на некорректные параметры списка.
func TestAPI_ListValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, query := range []string{"?page=0", "?page=abc", "?pageSize=0", "?pageSize=xyz"} {
		resp, err := srv.Client().Get(srv.URL + "/api/v1/files" + query)
		if err != nil {
			t.Fatalf("ошибка запроса: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("запрос %s: ожидался 400, получен %d", query, resp.StatusCode)
		}
	}
}

// TestAPI_DeleteValidation проверяет 400 при отсутствии поля filenames
// и при некорректном JSON.
func TestAPI_DeleteValidation(t *testing.T) {
	srv := newTestServer(t)

	for _, body := range []string{`{}`, `не json`} {
		resp, err := srv.Client().Post(srv.URL+"/api/v1/files/delete", "application/json",
			bytes.NewReader([]byte(body)))
		if err != nil {
			t.Fatalf("ошибка запроса: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("тело %q: ожидался 400, получен %d", body, resp.StatusCode)
		}
	}

	// Пустой список имён валиден: пустой отчёт
	resp, err := srv.Client().Post(srv.URL+"/api/v1/files/delete", "application/json",
		bytes.NewReader([]byte(`{"filenames": []}`)))
	if err != nil {
		t.Fatalf("ошибка запроса: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("пустой список имён: ожидался 200, получен %d", resp.StatusCode)
	}
}

// TestAPI_Health проверяет health endpoints.
func TestAPI_Health(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("ошибка запроса %s: %v", path, err)
		}
		var body struct {
			Status  string `json:"status"`
			Service string `json:"service"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("ошибка разбора %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: ожидался 200, получен %d", path, resp.StatusCode)
		}
		if body.Status != "ok" || body.Service != "simple-storage" {
			t.Errorf("%s: неожиданное тело %+v", path, body)
		}
	}
}
