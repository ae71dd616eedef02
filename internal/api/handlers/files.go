// files.go — HTTP handlers файловых операций.
// Upload, List, Retrieve, Delete.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	apierrors "github.com/methompson/met-simple-storage/internal/api/errors"
	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/config"
	"github.com/methompson/met-simple-storage/internal/domain/model"
	"github.com/methompson/met-simple-storage/internal/service"
	"github.com/methompson/met-simple-storage/internal/uploads"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	cfg         *config.Config
	parser      *uploads.Parser
	uploadSvc   *service.UploadService
	retrieveSvc *service.RetrieveService
	deleteSvc   *service.DeleteService
	cat         catalog.Catalog
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	cfg *config.Config,
	parser *uploads.Parser,
	uploadSvc *service.UploadService,
	retrieveSvc *service.RetrieveService,
	deleteSvc *service.DeleteService,
	cat catalog.Catalog,
) *FilesHandler {
	return &FilesHandler{
		cfg:         cfg,
		parser:      parser,
		uploadSvc:   uploadSvc,
		retrieveSvc: retrieveSvc,
		deleteSvc:   deleteSvc,
		cat:         cat,
	}
}

// Upload обрабатывает POST /api/v1/files/upload.
// Multipart form: file (повторяется для каждого файла пакета),
// ops (опционально, JSON с опциями пакета).
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	subject := middleware.SubjectFromContext(r.Context())

	result, err := h.parser.Parse(r)
	if err != nil {
		switch {
		case errors.Is(err, uploads.ErrFileTooLarge):
			apierrors.FileTooLarge(w, err.Error())
		case errors.Is(err, uploads.ErrTooManyFiles):
			apierrors.TooManyFiles(w, err.Error())
		case errors.Is(err, uploads.ErrBadOptions):
			apierrors.ValidationError(w, err.Error())
		default:
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		}
		return
	}

	records, err := h.uploadSvc.Upload(r.Context(), subject, result.Payloads, result.Options.IsPrivate)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, err.Error())
			return
		}
		apierrors.UploadError(w, "Пакет загрузки не выполнен и откачен")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"files": records,
	})
}

// List обрабатывает GET /api/v1/files.
// Query параметры: page (1-индексированный), pageSize, sortBy (filename, dateAdded).
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр page: %q", raw))
			return
		}
		page = n
	}

	pageSize := h.cfg.DefaultPageSize
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр pageSize: %q", raw))
			return
		}
		if n > h.cfg.MaxPageSize {
			n = h.cfg.MaxPageSize
		}
		pageSize = n
	}

	sortBy := model.ParseSortKey(r.URL.Query().Get("sortBy"))

	records, hasMore, err := h.cat.List(r.Context(), page, pageSize, sortBy)
	if err != nil {
		apierrors.InternalError(w, "Ошибка получения списка файлов")
		return
	}

	total, err := h.cat.Count(r.Context())
	if err != nil {
		apierrors.InternalError(w, "Ошибка подсчёта файлов")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"files":    records,
		"page":     page,
		"pageSize": pageSize,
		"hasMore":  hasMore,
		"total":    total,
	})
}

// Retrieve обрабатывает GET /api/v1/files/{storageName}.
// Доступ к приватным файлам — только с валидным JWT; отказ выглядит как 404.
func (h *FilesHandler) Retrieve(w http.ResponseWriter, r *http.Request, storageName string) {
	auth := middleware.AuthStateFromContext(r.Context())

	if rerr := h.retrieveSvc.Serve(w, r, storageName, auth); rerr != nil {
		apierrors.WriteError(w, rerr.StatusCode, rerr.Code, rerr.Message)
	}
}

// deleteRequest — тело POST /api/v1/files/delete.
type deleteRequest struct {
	Filenames []string `json:"filenames"`
}

// Delete обрабатывает POST /api/v1/files/delete.
// Тело: {"filenames": ["<storage name>", ...]}.
// Ответ — отчёт по каждому имени в порядке запроса.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %s", err.Error()))
		return
	}
	if req.Filenames == nil {
		apierrors.ValidationError(w, "Поле filenames обязательно")
		return
	}

	report, err := h.deleteSvc.Delete(r.Context(), req.Filenames)
	if err != nil {
		apierrors.DeletionError(w, "Пакетное удаление не выполнено")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": report,
	})
}

// writeJSON сериализует ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
