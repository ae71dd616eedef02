// retrieve.go — сервис скачивания файлов с политикой доступа.
// Приватные файлы доступны только аутентифицированным запросам;
// отказ в доступе наружу неотличим от отсутствия файла.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "github.com/methompson/met-simple-storage/internal/api/errors"
	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/domain/model"
	"github.com/methompson/met-simple-storage/internal/domain/policy"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
)

// RetrieveError — ошибка скачивания с HTTP-кодом.
type RetrieveError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RetrieveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// notFoundError возвращает единый ответ 404 для всех причин недоступности:
// нет записи в каталоге, нет блоба на диске, отказ политики доступа.
// Одинаковый ответ не позволяет перебором выяснять существование
// приватных файлов.
func notFoundError(storageName string) *RetrieveError {
	return &RetrieveError{
		StatusCode: http.StatusNotFound,
		Code:       apierrors.CodeNotFound,
		Message:    fmt.Sprintf("Файл %s не найден", storageName),
	}
}

// RetrieveService — сервис скачивания файлов.
type RetrieveService struct {
	cat    catalog.Catalog
	store  *blobstore.BlobStore
	cache  *CacheService
	logger *slog.Logger
}

// NewRetrieveService создаёт сервис скачивания.
func NewRetrieveService(
	cat catalog.Catalog,
	store *blobstore.BlobStore,
	cache *CacheService,
	logger *slog.Logger,
) *RetrieveService {
	return &RetrieveService{
		cat:    cat,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "retrieve_service")),
	}
}

// Serve отдаёт файл клиенту через http.ServeContent.
// Поддерживает Range requests (206 Partial Content).
func (s *RetrieveService) Serve(w http.ResponseWriter, r *http.Request, storageName string, auth middleware.AuthState) *RetrieveError {
	rec, rerr := s.resolve(r.Context(), storageName, auth)
	if rerr != nil {
		return rerr
	}

	file, err := s.store.Open(storageName)
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.logger.Error("Ошибка открытия блоба",
				slog.String("storage_name", storageName),
				slog.String("error", err.Error()),
			)
			return &RetrieveError{
				StatusCode: http.StatusInternalServerError,
				Code:       apierrors.CodeInternalError,
				Message:    "Ошибка чтения файла",
			}
		}
		// Запись есть, блоба нет: рассинхронизация каталога и диска.
		// Наружу — тот же 404, внутрь — warning для janitor/оператора.
		s.logger.Warn("Запись каталога без блоба на диске",
			slog.String("storage_name", storageName),
		)
		return notFoundError(storageName)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		s.logger.Error("Ошибка получения stat блоба",
			slog.String("storage_name", storageName),
			slog.String("error", err.Error()),
		)
		return &RetrieveError{
			StatusCode: http.StatusInternalServerError,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.OriginalFilename))
	w.Header().Set("Accept-Ranges", "bytes")

	// http.ServeContent обрабатывает Range, If-Modified-Since, Content-Length
	http.ServeContent(w, r, rec.OriginalFilename, stat.ModTime(), file)

	middleware.OperationsTotal.WithLabelValues("retrieve", "success").Inc()

	s.logger.Debug("Файл отдан",
		slog.String("storage_name", storageName),
		slog.String("filename", rec.OriginalFilename),
		slog.Int64("size", rec.Size),
		slog.Bool("authenticated", auth.Authenticated),
	)

	return nil
}

// resolve находит запись каталога и применяет политику доступа.
func (s *RetrieveService) resolve(ctx context.Context, storageName string, auth middleware.AuthState) (*model.FileRecord, *RetrieveError) {
	rec, ok := s.cache.Get(storageName)
	if !ok {
		var err error
		rec, err = s.cat.GetByStorageName(ctx, storageName)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, notFoundError(storageName)
			}
			s.logger.Error("Ошибка каталога при скачивании",
				slog.String("storage_name", storageName),
				slog.String("error", err.Error()),
			)
			return nil, &RetrieveError{
				StatusCode: http.StatusInternalServerError,
				Code:       apierrors.CodeInternalError,
				Message:    "Ошибка каталога",
			}
		}
		s.cache.Set(storageName, rec)
	}

	if !policy.CanRetrieve(rec.IsPrivate, auth.Authenticated) {
		// Тот же ответ, что и для несуществующего файла
		return nil, notFoundError(storageName)
	}

	return rec, nil
}
