// delete.go — координатор пакетного удаления файлов.
// Каталог и блоб-хранилище чистятся параллельно, результаты сливаются
// в отчёт по каждому имени. Частичный успех — нормальный исход:
// ошибка одного имени не прерывает остальные.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/domain/model"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
)

// DeleteService — сервис пакетного удаления файлов.
type DeleteService struct {
	cat    catalog.Catalog
	store  *blobstore.BlobStore
	cache  *CacheService
	logger *slog.Logger
}

// NewDeleteService создаёт сервис удаления.
func NewDeleteService(
	cat catalog.Catalog,
	store *blobstore.BlobStore,
	cache *CacheService,
	logger *slog.Logger,
) *DeleteService {
	return &DeleteService{
		cat:    cat,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "delete_service")),
	}
}

// Delete удаляет указанные storage name'ы из каталога и блоб-хранилища.
// Возвращает отчёт в порядке входных имён: для каждого имени — удалённая
// запись каталога (если была) и список ошибок (если были).
// ErrDeletion возвращается только при отказе каталога целиком,
// когда достоверный отчёт сформировать невозможно.
func (s *DeleteService) Delete(ctx context.Context, storageNames []string) ([]model.DeleteReportEntry, error) {
	if len(storageNames) == 0 {
		return []model.DeleteReportEntry{}, nil
	}

	var (
		wg          sync.WaitGroup
		catOutcomes map[string]catalog.DeleteOutcome
		catErr      error
		blobErrs    map[string]error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		catOutcomes, catErr = s.cat.DeleteByStorageNames(ctx, storageNames)
	}()
	go func() {
		defer wg.Done()
		blobErrs = s.store.Delete(storageNames)
	}()
	wg.Wait()

	if catErr != nil {
		s.logger.Error("Пакетное удаление не выполнено: отказ каталога",
			slog.String("error", catErr.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrDeletion, catErr.Error())
	}

	// Слияние результатов в порядке входных имён
	report := make([]model.DeleteReportEntry, 0, len(storageNames))
	removed := 0
	for _, name := range storageNames {
		entry := model.DeleteReportEntry{Filename: name}

		outcome := catOutcomes[name]
		if outcome.Record != nil {
			entry.FileDetails = outcome.Record
			removed++
		}
		if outcome.Missing {
			entry.Errors = append(entry.Errors, "запись отсутствует в каталоге")
		}

		if berr := blobErrs[name]; berr != nil {
			if errors.Is(berr, blobstore.ErrNotFound) {
				entry.Errors = append(entry.Errors, "блоб отсутствует в хранилище")
			} else {
				entry.Errors = append(entry.Errors, berr.Error())
			}
		}

		s.cache.Delete(name)
		report = append(report, entry)
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	middleware.FilesTotal.Sub(float64(removed))

	s.logger.Info("Пакетное удаление завершено",
		slog.Int("requested", len(storageNames)),
		slog.Int("removed", removed),
	)

	return report, nil
}
