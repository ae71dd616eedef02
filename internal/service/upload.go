// upload.go — координатор пакетной загрузки файлов.
//
// Порядок операций:
//  1. Валидация всего пакета до какого-либо I/O
//  2. Генерация storage name для каждого файла
//  3. WAL Begin
//  4. Параллельный перенос застейдженных файлов в блоб-хранилище
//  5. Вставка записей в каталог (только после успеха ВСЕХ переносов)
//  6. WAL Commit
//
// При любой ошибке на шагах 4-5 пакет откатывается целиком: перенесённые
// блобы удаляются, записи в каталог не попадают. Ошибки отката
// логируются, но не подменяют исходную ошибку.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/domain/model"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
	"github.com/methompson/met-simple-storage/internal/storage/wal"
)

// UploadService — сервис пакетной загрузки файлов.
type UploadService struct {
	cat       catalog.Catalog
	store     *blobstore.BlobStore
	walEngine *wal.WAL
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
func NewUploadService(
	cat catalog.Catalog,
	store *blobstore.BlobStore,
	walEngine *wal.WAL,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cat:       cat,
		store:     store,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload принимает пакет застейдженных файлов и атомарно фиксирует его:
// либо все файлы получают блоб и запись каталога, либо ни один.
// authorID — sub аутентифицированного пользователя.
// Пустой пакет — валидный запрос, возвращает пустой список.
func (s *UploadService) Upload(ctx context.Context, authorID string, payloads []model.UploadedPayload, isPrivate bool) ([]*model.FileRecord, error) {
	if len(payloads) == 0 {
		return []*model.FileRecord{}, nil
	}

	// 1. Валидация всего пакета до какого-либо I/O
	for i, p := range payloads {
		if p.StagedPath == "" {
			return nil, fmt.Errorf("%w: файл %d без staged path", ErrValidation, i)
		}
		if p.OriginalFilename == "" {
			return nil, fmt.Errorf("%w: файл %d без имени", ErrValidation, i)
		}
		if p.Size < 0 {
			return nil, fmt.Errorf("%w: файл %d с отрицательным размером", ErrValidation, i)
		}
	}
	if authorID == "" {
		return nil, fmt.Errorf("%w: отсутствует идентификатор автора", ErrValidation)
	}

	// 2. Генерация storage name и подготовка записей
	now := time.Now().UTC()
	storageNames := make([]string, len(payloads))
	stagedPaths := make([]string, len(payloads))
	newRecs := make([]model.NewFileRecord, len(payloads))
	for i, p := range payloads {
		storageNames[i] = uuid.New().String()
		stagedPaths[i] = p.StagedPath
		newRecs[i] = model.NewFileRecord{
			OriginalFilename: p.OriginalFilename,
			StorageName:      storageNames[i],
			DateAdded:        now,
			AuthorID:         authorID,
			Size:             p.Size,
			IsPrivate:        isPrivate,
		}
	}

	// 3. WAL Begin — запись журнала до первого переноса блоба
	txID, err := s.walEngine.Begin(storageNames, stagedPaths)
	if err != nil {
		s.removeStaged(stagedPaths)
		s.logger.Error("Ошибка создания WAL-транзакции", slog.String("error", err.Error()))
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: журнал недоступен", ErrUpload)
	}

	// 4. Параллельный перенос блобов
	commitErrs := make([]error, len(payloads))
	var wg sync.WaitGroup
	for i := range payloads {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			commitErrs[i] = s.store.Commit(stagedPaths[i], storageNames[i])
		}(i)
	}
	wg.Wait()

	var firstErr error
	for i, cerr := range commitErrs {
		if cerr != nil && firstErr == nil {
			firstErr = fmt.Errorf("файл %q: %w", payloads[i].OriginalFilename, cerr)
		}
	}

	rollback := func() {
		// Удаляем перенесённые блобы
		for i, cerr := range commitErrs {
			if cerr != nil {
				continue
			}
			if derr := s.store.DeleteOne(storageNames[i]); derr != nil && !errors.Is(derr, blobstore.ErrNotFound) {
				s.logger.Error("Ошибка отката блоба",
					slog.String("tx_id", txID),
					slog.String("storage_name", storageNames[i]),
					slog.String("error", derr.Error()),
				)
			}
		}
		// Убираем остатки staging у неперенесённых файлов
		for i, cerr := range commitErrs {
			if cerr != nil {
				_ = os.Remove(stagedPaths[i])
			}
		}
		if rbErr := s.walEngine.Rollback(txID); rbErr != nil {
			s.logger.Error("Ошибка отката WAL",
				slog.String("tx_id", txID),
				slog.String("error", rbErr.Error()),
			)
		}
	}

	if firstErr != nil {
		rollback()
		s.logger.Error("Пакет загрузки откачен: перенос блоба",
			slog.String("tx_id", txID),
			slog.String("error", firstErr.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUpload, firstErr.Error())
	}

	// 5. Вставка в каталог — только после успеха всех переносов
	records, err := s.cat.Insert(ctx, newRecs)
	if err != nil {
		// Все блобы перенесены, rollback удалит каждый
		rollback()
		s.logger.Error("Пакет загрузки откачен: вставка в каталог",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, fmt.Errorf("%w: каталог отклонил пакет", ErrUpload)
	}

	// 6. WAL Commit — данные уже зафиксированы, коммит best effort
	if err := s.walEngine.Commit(txID); err != nil {
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()
	middleware.FilesTotal.Add(float64(len(records)))

	s.logger.Info("Пакет загружен",
		slog.String("tx_id", txID),
		slog.Int("files", len(records)),
		slog.String("author_id", authorID),
		slog.Bool("is_private", isPrivate),
	)

	return records, nil
}

// RecoverTransaction доводит pending транзакцию до отката после рестарта.
// Блоб без записи в каталоге — осиротевший результат прерванной загрузки,
// удаляется. Блоб с записью в каталоге не трогается: такого не бывает
// при pending статусе, но проверка защищает от двойного восстановления.
func (s *UploadService) RecoverTransaction(ctx context.Context, entry *wal.Entry) error {
	removed := 0
	for _, name := range entry.StorageNames {
		if !s.store.Exists(name) {
			continue
		}

		_, err := s.cat.GetByStorageName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			return fmt.Errorf("проверка каталога при восстановлении: %w", err)
		}

		if derr := s.store.DeleteOne(name); derr != nil {
			s.logger.Error("Ошибка удаления осиротевшего блоба",
				slog.String("tx_id", entry.TransactionID),
				slog.String("storage_name", name),
				slog.String("error", derr.Error()),
			)
			continue
		}
		removed++
	}

	for _, staged := range entry.StagedPaths {
		_ = os.Remove(staged)
	}

	if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
		return fmt.Errorf("откат транзакции %s: %w", entry.TransactionID, err)
	}

	s.logger.Info("Транзакция восстановлена",
		slog.String("tx_id", entry.TransactionID),
		slog.Int("orphans_removed", removed),
	)

	return nil
}

// removeStaged убирает застейдженные файлы, перенос которых не начинался.
func (s *UploadService) removeStaged(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
