// Пакет wal — журнал упреждающей записи для пакетных загрузок.
// Каждая транзакция — отдельный JSON-файл в директории журнала.
// Запись файла атомарна (temp файл → fsync → rename), поэтому журнал
// никогда не содержит полузаписанных записей.
package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WAL — журнал транзакций пакетных загрузок.
type WAL struct {
	dir    string
	logger *slog.Logger
}

// New создаёт журнал в указанной директории.
// Директория создаётся при необходимости и проверяется на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin регистрирует начало пакетной загрузки и возвращает ID транзакции.
// Запись обязана попасть на диск до первого переноса блоба.
func (w *WAL) Begin(storageNames, stagedPaths []string) (string, error) {
	entry := &Entry{
		TransactionID: uuid.New().String(),
		StorageNames:  storageNames,
		StagedPaths:   stagedPaths,
		Status:        StatusPending,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return "", fmt.Errorf("ошибка записи транзакции в журнал: %w", err)
	}

	w.logger.Debug("Транзакция начата",
		slog.String("transaction_id", entry.TransactionID),
		slog.Int("files", len(storageNames)))

	return entry.TransactionID, nil
}

// Commit помечает транзакцию завершённой.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback помечает транзакцию откаченной.
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

func (w *WAL) finish(txID string, status Status) error {
	entry, err := w.readEntry(txID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("ошибка обновления транзакции %s: %w", txID, err)
	}

	w.logger.Debug("Транзакция завершена",
		slog.String("transaction_id", txID),
		slog.String("status", string(status)))

	return nil
}

// RecoverPending возвращает все pending записи журнала.
// Вызывается при старте: по каждой записи восстановление убирает
// осиротевшие блобы и остатки staging.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории журнала: %w", err)
	}

	var pending []*Entry
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".wal.json") {
			continue
		}

		txID := strings.TrimSuffix(de.Name(), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			// Битая запись журнала не должна блокировать старт
			w.logger.Warn("Пропуск нечитаемой записи журнала",
				slog.String("file", de.Name()),
				slog.String("error", err.Error()))
			continue
		}

		if entry.Status == StatusPending {
			pending = append(pending, entry)
		}
	}

	return pending, nil
}

// CleanFinished удаляет завершённые записи журнала старше maxAge.
func (w *WAL) CleanFinished(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории журнала: %w", err)
	}

	removed := 0
	cutoff := time.Now().UTC().Add(-maxAge)
	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".wal.json") {
			continue
		}

		txID := strings.TrimSuffix(de.Name(), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			continue
		}
		if entry.Status == StatusPending || entry.CompletedAt == nil {
			continue
		}
		if entry.CompletedAt.After(cutoff) {
			continue
		}

		if err := os.Remove(w.entryPath(txID)); err != nil {
			w.logger.Warn("Не удалось удалить запись журнала",
				slog.String("transaction_id", txID),
				slog.String("error", err.Error()))
			continue
		}
		removed++
	}

	return removed, nil
}

// writeEntry атомарно записывает запись журнала на диск.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	target := w.entryPath(entry.TransactionID)
	tmpPath := target + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает запись журнала по ID транзакции.
func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(w.entryPath(txID))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи журнала %s: %w", txID, err)
	}

	entry := &Entry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("ошибка разбора записи журнала %s: %w", txID, err)
	}

	return entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}

func (w *WAL) entryPath(txID string) string {
	return filepath.Join(w.dir, txID+".wal.json")
}
