// Пакет blobstore — операции с физическими блобами на диске.
// Блобы хранятся плоско в корневой директории, имя файла — storage name.
// Запись атомарна: перенос застейдженного файла через os.Rename,
// при переносе между файловыми системами — копирование с fsync
// и последующим atomic rename.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Ошибки блоб-хранилища.
var (
	// ErrNotFound — блоб не найден.
	ErrNotFound = errors.New("блоб не найден")
	// ErrAlreadyExists — блоб с таким storage name уже существует.
	ErrAlreadyExists = errors.New("блоб уже существует")
)

// BlobStore — управление физическими блобами на диске.
type BlobStore struct {
	// dataDir — корневая директория хранения блобов (SS_DATA_DIR)
	dataDir string
}

// New создаёт BlobStore. Создаёт корневую директорию, если она
// не существует, и проверяет доступность на запись через temp файл.
// Недоступная для записи директория — фатальная ошибка запуска,
// решение о завершении процесса принимает вызывающий код.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию блобов %s: %w", dataDir, err)
	}

	testFile := filepath.Join(dataDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория блобов %s недоступна для записи: %w", dataDir, err)
	}
	os.Remove(testFile)

	return &BlobStore{dataDir: dataDir}, nil
}

// Commit атомарно переносит застейдженный файл в хранилище под storageName.
// Коллизия с существующим блобом — ошибка: storage name обязан быть уникальным.
func (bs *BlobStore) Commit(stagedPath, storageName string) error {
	target := bs.FullPath(storageName)

	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, storageName)
	}

	if err := os.Rename(stagedPath, target); err == nil {
		return nil
	}

	// Rename не сработал (например, staging на другой ФС) —
	// копируем через temp файл с fsync и атомарным rename.
	if err := bs.copyCommit(stagedPath, target); err != nil {
		return err
	}
	if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления застейдженного файла %s: %w", stagedPath, err)
	}
	return nil
}

// copyCommit копирует staged файл в target по паттерну
// temp файл → запись → fsync → atomic rename.
func (bs *BlobStore) copyCommit(stagedPath, target string) error {
	src, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("ошибка открытия застейдженного файла %s: %w", stagedPath, err)
	}
	defer src.Close()

	tmpPath := target + ".tmp"
	dst, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Open открывает блоб для чтения. Вызывающий код обязан закрыть файл.
func (bs *BlobStore) Open(storageName string) (*os.File, error) {
	f, err := os.Open(bs.FullPath(storageName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storageName)
		}
		return nil, fmt.Errorf("ошибка открытия блоба %s: %w", storageName, err)
	}
	return f, nil
}

// Exists проверяет существование блоба.
func (bs *BlobStore) Exists(storageName string) bool {
	_, err := os.Stat(bs.FullPath(storageName))
	return err == nil
}

// ModTime возвращает время последнего изменения блоба.
func (bs *BlobStore) ModTime(storageName string) (time.Time, error) {
	info, err := os.Stat(bs.FullPath(storageName))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, storageName)
		}
		return time.Time{}, fmt.Errorf("ошибка stat блоба %s: %w", storageName, err)
	}
	return info.ModTime(), nil
}

// DeleteOne удаляет один блоб. Отсутствующий блоб — ErrNotFound:
// в пакетном удалении это отражается в отчёте по конкретному имени.
func (bs *BlobStore) DeleteOne(storageName string) error {
	err := os.Remove(bs.FullPath(storageName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, storageName)
		}
		return fmt.Errorf("ошибка удаления блоба %s: %w", storageName, err)
	}
	return nil
}

// Delete удаляет каждый блоб независимо и возвращает результат
// по каждому имени. Ошибка одного имени не прерывает пакет.
func (bs *BlobStore) Delete(storageNames []string) map[string]error {
	outcomes := make(map[string]error, len(storageNames))
	for _, name := range storageNames {
		outcomes[name] = bs.DeleteOne(name)
	}
	return outcomes
}

// ListNames возвращает storage name'ы всех блобов в хранилище.
// Служебные файлы (скрытые, *.tmp) и поддиректории пропускаются.
func (bs *BlobStore) ListNames() ([]string, error) {
	entries, err := os.ReadDir(bs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории блобов: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// FullPath возвращает абсолютный путь блоба на диске.
// Имя всегда проходит через Sanitize: пользовательские данные
// не должны попадать в путь без очистки.
func (bs *BlobStore) FullPath(storageName string) string {
	return filepath.Join(bs.dataDir, Sanitize(storageName))
}

// DataDir возвращает путь к корневой директории блобов.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}

// Sanitize очищает строку для использования как сегмент пути:
// всё вне [A-Za-z0-9._-] заменяется на '_', повторные '_' схлопываются.
func Sanitize(s string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-'
		switch {
		case ok:
			b.WriteRune(r)
			prevUnderscore = false
		case !prevUnderscore:
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	result := b.String()
	if result == "" {
		return "_"
	}
	return result
}
