// Пакет catalog — каталог метаданных файлов.
// Определяет интерфейс Catalog с двумя взаимозаменяемыми реализациями:
// in-memory (memory.go) и PostgreSQL через pgx (postgres.go).
// Реализация выбирается конфигурацией (SS_CATALOG), а не наследованием.
package catalog

import (
	"context"
	"errors"

	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// Ошибки каталога.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicate — storage name уже занят.
	ErrDuplicate = errors.New("storage name уже существует")
)

// DeleteOutcome — результат удаления одного имени в пакетном удалении.
// Либо Record заполнен (запись удалена), либо Missing=true (имени не было).
type DeleteOutcome struct {
	Record  *model.FileRecord
	Missing bool
}

// Catalog — интерфейс каталога метаданных.
// Каталог единолично владеет жизненным циклом FileRecord; байты файлов
// ему недоступны — связь с блоб-хранилищем только через StorageName.
type Catalog interface {
	// Insert назначает каждой записи ID, сохраняет пакет целиком
	// (всё или ничего) и возвращает полные записи в порядке входа.
	Insert(ctx context.Context, recs []model.NewFileRecord) ([]*model.FileRecord, error)

	// List возвращает страницу записей и флаг hasMore.
	// page — 1-индексированный; страница за пределами данных — пустой
	// список и hasMore=false.
	List(ctx context.Context, page, pageSize int, sortBy model.SortKey) ([]*model.FileRecord, bool, error)

	// GetByStorageName возвращает запись по storage name или ErrNotFound.
	GetByStorageName(ctx context.Context, name string) (*model.FileRecord, error)

	// DeleteByStorageNames удаляет каждое имя независимо. Отсутствующее
	// имя даёт DeleteOutcome{Missing: true}, но не прерывает пакет.
	// Ошибка возвращается только при отказе хранилища целиком.
	DeleteByStorageNames(ctx context.Context, names []string) (map[string]DeleteOutcome, error)

	// Count возвращает общее количество записей.
	Count(ctx context.Context) (int, error)
}
