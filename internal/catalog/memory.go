// memory.go — in-memory реализация каталога метаданных.
// Потокобезопасная map под sync.RWMutex, ключ — storage name.
// Не персистентная: при рестарте каталог пуст. Предназначена для
// разработки и тестов (SS_CATALOG=memory).
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// Проверка соответствия интерфейсу на этапе компиляции.
var _ Catalog = (*MemoryCatalog)(nil)

// MemoryCatalog — каталог метаданных в памяти.
type MemoryCatalog struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord // storage name → запись
}

// NewMemoryCatalog создаёт пустой in-memory каталог.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		files: make(map[string]*model.FileRecord),
	}
}

// Insert назначает ID каждой записи и сохраняет пакет целиком.
// Коллизия storage name внутри пакета или с существующей записью
// отклоняет весь пакет (всё или ничего), ничего не записывая.
func (c *MemoryCatalog) Insert(ctx context.Context, recs []model.NewFileRecord) ([]*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Проверка коллизий до каких-либо изменений
	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		if seen[rec.StorageName] {
			return nil, ErrDuplicate
		}
		if _, ok := c.files[rec.StorageName]; ok {
			return nil, ErrDuplicate
		}
		seen[rec.StorageName] = true
	}

	result := make([]*model.FileRecord, 0, len(recs))
	for _, rec := range recs {
		full := &model.FileRecord{
			ID:               uuid.New().String(),
			OriginalFilename: rec.OriginalFilename,
			StorageName:      rec.StorageName,
			DateAdded:        touchDateAdded(rec.DateAdded),
			AuthorID:         rec.AuthorID,
			Size:             rec.Size,
			IsPrivate:        rec.IsPrivate,
		}
		c.files[full.StorageName] = full

		copied := *full
		result = append(result, &copied)
	}

	return result, nil
}

// List возвращает страницу записей в указанном порядке сортировки.
func (c *MemoryCatalog) List(ctx context.Context, page, pageSize int, sortBy model.SortKey) ([]*model.FileRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	all := make([]*model.FileRecord, 0, len(c.files))
	for _, rec := range c.files {
		copied := *rec
		all = append(all, &copied)
	}
	c.mu.RUnlock()

	sortRecords(all, sortBy)

	total := len(all)
	offset := (page - 1) * pageSize
	if page < 1 || offset >= total {
		return []*model.FileRecord{}, false, nil
	}

	end := offset + pageSize
	if end > total {
		end = total
	}

	hasMore := page*pageSize < total
	return all[offset:end], hasMore, nil
}

// GetByStorageName возвращает копию записи или ErrNotFound.
func (c *MemoryCatalog) GetByStorageName(ctx context.Context, name string) (*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.files[name]
	if !ok {
		return nil, ErrNotFound
	}

	copied := *rec
	return &copied, nil
}

// DeleteByStorageNames удаляет каждое имя независимо.
// Отсутствующие имена попадают в результат с Missing=true.
func (c *MemoryCatalog) DeleteByStorageNames(ctx context.Context, names []string) (map[string]DeleteOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make(map[string]DeleteOutcome, len(names))
	for _, name := range names {
		rec, ok := c.files[name]
		if !ok {
			outcomes[name] = DeleteOutcome{Missing: true}
			continue
		}
		delete(c.files, name)

		copied := *rec
		outcomes[name] = DeleteOutcome{Record: &copied}
	}

	return outcomes, nil
}

// Count возвращает количество записей в каталоге.
func (c *MemoryCatalog) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files), nil
}

// sortRecords сортирует записи по указанному ключу.
// Вторичный ключ — ID, чтобы порядок был детерминирован при равных значениях.
func sortRecords(recs []*model.FileRecord, sortBy model.SortKey) {
	switch sortBy {
	case model.SortByDateAdded:
		sort.Slice(recs, func(i, j int) bool {
			if !recs[i].DateAdded.Equal(recs[j].DateAdded) {
				return recs[i].DateAdded.Before(recs[j].DateAdded)
			}
			return recs[i].ID < recs[j].ID
		})
	default:
		sort.Slice(recs, func(i, j int) bool {
			if recs[i].OriginalFilename != recs[j].OriginalFilename {
				return recs[i].OriginalFilename < recs[j].OriginalFilename
			}
			return recs[i].ID < recs[j].ID
		})
	}
}

// touchDateAdded нормализует нулевое время к текущему UTC.
// Каталог не должен хранить записи без даты добавления.
func touchDateAdded(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
