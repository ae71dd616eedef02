// postgres.go — PostgreSQL-реализация каталога метаданных через pgx.
// Пакетная вставка выполняется в одной транзакции (всё или ничего),
// пакетное удаление — одним DELETE … WHERE storage_name = ANY($1).
// Все запросы — чистый SQL, без ORM.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// fileColumns — список столбцов таблицы files для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const fileColumns = `id, original_filename, storage_name, date_added, author_id, size, is_private`

// Проверка соответствия интерфейсу на этапе компиляции.
var _ Catalog = (*PostgresCatalog)(nil)

// PostgresCatalog — каталог метаданных в PostgreSQL.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog создаёт каталог поверх пула подключений pgx.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// Insert вставляет пакет записей в одной транзакции.
// При любой ошибке транзакция откатывается — частичная вставка невозможна.
func (c *PostgresCatalog) Insert(ctx context.Context, recs []model.NewFileRecord) ([]*model.FileRecord, error) {
	if len(recs) == 0 {
		return []*model.FileRecord{}, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback после commit — no-op

	query := `
		INSERT INTO files (id, original_filename, storage_name, date_added, author_id, size, is_private)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

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

		_, err := tx.Exec(ctx, query,
			full.ID, full.OriginalFilename, full.StorageName,
			full.DateAdded, full.AuthorID, full.Size, full.IsPrivate,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicate, full.StorageName)
			}
			return nil, fmt.Errorf("ошибка вставки записи: %w", err)
		}
		result = append(result, full)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	return result, nil
}

// List возвращает страницу записей с сортировкой и флагом hasMore.
func (c *PostgresCatalog) List(ctx context.Context, page, pageSize int, sortBy model.SortKey) ([]*model.FileRecord, bool, error) {
	if page < 1 || pageSize < 1 {
		return []*model.FileRecord{}, false, nil
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(
		`SELECT %s FROM files %s LIMIT $1 OFFSET $2`,
		fileColumns, buildOrderBy(sortBy),
	)

	rows, err := c.pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	defer rows.Close()

	result := []*model.FileRecord{}
	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, false, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	total, err := c.Count(ctx)
	if err != nil {
		return nil, false, err
	}

	return result, page*pageSize < total, nil
}

// GetByStorageName возвращает запись по storage name или ErrNotFound.
func (c *PostgresCatalog) GetByStorageName(ctx context.Context, name string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE storage_name = $1`, fileColumns)

	rec, err := scanFileRecord(c.pool.QueryRow(ctx, query, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// DeleteByStorageNames удаляет все указанные имена одним запросом.
// Имена, отсутствовавшие в таблице, получают Missing=true.
func (c *PostgresCatalog) DeleteByStorageNames(ctx context.Context, names []string) (map[string]DeleteOutcome, error) {
	outcomes := make(map[string]DeleteOutcome, len(names))
	if len(names) == 0 {
		return outcomes, nil
	}

	query := fmt.Sprintf(
		`DELETE FROM files WHERE storage_name = ANY($1) RETURNING %s`,
		fileColumns,
	)

	rows, err := c.pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("ошибка пакетного удаления: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanFileRecord(rows)
		if err != nil {
			return nil, err
		}
		outcomes[rec.StorageName] = DeleteOutcome{Record: rec}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов удаления: %w", err)
	}

	for _, name := range names {
		if _, ok := outcomes[name]; !ok {
			outcomes[name] = DeleteOutcome{Missing: true}
		}
	}

	return outcomes, nil
}

// Count возвращает общее количество записей.
func (c *PostgresCatalog) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

// scanFileRecord сканирует одну строку в FileRecord.
func scanFileRecord(row pgx.Row) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	err := row.Scan(
		&rec.ID, &rec.OriginalFilename, &rec.StorageName,
		&rec.DateAdded, &rec.AuthorID, &rec.Size, &rec.IsPrivate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
	}
	return rec, nil
}

// buildOrderBy строит ORDER BY с безопасным whitelist полей.
// Вторичный ключ — id для детерминированного порядка страниц.
func buildOrderBy(sortBy model.SortKey) string {
	switch sortBy {
	case model.SortByDateAdded:
		return "ORDER BY date_added ASC, id ASC"
	default:
		return "ORDER BY original_filename ASC, id ASC"
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением
// уникального ограничения (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
