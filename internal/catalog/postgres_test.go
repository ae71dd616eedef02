package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/methompson/met-simple-storage/internal/config"
	"github.com/methompson/met-simple-storage/internal/database"
	"github.com/methompson/met-simple-storage/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер и пул закрываются через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("storage_test"),
		postgres.WithUsername("storage"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	os.Setenv("SS_DATA_DIR", t.TempDir())
	os.Setenv("SS_STAGING_DIR", t.TempDir())
	os.Setenv("SS_CATALOG", "postgres")
	os.Setenv("SS_DB_HOST", host)
	os.Setenv("SS_DB_PORT", port.Port())
	os.Setenv("SS_DB_NAME", "storage_test")
	os.Setenv("SS_DB_USER", "storage")
	os.Setenv("SS_DB_PASSWORD", "test-password")
	os.Setenv("SS_DB_SSL_MODE", "disable")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// TestPostgresCatalog_InsertAndGet проверяет вставку пакета и поиск.
func TestPostgresCatalog_InsertAndGet(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(pool)

	inserted, err := cat.Insert(ctx, []model.NewFileRecord{
		{OriginalFilename: "a.txt", StorageName: "pg-s1", AuthorID: "author-1", Size: 10, IsPrivate: true},
		{OriginalFilename: "b.txt", StorageName: "pg-s2", AuthorID: "author-1", Size: 20, IsPrivate: false},
	})
	if err != nil {
		t.Fatalf("ошибка вставки пакета: %v", err)
	}
	if len(inserted) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(inserted))
	}

	rec, err := cat.GetByStorageName(ctx, "pg-s1")
	if err != nil {
		t.Fatalf("ошибка поиска записи: %v", err)
	}
	if rec.OriginalFilename != "a.txt" || !rec.IsPrivate {
		t.Errorf("поля записи не совпадают: %+v", rec)
	}

	if _, err := cat.GetByStorageName(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestPostgresCatalog_InsertDuplicateRollsBack проверяет, что коллизия
// storage name откатывает весь пакет.
func TestPostgresCatalog_InsertDuplicateRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(pool)

	if _, err := cat.Insert(ctx, []model.NewFileRecord{
		{OriginalFilename: "a.txt", StorageName: "dup-s1", AuthorID: "a"},
	}); err != nil {
		t.Fatalf("ошибка вставки: %v", err)
	}

	_, err := cat.Insert(ctx, []model.NewFileRecord{
		{OriginalFilename: "b.txt", StorageName: "dup-s2", AuthorID: "a"},
		{OriginalFilename: "c.txt", StorageName: "dup-s1", AuthorID: "a"},
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("ожидалась ErrDuplicate, получено: %v", err)
	}

	// Транзакция откачена целиком: dup-s2 не должен существовать
	if _, err := cat.GetByStorageName(ctx, "dup-s2"); !errors.Is(err, ErrNotFound) {
		t.Error("частичная вставка: dup-s2 не должен существовать")
	}
}

// TestPostgresCatalog_ListAndDelete проверяет пагинацию, сортировку
// и пакетное удаление с Missing.
func TestPostgresCatalog_ListAndDelete(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	cat := NewPostgresCatalog(pool)

	recs := make([]model.NewFileRecord, 0, 5)
	for i := 0; i < 5; i++ {
		recs = append(recs, model.NewFileRecord{
			OriginalFilename: fmt.Sprintf("list-%d.txt", i),
			StorageName:      fmt.Sprintf("list-s%d", i),
			AuthorID:         "a",
			Size:             int64(i),
		})
	}
	if _, err := cat.Insert(ctx, recs); err != nil {
		t.Fatalf("ошибка вставки: %v", err)
	}

	page1, hasMore, err := cat.List(ctx, 1, 3, model.SortByFilename)
	if err != nil {
		t.Fatalf("ошибка получения списка: %v", err)
	}
	if len(page1) != 3 || !hasMore {
		t.Errorf("ожидалась полная первая страница с hasMore=true, получено %d записей, hasMore=%v", len(page1), hasMore)
	}
	if page1[0].OriginalFilename != "list-0.txt" {
		t.Errorf("неверный порядок сортировки: %s", page1[0].OriginalFilename)
	}

	outcomes, err := cat.DeleteByStorageNames(ctx, []string{"list-s0", "missing", "list-s4"})
	if err != nil {
		t.Fatalf("ошибка пакетного удаления: %v", err)
	}
	if outcomes["list-s0"].Record == nil {
		t.Error("list-s0 должен быть удалён с возвратом записи")
	}
	if !outcomes["missing"].Missing {
		t.Error("missing должен быть помечен Missing")
	}

	count, err := cat.Count(ctx)
	if err != nil {
		t.Fatalf("ошибка подсчёта: %v", err)
	}
	if count != 3 {
		t.Errorf("ожидалось 3 оставшиеся записи, получено %d", count)
	}
}
