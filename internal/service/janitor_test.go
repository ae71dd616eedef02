package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newJanitor создаёт janitor с нулевым TTL: любой файл считается старым.
func newJanitor(env *testEnv, stagingTTL time.Duration) *Janitor {
	return NewJanitor(env.cat, env.store, env.wal, env.staging,
		time.Hour, stagingTTL, testLogger())
}

// TestJanitor_RemovesStaleStagingFiles проверяет удаление старых
// остатков staging.
func TestJanitor_RemovesStaleStagingFiles(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, 0)

	stale := env.stagePayload(t, "stale.txt", "остаток")

	result := j.RunOnce(context.Background())
	if result.StagingRemoved != 1 {
		t.Errorf("ожидался 1 удалённый staging файл, получено %d", result.StagingRemoved)
	}
	if _, err := os.Stat(stale.StagedPath); !os.IsNotExist(err) {
		t.Error("старый staging файл должен быть удалён")
	}
}

// TestJanitor_KeepsFreshStagingFiles проверяет, что свежие staging
// файлы не трогаются.
func TestJanitor_KeepsFreshStagingFiles(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, time.Hour)

	fresh := env.stagePayload(t, "fresh.txt", "идущая загрузка")

	result := j.RunOnce(context.Background())
	if result.StagingRemoved != 0 {
		t.Errorf("свежий staging файл не должен удаляться, удалено %d", result.StagingRemoved)
	}
	if _, err := os.Stat(fresh.StagedPath); err != nil {
		t.Error("свежий staging файл должен остаться")
	}
}

// TestJanitor_RemovesOrphanBlobs проверяет удаление блоба без записи
// в каталоге при сохранении блобов с записями.
func TestJanitor_RemovesOrphanBlobs(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, 0)
	ctx := context.Background()

	// Файл с записью в каталоге
	live := seedFile(t, env, "live.txt")

	// Осиротевший блоб без записи
	orphan := env.stagePayload(t, "orphan.txt", "сирота")
	if err := env.store.Commit(orphan.StagedPath, "orphan-blob"); err != nil {
		t.Fatalf("ошибка переноса: %v", err)
	}

	result := j.RunOnce(ctx)
	if result.OrphansRemoved != 1 {
		t.Errorf("ожидался 1 удалённый orphan, получено %d", result.OrphansRemoved)
	}
	if env.store.Exists("orphan-blob") {
		t.Error("осиротевший блоб должен быть удалён")
	}
	if !env.store.Exists(live.StorageName) {
		t.Error("блоб с записью в каталоге не должен удаляться")
	}
}

// TestJanitor_KeepsYoungOrphans проверяет возрастной порог:
// свежий блоб без записи не трогается (загрузка может идти сейчас).
func TestJanitor_KeepsYoungOrphans(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, time.Hour)

	young := env.stagePayload(t, "young.txt", "данные")
	if err := env.store.Commit(young.StagedPath, "young-blob"); err != nil {
		t.Fatalf("ошибка переноса: %v", err)
	}

	result := j.RunOnce(context.Background())
	if result.OrphansRemoved != 0 {
		t.Errorf("свежий orphan не должен удаляться, удалено %d", result.OrphansRemoved)
	}
	if !env.store.Exists("young-blob") {
		t.Error("свежий блоб должен остаться")
	}
}

// TestJanitor_CleansFinishedWAL проверяет очистку завершённых записей журнала.
func TestJanitor_CleansFinishedWAL(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, 0)

	tx, err := env.wal.Begin([]string{"n"}, []string{"/s"})
	if err != nil {
		t.Fatalf("ошибка начала транзакции: %v", err)
	}
	if err := env.wal.Commit(tx); err != nil {
		t.Fatalf("ошибка коммита: %v", err)
	}

	result := j.RunOnce(context.Background())
	if result.WALCleaned != 1 {
		t.Errorf("ожидалась 1 очищенная запись WAL, получено %d", result.WALCleaned)
	}
}

// TestJanitor_StartStop проверяет запуск и остановку фоновой горутины.
func TestJanitor_StartStop(t *testing.T) {
	env := newTestEnv(t)
	j := newJanitor(env, time.Hour)

	j.Start(context.Background())
	// Start делает первый прогон сразу, даём ему завершиться
	time.Sleep(50 * time.Millisecond)
	j.Stop()

	// Повторная остановка не должна паниковать
	j.Stop()

	// Директории не повреждены
	if _, err := os.Stat(filepath.Join(env.staging)); err != nil {
		t.Errorf("staging директория недоступна: %v", err)
	}
}
