// janitor.go — фоновая очистка хранилища.
//
// Janitor выполняет три задачи:
//  1. Удаляет из staging файлы старше SS_STAGING_TTL (остатки прерванных загрузок)
//  2. Удаляет осиротевшие блобы: файл на диске есть, записи в каталоге нет
//  3. Чистит завершённые записи WAL
//
// Запускается как горутина с периодическим тикером (SS_JANITOR_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
	"github.com/methompson/met-simple-storage/internal/storage/wal"
)

// Prometheus метрики janitor
var (
	// janitorRunsTotal — количество запусков janitor.
	janitorRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_janitor_runs_total",
		Help: "Общее количество запусков janitor",
	})

	// janitorStagingRemovedTotal — удалённые остатки staging.
	janitorStagingRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_janitor_staging_removed_total",
		Help: "Общее количество удалённых staging файлов",
	})

	// janitorOrphansRemovedTotal — удалённые осиротевшие блобы.
	janitorOrphansRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ss_janitor_orphans_removed_total",
		Help: "Общее количество удалённых осиротевших блобов",
	})

	// janitorDurationSeconds — длительность выполнения janitor.
	janitorDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ss_janitor_duration_seconds",
		Help:    "Длительность выполнения janitor в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// JanitorResult — результат одного запуска janitor.
type JanitorResult struct {
	// StagingRemoved — количество удалённых staging файлов
	StagingRemoved int
	// OrphansRemoved — количество удалённых осиротевших блобов
	OrphansRemoved int
	// WALCleaned — количество удалённых завершённых записей WAL
	WALCleaned int
	// Errors — количество ошибок при обработке
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Janitor — сервис фоновой очистки.
type Janitor struct {
	cat        catalog.Catalog
	store      *blobstore.BlobStore
	walEngine  *wal.WAL
	stagingDir string
	interval   time.Duration
	stagingTTL time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewJanitor создаёт сервис фоновой очистки.
func NewJanitor(
	cat catalog.Catalog,
	store *blobstore.BlobStore,
	walEngine *wal.WAL,
	stagingDir string,
	interval time.Duration,
	stagingTTL time.Duration,
	logger *slog.Logger,
) *Janitor {
	return &Janitor{
		cat:        cat,
		store:      store,
		walEngine:  walEngine,
		stagingDir: stagingDir,
		interval:   interval,
		stagingTTL: stagingTTL,
		logger:     logger.With(slog.String("component", "janitor")),
	}
}

// Start запускает фоновую горутину janitor с периодическим тикером.
// Вызывается один раз при старте приложения.
func (j *Janitor) Start(ctx context.Context) {
	jCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	go j.run(jCtx)

	j.logger.Info("Janitor запущен",
		slog.String("interval", j.interval.String()),
		slog.String("staging_ttl", j.stagingTTL.String()),
	)
}

// Stop останавливает фоновый процесс janitor.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.logger.Info("Janitor остановлен")
}

// run — основной цикл фоновой горутины.
func (j *Janitor) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	j.RunOnce(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (j *Janitor) RunOnce(ctx context.Context) *JanitorResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	result := &JanitorResult{}

	j.logger.Debug("Janitor запуск начат")

	cutoff := time.Now().Add(-j.stagingTTL)

	// Фаза 1: остатки staging
	result.StagingRemoved, result.Errors = j.sweepStaging(cutoff)

	// Фаза 2: осиротевшие блобы
	orphans, errs := j.sweepOrphans(ctx, cutoff)
	result.OrphansRemoved = orphans
	result.Errors += errs

	// Фаза 3: завершённые записи WAL
	cleaned, err := j.walEngine.CleanFinished(j.stagingTTL)
	if err != nil {
		j.logger.Error("Janitor: ошибка очистки WAL", slog.String("error", err.Error()))
		result.Errors++
	}
	result.WALCleaned = cleaned

	result.Duration = time.Since(start)

	janitorRunsTotal.Inc()
	janitorStagingRemovedTotal.Add(float64(result.StagingRemoved))
	janitorOrphansRemovedTotal.Add(float64(result.OrphansRemoved))
	janitorDurationSeconds.Observe(result.Duration.Seconds())

	j.logger.Info("Janitor завершён",
		slog.Int("staging_removed", result.StagingRemoved),
		slog.Int("orphans_removed", result.OrphansRemoved),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// sweepStaging удаляет из staging файлы старше cutoff.
func (j *Janitor) sweepStaging(cutoff time.Time) (removed, errs int) {
	entries, err := os.ReadDir(j.stagingDir)
	if err != nil {
		j.logger.Error("Janitor: ошибка чтения staging", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs++
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(j.stagingDir, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Error("Janitor: ошибка удаления staging файла",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			errs++
			continue
		}
		removed++
	}

	return removed, errs
}

// sweepOrphans удаляет блобы без записи в каталоге, старше cutoff.
// Возрастной порог защищает загрузки, идущие прямо сейчас: их блобы
// уже на диске, а запись каталога ещё не вставлена.
func (j *Janitor) sweepOrphans(ctx context.Context, cutoff time.Time) (removed, errs int) {
	names, err := j.store.ListNames()
	if err != nil {
		j.logger.Error("Janitor: ошибка сканирования блобов", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, name := range names {
		_, err := j.cat.GetByStorageName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, catalog.ErrNotFound) {
			// Каталог недоступен: прерываем фазу, иначе можно снести живые блобы
			j.logger.Error("Janitor: каталог недоступен, фаза orphan пропущена",
				slog.String("error", err.Error()),
			)
			return removed, errs + 1
		}

		modTime, merr := j.store.ModTime(name)
		if merr != nil || modTime.After(cutoff) {
			continue
		}

		if derr := j.store.DeleteOne(name); derr != nil {
			if errors.Is(derr, blobstore.ErrNotFound) {
				continue
			}
			j.logger.Error("Janitor: ошибка удаления осиротевшего блоба",
				slog.String("storage_name", name),
				slog.String("error", derr.Error()),
			)
			errs++
			continue
		}

		j.logger.Debug("Janitor: осиротевший блоб удалён", slog.String("storage_name", name))
		removed++
	}

	return removed, errs
}
