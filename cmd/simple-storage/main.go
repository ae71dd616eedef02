// Точка входа сервиса хранения файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/methompson/met-simple-storage/internal/api/handlers"
	"github.com/methompson/met-simple-storage/internal/api/middleware"
	"github.com/methompson/met-simple-storage/internal/catalog"
	"github.com/methompson/met-simple-storage/internal/config"
	"github.com/methompson/met-simple-storage/internal/database"
	"github.com/methompson/met-simple-storage/internal/server"
	"github.com/methompson/met-simple-storage/internal/service"
	"github.com/methompson/met-simple-storage/internal/storage/blobstore"
	"github.com/methompson/met-simple-storage/internal/storage/wal"
	"github.com/methompson/met-simple-storage/internal/uploads"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Сервис хранения запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("catalog", cfg.Catalog),
		slog.String("data_dir", cfg.DataDir),
	)

	// --- Инициализация компонентов ---

	// 1. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Блоб-хранилище
	store, err := blobstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации блоб-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Staging директория
	if err := os.MkdirAll(cfg.StagingDir, 0o750); err != nil {
		logger.Error("Ошибка создания staging директории", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()

	// 4. Каталог метаданных
	var (
		cat            catalog.Catalog
		catalogChecker handlers.ReadinessChecker
	)
	switch cfg.Catalog {
	case config.CatalogPostgres:
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		cat = catalog.NewPostgresCatalog(pool)
		catalogChecker = database.NewReadinessChecker(pool)
	default:
		cat = catalog.NewMemoryCatalog()
		logger.Warn("Каталог метаданных in-memory: записи не переживут рестарт")
	}

	// 5. Кэш и сервисы
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL)
	uploadSvc := service.NewUploadService(cat, store, walEngine, logger)
	retrieveSvc := service.NewRetrieveService(cat, store, cache, logger)
	deleteSvc := service.NewDeleteService(cat, store, cache, logger)

	// 6. WAL recovery: доводим pending транзакции до отката
	pending, err := walEngine.RecoverPending()
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if len(pending) > 0 {
		logger.Warn("Обнаружены незавершённые WAL-транзакции, откатываем",
			slog.Int("count", len(pending)),
		)
		for _, entry := range pending {
			if rErr := uploadSvc.RecoverTransaction(ctx, entry); rErr != nil {
				logger.Error("Ошибка восстановления WAL-транзакции",
					slog.String("tx_id", entry.TransactionID),
					slog.String("error", rErr.Error()),
				)
			}
		}
	}

	// Начальное значение gauge количества файлов
	if count, cErr := cat.Count(ctx); cErr == nil {
		middleware.FilesTotal.Set(float64(count))
	}

	// 7. Janitor — фоновая очистка staging и осиротевших блобов
	janitor := service.NewJanitor(cat, store, walEngine, cfg.StagingDir,
		cfg.JanitorInterval, cfg.StagingTTL, logger)
	janitor.Start(ctx)

	// 8. JWT middleware
	openAccess := middleware.AllowAll("anonymous")
	auth := server.AuthMiddlewares{
		Required: openAccess,
		Optional: openAccess,
	}
	if cfg.JWKSUrl == "" {
		logger.Warn("SS_JWKS_URL не задан, запуск без аутентификации")
	} else {
		jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			ClientTimeout:   cfg.HTTPReadTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			// JWKS недоступен — запускаем без аутентификации (для разработки)
			logger.Warn("JWT JWKS недоступен, запуск без аутентификации",
				slog.String("jwks_url", cfg.JWKSUrl),
				slog.String("error", err.Error()),
			)
		} else {
			auth = server.AuthMiddlewares{
				Required: jwtAuth.Required(),
				Optional: jwtAuth.Optional(),
			}
			logger.Info("JWT аутентификация настроена",
				slog.String("jwks_url", cfg.JWKSUrl),
			)
		}
	}

	// 9. Handlers и роутер
	parser := uploads.NewParser(cfg.StagingDir, cfg.MaxFileSize, cfg.MaxUploadFiles)
	filesHandler := handlers.NewFilesHandler(cfg, parser, uploadSvc, retrieveSvc, deleteSvc, cat)
	healthHandler := handlers.NewHealthHandler(cfg.DataDir, cfg.StagingDir, catalogChecker)

	router := server.NewRouter(filesHandler, healthHandler, auth, middleware.RequestLogger(logger))

	// 10. Запуск HTTP-сервера
	srv := server.New(cfg, logger, router)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	janitor.Stop()

	logger.Info("Сервис хранения остановлен")
}
