// router.go — сборка chi-маршрутов сервиса.
// Write-операции (upload, list, delete) требуют валидный JWT.
// Retrieve помечается состоянием аутентификации, решение о доступе
// принимает сервисный слой. Health и metrics — публичные.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/methompson/met-simple-storage/internal/api/handlers"
	"github.com/methompson/met-simple-storage/internal/api/middleware"
)

// AuthMiddlewares — пара middleware для защищённых и публичных маршрутов.
type AuthMiddlewares struct {
	// Required — отклоняет запросы без валидного JWT (401)
	Required func(http.Handler) http.Handler
	// Optional — помечает запрос состоянием аутентификации
	Optional func(http.Handler) http.Handler
}

// NewRouter собирает маршруты сервиса.
func NewRouter(
	files *handlers.FilesHandler,
	health *handlers.HealthHandler,
	auth AuthMiddlewares,
	logging func(http.Handler) http.Handler,
) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(logging)

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1/files", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Required)
			r.Post("/upload", files.Upload)
			r.Post("/delete", files.Delete)
			r.Get("/", files.List)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Optional)
			r.Get("/{storageName}", func(w http.ResponseWriter, req *http.Request) {
				files.Retrieve(w, req, chi.URLParam(req, "storageName"))
			})
		})
	})

	return router
}
