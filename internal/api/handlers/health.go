// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/methompson/met-simple-storage/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// ReadinessChecker — дополнительная проверка готовности (например, PostgreSQL).
type ReadinessChecker interface {
	CheckReady() (status string, message string)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории блобов (для проверки FS)
	dataDir string
	// stagingDir — путь к staging директории
	stagingDir string
	// catalogChecker — проверка каталога (nil для memory каталога)
	catalogChecker ReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
// catalogChecker может быть nil: in-memory каталог не требует проверки.
func NewHealthHandler(dataDir, stagingDir string, catalogChecker ReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:        config.Version,
		dataDir:        dataDir,
		stagingDir:     stagingDir,
		catalogChecker: catalogChecker,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "simple-storage",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория блобов, staging, каталог (если настроена проверка).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	checks := map[string]any{}

	fsCheck := checkWritable(h.dataDir)
	checks["data_dir"] = fsCheck
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	stagingCheck := checkWritable(h.stagingDir)
	checks["staging_dir"] = stagingCheck
	if stagingCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	if h.catalogChecker != nil {
		status, message := h.catalogChecker.CheckReady()
		checks["catalog"] = map[string]any{
			"status":  status,
			"message": message,
		}
		if status != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "simple-storage",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
