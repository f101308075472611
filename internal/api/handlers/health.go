// health.go — обработчики health endpoints.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/gofilerelay/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /api/health,
// /health/live, /health/ready.
type HealthHandler struct {
	version string
	// uploadsDir — путь к директории блобов (для проверки FS)
	uploadsDir string
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(uploadsDir string) *HealthHandler {
	return &HealthHandler{
		version:    config.Version,
		uploadsDir: uploadsDir,
	}
}

// Health обрабатывает GET /api/health — публичный health endpoint API.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "file-relay",
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.Health(w, r)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет доступность директории блобов на запись.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "file-relay",
		"checks": map[string]any{
			"filesystem": fsCheck,
		},
	}

	writeJSON(w, httpStatus, resp)
}

// checkFilesystem проверяет доступность директории блобов на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	testFile := filepath.Join(h.uploadsDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория блобов недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
