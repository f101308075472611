// Точка входа File Relay — сервиса одноразовой передачи файлов
// по короткому коду.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"

	"github.com/bigkaa/gofilerelay/internal/api/handlers"
	"github.com/bigkaa/gofilerelay/internal/config"
	"github.com/bigkaa/gofilerelay/internal/expiry"
	"github.com/bigkaa/gofilerelay/internal/registry"
	"github.com/bigkaa/gofilerelay/internal/server"
	"github.com/bigkaa/gofilerelay/internal/service"
	"github.com/bigkaa/gofilerelay/internal/storage/blobstore"
)

func main() {
	// .env — удобство локального запуска, отсутствие файла не ошибка
	_ = godotenv.Load()

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("File Relay запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("uploads_dir", cfg.UploadsDir),
		slog.Int("max_files", cfg.MaxFiles),
		slog.String("max_total_size", humanize.IBytes(uint64(cfg.MaxTotalSize))),
		slog.Duration("expiry_time", cfg.ExpiryTime),
	)

	// --- Инициализация компонентов ---

	// 1. Хранилище блобов
	store, err := blobstore.New(cfg.UploadsDir)
	if err != nil {
		logger.Error("Ошибка инициализации blobstore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Реестр не персистентен: всё, что лежит в директории после
	// рестарта, гарантированно осиротело
	removed, err := store.Sweep()
	if err != nil {
		logger.Warn("Ошибка очистки осиротевших блобов", slog.String("error", err.Error()))
	} else if removed > 0 {
		logger.Info("Осиротевшие блобы удалены", slog.Int("count", removed))
	}

	// 2. Реестр трансферов и планировщик удаления
	reg := registry.New(cfg.MaxFiles, cfg.MaxTotalSize, logger)
	sched := expiry.New(logger)

	// 3. Сервисы
	transferSvc := service.NewTransferService(cfg, store, reg, sched, logger)
	downloadSvc := service.NewDownloadService(store, transferSvc, logger)

	// 4. Handlers
	transfersHandler := handlers.NewTransfersHandler(cfg, transferSvc, downloadSvc)
	healthHandler := handlers.NewHealthHandler(cfg.UploadsDir)

	// 5. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, transfersHandler, healthHandler)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Остановка фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	sched.Stop()
	if purged := transferSvc.PurgeAll(); purged > 0 {
		logger.Info("Оставшиеся трансферы удалены", slog.Int("count", purged))
	}

	logger.Info("File Relay остановлен")
}
