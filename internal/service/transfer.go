// Пакет service — бизнес-логика File Relay.
// transfer.go — фасад операций над трансферами: создание с контролем
// квот, выдача информации и протокол удаления (purge).
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apierrors "github.com/bigkaa/gofilerelay/internal/api/errors"
	"github.com/bigkaa/gofilerelay/internal/api/middleware"
	"github.com/bigkaa/gofilerelay/internal/config"
	"github.com/bigkaa/gofilerelay/internal/domain/model"
	"github.com/bigkaa/gofilerelay/internal/expiry"
	"github.com/bigkaa/gofilerelay/internal/registry"
	"github.com/bigkaa/gofilerelay/internal/storage/blobstore"
)

// Prometheus метрики жизненного цикла трансферов
var (
	// transfersCreatedTotal — количество созданных трансферов.
	transfersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_transfers_created_total",
		Help: "Общее количество созданных трансферов",
	})

	// purgesTotal — количество выполненных purge по триггерам.
	purgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_purges_total",
			Help: "Общее количество удалённых трансферов",
		},
		[]string{"trigger"},
	)
)

// PurgeTrigger — источник, инициировавший удаление трансфера.
type PurgeTrigger string

const (
	// TriggerTimer — сработал таймер автоматического удаления
	TriggerTimer PurgeTrigger = "timer"
	// TriggerRead — просроченная запись обнаружена при чтении
	TriggerRead PurgeTrigger = "read"
	// TriggerShutdown — остановка процесса
	TriggerShutdown PurgeTrigger = "shutdown"
)

// TransferError — ошибка операции с HTTP-кодом.
type TransferError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// UploadedFile — один файл из входящей multipart-формы.
type UploadedFile struct {
	// Reader — поток данных файла
	Reader io.Reader
	// Name — имя файла, переданное клиентом
	Name string
	// Size — заявленный размер из multipart-заголовка.
	// Используется только для ранней проверки квоты, фактический
	// размер определяется при записи блоба.
	Size int64
	// ContentType — MIME-тип из multipart-заголовка
	ContentType string
}

// CreateResult — результат создания трансфера.
// Временные метки — Unix-миллисекунды, формат внешнего API.
type CreateResult struct {
	Code      string `json:"code"`
	FileCount int    `json:"fileCount"`
	TotalSize int64  `json:"totalSize"`
	ExpiresAt int64  `json:"expiresAt"`
}

// FileInfo — сведения об одном файле в ответе API.
type FileInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// TransferInfo — сведения о живом трансфере.
type TransferInfo struct {
	Code          string     `json:"code"`
	Files         []FileInfo `json:"files"`
	ExpiresAt     int64      `json:"expiresAt"`
	RemainingTime int64      `json:"remainingTime"`
}

// TransferService — фасад операций над трансферами. Компонует
// blobstore, реестр и планировщик удаления; транспортный слой
// работает только с ним.
type TransferService struct {
	cfg    *config.Config
	store  *blobstore.BlobStore
	reg    *registry.Registry
	sched  *expiry.Scheduler
	logger *slog.Logger
}

// NewTransferService создаёт фасад трансферов.
func NewTransferService(
	cfg *config.Config,
	store *blobstore.BlobStore,
	reg *registry.Registry,
	sched *expiry.Scheduler,
	logger *slog.Logger,
) *TransferService {
	return &TransferService{
		cfg:    cfg,
		store:  store,
		reg:    reg,
		sched:  sched,
		logger: logger.With(slog.String("component", "transfer_service")),
	}
}

// Create создаёт трансфер из набора загруженных файлов.
//
// Поток:
//  1. Проверка квот по заявленным размерам — до записи блобов
//  2. Запись блобов с контролем остатка бюджета; при любой ошибке
//     уже записанные блобы откатываются, запись в реестре не создаётся
//  3. Вставка в реестр (выдача кода)
//  4. Взведение таймера автоматического удаления
func (s *TransferService) Create(uploads []UploadedFile) (*CreateResult, *TransferError) {
	// 1. Ранняя валидация квот
	if len(uploads) == 0 {
		return nil, &TransferError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Файлы не переданы",
		}
	}
	if len(uploads) > s.cfg.MaxFiles {
		return nil, &TransferError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    fmt.Sprintf("Допускается не более %d файлов", s.cfg.MaxFiles),
		}
	}
	var declared int64
	for i := range uploads {
		declared += uploads[i].Size
	}
	if declared > s.cfg.MaxTotalSize {
		return nil, s.totalSizeError()
	}

	// 2. Запись блобов. Бюджет уменьшается на фактический размер
	// каждого записанного файла: заявленным размерам не доверяем.
	files := make([]model.FileRecord, 0, len(uploads))
	written := make([]string, 0, len(uploads))
	rollback := func() {
		for _, key := range written {
			if err := s.store.Delete(key); err != nil {
				s.logger.Error("Ошибка отката блоба",
					slog.String("storage_key", key),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	budget := s.cfg.MaxTotalSize
	for i := range uploads {
		saved, err := s.store.Save(uploads[i].Reader, uploads[i].Name, budget)
		if err != nil {
			rollback()
			if errors.Is(err, blobstore.ErrCapacityExceeded) {
				return nil, s.totalSizeError()
			}
			s.logger.Error("Ошибка сохранения блоба",
				slog.String("filename", uploads[i].Name),
				slog.String("error", err.Error()),
			)
			return nil, &TransferError{
				StatusCode: 500,
				Code:       apierrors.CodeInternalError,
				Message:    "Ошибка сохранения файла на диск",
			}
		}

		budget -= saved.Size
		written = append(written, saved.StorageKey)
		files = append(files, model.FileRecord{
			ID:          uuid.New().String(),
			DisplayName: uploads[i].Name,
			StorageKey:  saved.StorageKey,
			Size:        saved.Size,
			ContentType: detectContentType(uploads[i].ContentType),
		})
	}

	// 3. Вставка в реестр
	now := time.Now().UTC()
	t, err := s.reg.Add(files, now, s.cfg.ExpiryTime)
	if err != nil {
		rollback()
		switch {
		case errors.Is(err, registry.ErrEmptyTransfer),
			errors.Is(err, registry.ErrTooManyFiles):
			return nil, &TransferError{
				StatusCode: 400,
				Code:       apierrors.CodeValidationError,
				Message:    err.Error(),
			}
		case errors.Is(err, registry.ErrTotalSizeExceeded):
			return nil, s.totalSizeError()
		default:
			return nil, &TransferError{
				StatusCode: 500,
				Code:       apierrors.CodeInternalError,
				Message:    "Внутренняя ошибка при создании трансфера",
			}
		}
	}

	// 4. Таймер автоматического удаления
	code := t.Code
	s.sched.Arm(code, s.cfg.ExpiryTime, func() {
		s.Purge(code, TriggerTimer)
	})

	totalSize := t.TotalSize()
	transfersCreatedTotal.Inc()
	middleware.TransfersActive.Inc()
	middleware.BytesUploadedTotal.Add(float64(totalSize))
	middleware.OperationsTotal.WithLabelValues("create", "success").Inc()

	s.logger.Info("Трансфер создан",
		slog.String("code", code),
		slog.Int("files", len(t.Files)),
		slog.Int64("total_size", totalSize),
		slog.Time("expires_at", t.ExpiresAt),
	)

	return &CreateResult{
		Code:      code,
		FileCount: len(t.Files),
		TotalSize: totalSize,
		ExpiresAt: t.ExpiresAt.UnixMilli(),
	}, nil
}

// Info возвращает сведения о живом трансфере для внешнего API.
func (s *TransferService) Info(code string) (*TransferInfo, *TransferError) {
	t, terr := s.Resolve(code)
	if terr != nil {
		return nil, terr
	}

	now := time.Now().UTC()
	files := make([]FileInfo, 0, len(t.Files))
	for i := range t.Files {
		files = append(files, FileInfo{
			ID:   t.Files[i].ID,
			Name: t.Files[i].DisplayName,
			Size: t.Files[i].Size,
		})
	}

	return &TransferInfo{
		Code:          t.Code,
		Files:         files,
		ExpiresAt:     t.ExpiresAt.UnixMilli(),
		RemainingTime: t.RemainingTime(now).Milliseconds(),
	}, nil
}

// Resolve возвращает живой трансфер по коду.
//
// Просроченная запись здесь же и удаляется (purge-on-read): реестр
// атомарно снимает её, Resolve доделывает удаление блобов и снятие
// таймера, клиент получает 410. Повторное обращение по тому же коду
// ведёт себя как обращение по несуществующему.
func (s *TransferService) Resolve(code string) (*model.Transfer, *TransferError) {
	now := time.Now().UTC()
	t, ok, expired := s.reg.Get(code, now)
	if !ok {
		return nil, &TransferError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Неверный код. Проверьте его и попробуйте ещё раз",
		}
	}
	if expired {
		s.finishPurge(t, TriggerRead)
		return nil, &TransferError{
			StatusCode: 410,
			Code:       apierrors.CodeTransferExpired,
			Message:    "Срок жизни трансфера истёк, файлы удалены",
		}
	}
	return t, nil
}

// ResolveFile возвращает живой трансфер и его файл по идентификатору.
func (s *TransferService) ResolveFile(code, fileID string) (*model.Transfer, *model.FileRecord, *TransferError) {
	t, terr := s.Resolve(code)
	if terr != nil {
		return nil, nil, terr
	}

	rec, ok := t.FindFile(fileID)
	if !ok {
		return nil, nil, &TransferError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		}
	}
	return t, rec, nil
}

// Purge выполняет протокол удаления трансфера.
//
// Сериализация конкурирующих вызовов — атомарное снятие записи из
// реестра: выигравший (таймер или ранний purge) удаляет блобы и
// снимает таймер, проигравший видит отсутствие записи и молча
// выходит. Повторный вызов — no-op, не ошибка.
func (s *TransferService) Purge(code string, trigger PurgeTrigger) {
	t, ok := s.reg.Remove(code)
	if !ok {
		return
	}
	s.finishPurge(t, trigger)
}

// PurgeAll удаляет все живые трансферы. Вызывается при остановке
// процесса, best effort.
func (s *TransferService) PurgeAll() int {
	codes := s.reg.Codes()
	for _, code := range codes {
		s.Purge(code, TriggerShutdown)
	}
	return len(codes)
}

// finishPurge удаляет блобы и снимает таймер для записи, уже снятой
// из реестра. Ошибки удаления блобов логируются и не прерывают
// протокол: консистентность метаданных важнее немедленного
// освобождения диска.
func (s *TransferService) finishPurge(t *model.Transfer, trigger PurgeTrigger) {
	for i := range t.Files {
		if err := s.store.Delete(t.Files[i].StorageKey); err != nil {
			s.logger.Error("Ошибка удаления блоба",
				slog.String("code", t.Code),
				slog.String("storage_key", t.Files[i].StorageKey),
				slog.String("error", err.Error()),
			)
		}
	}

	s.sched.Disarm(t.Code)

	purgesTotal.WithLabelValues(string(trigger)).Inc()
	middleware.TransfersActive.Dec()

	s.logger.Info("Трансфер удалён",
		slog.String("code", t.Code),
		slog.String("trigger", string(trigger)),
		slog.Int("files", len(t.Files)),
	)
}

// totalSizeError — единый ответ на превышение суммарного размера.
func (s *TransferService) totalSizeError() *TransferError {
	return &TransferError{
		StatusCode: 400,
		Code:       apierrors.CodeValidationError,
		Message: fmt.Sprintf("Суммарный размер файлов превышает лимит %s",
			humanize.IBytes(uint64(s.cfg.MaxTotalSize))),
	}
}

// detectContentType нормализует Content-Type из multipart-заголовка.
// Если тип не указан — application/octet-stream.
func detectContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
