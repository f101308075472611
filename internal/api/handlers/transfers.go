// transfers.go — HTTP handlers операций над трансферами.
// Тонкий транспортный слой: парсинг multipart, извлечение параметров
// пути, преобразование ошибок сервиса в ответы API.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/gofilerelay/internal/api/errors"
	"github.com/bigkaa/gofilerelay/internal/config"
	"github.com/bigkaa/gofilerelay/internal/service"
)

// multipartMemoryLimit — буфер парсинга multipart в памяти,
// остальное net/http спулит во временные файлы.
const multipartMemoryLimit = 32 << 20

// TransfersHandler — обработчик endpoints трансферов.
type TransfersHandler struct {
	cfg       *config.Config
	transfers *service.TransferService
	downloads *service.DownloadService
}

// NewTransfersHandler создаёт обработчик endpoints трансферов.
func NewTransfersHandler(
	cfg *config.Config,
	transfers *service.TransferService,
	downloads *service.DownloadService,
) *TransfersHandler {
	return &TransfersHandler{
		cfg:       cfg,
		transfers: transfers,
		downloads: downloads,
	}
}

// Upload обрабатывает POST /api/upload.
// Multipart form, поле files: 1..MaxFiles частей, суммарно до MaxTotalSize.
func (h *TransfersHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Жёсткая крышка на размер тела: не даём злоумышленнику
	// заспулить на диск больше квоты плюс запас на заголовки формы
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxTotalSize+multipartMemoryLimit)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		apierrors.ValidationError(w, "Ошибка чтения multipart-формы: "+err.Error())
		return
	}

	headers := r.MultipartForm.File["files"]
	uploads := make([]service.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			apierrors.InternalError(w, "Ошибка чтения загруженного файла")
			return
		}
		defer f.Close()

		uploads = append(uploads, service.UploadedFile{
			Reader:      f,
			Name:        fh.Filename,
			Size:        fh.Size,
			ContentType: fh.Header.Get("Content-Type"),
		})
	}

	result, terr := h.transfers.Create(uploads)
	if terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransfer обрабатывает GET /api/transfer/{code}.
func (h *TransfersHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	info, terr := h.transfers.Info(code)
	if terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// DownloadFile обрабатывает GET /api/download/{code}/{fileId}.
func (h *TransfersHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	fileID := chi.URLParam(r, "fileId")

	if terr := h.downloads.ServeFile(w, r, code, fileID); terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
	}
}

// DownloadArchive обрабатывает GET /api/download-all/{code}.
func (h *TransfersHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	if terr := h.downloads.ServeArchive(w, code); terr != nil {
		apierrors.WriteError(w, terr.StatusCode, terr.Code, terr.Message)
	}
}

// writeJSON — вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
