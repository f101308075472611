// download.go — отдача файлов клиенту: по одному и zip-архивом.
package service

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/gofilerelay/internal/api/errors"
	"github.com/bigkaa/gofilerelay/internal/api/middleware"
	"github.com/bigkaa/gofilerelay/internal/storage/blobstore"
)

// DownloadService — сервис отдачи файлов трансфера.
type DownloadService struct {
	store     *blobstore.BlobStore
	transfers *TransferService
	logger    *slog.Logger
}

// NewDownloadService создаёт сервис отдачи файлов.
func NewDownloadService(
	store *blobstore.BlobStore,
	transfers *TransferService,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		store:     store,
		transfers: transfers,
		logger:    logger.With(slog.String("component", "download_service")),
	}
}

// ServeFile отдаёт один файл трансфера через http.ServeContent
// с Content-Disposition: attachment под клиентским именем.
//
// Таймер удаления может сработать во время отдачи: purge не
// откладывается, начатое скачивание в этом случае обрывается
// ошибкой потока.
func (d *DownloadService) ServeFile(w http.ResponseWriter, r *http.Request, code, fileID string) *TransferError {
	// 1. Ищем трансфер и файл (просроченные записи удаляются здесь же)
	_, rec, terr := d.transfers.ResolveFile(code, fileID)
	if terr != nil {
		return terr
	}

	// 2. Открываем блоб
	f, err := d.store.Open(rec.StorageKey)
	if err != nil {
		// Запись в реестре есть, блоба нет: либо гонка с purge,
		// либо потеря данных на диске
		d.logger.Error("Блоб не найден на диске",
			slog.String("code", code),
			slog.String("file_id", fileID),
			slog.String("storage_key", rec.StorageKey),
			slog.String("error", err.Error()),
		)
		return &TransferError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден на сервере",
		}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		d.logger.Error("Ошибка получения stat блоба",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return &TransferError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка чтения файла",
		}
	}

	// 3. Заголовки и отдача. http.ServeContent сам обрабатывает
	// Range requests и Content-Length.
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.DisplayName))
	http.ServeContent(w, r, rec.DisplayName, stat.ModTime(), f)

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	d.logger.Debug("Файл отдан",
		slog.String("code", code),
		slog.String("file_id", fileID),
		slog.String("filename", rec.DisplayName),
		slog.Int64("size", rec.Size),
	)

	return nil
}

// ServeArchive отдаёт все файлы трансфера одним потоковым zip-архивом
// transfer-{code}.zip, записи именуются клиентскими именами файлов.
//
// Архив best effort: файл, отсутствующий на диске к моменту упаковки,
// пропускается с предупреждением в логе. Ошибка потока после начала
// отдачи обрывает ответ — уже отправленные байты не отозвать.
func (d *DownloadService) ServeArchive(w http.ResponseWriter, code string) *TransferError {
	t, terr := d.transfers.Resolve(code)
	if terr != nil {
		return terr
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "transfer-"+t.Code+".zip"))

	zw := zip.NewWriter(w)
	for i := range t.Files {
		rec := &t.Files[i]

		f, err := d.store.Open(rec.StorageKey)
		if err != nil {
			d.logger.Warn("Файл пропущен при архивации",
				slog.String("code", code),
				slog.String("file_id", rec.ID),
				slog.String("storage_key", rec.StorageKey),
			)
			continue
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     rec.DisplayName,
			Method:   zip.Deflate,
			Modified: t.CreatedAt,
		})
		if err != nil {
			f.Close()
			d.logger.Error("Ошибка создания записи архива",
				slog.String("code", code),
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}

		if _, err := io.Copy(entry, f); err != nil {
			f.Close()
			// Заголовки уже отправлены, ответ оборван
			d.logger.Error("Ошибка потоковой записи архива",
				slog.String("code", code),
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		f.Close()
	}

	if err := zw.Close(); err != nil {
		d.logger.Error("Ошибка завершения архива",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
		return nil
	}

	middleware.OperationsTotal.WithLabelValues("download_all", "success").Inc()

	d.logger.Debug("Архив отдан",
		slog.String("code", code),
		slog.Int("files", len(t.Files)),
	)

	return nil
}
