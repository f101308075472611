// Пакет blobstore — операции с блобами загруженных файлов на диске.
// Обеспечивает streaming-запись с контролем лимита размера,
// чтение для отдачи клиенту и идемпотентное удаление.
//
// Blobstore владеет только байтами: решение о том, когда удалять
// блоб, принимает реестр трансферов, здесь нет никакой фоновой
// очистки по собственной инициативе.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound — блоб с указанным ключом отсутствует на диске.
	ErrNotFound = errors.New("блоб не найден")

	// ErrCapacityExceeded — поток данных превысил переданный лимит
	// размера, запись прервана, временный файл удалён.
	ErrCapacityExceeded = errors.New("превышен лимит размера")
)

// BlobStore — управление блобами в одной директории на диске.
type BlobStore struct {
	// dataDir — корневая директория хранения блобов (UPLOADS_DIR)
	dataDir string
}

// SaveResult — результат сохранения блоба.
type SaveResult struct {
	// StorageKey — серверное имя блоба, единственный способ
	// адресовать его в дальнейшем
	StorageKey string
	// Size — фактически записанный объём в байтах
	Size int64
}

// New создаёт BlobStore. Создаёт директорию, если она не существует.
func New(dataDir string) (*BlobStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию блобов %s: %w", dataDir, err)
	}

	return &BlobStore{dataDir: dataDir}, nil
}

// Save записывает данные из reader в новый блоб.
// Ключ блоба: {uuid}{ext}, где ext — очищенное расширение из
// клиентского имени файла. Само имя в путь не попадает.
//
// Паттерн: temp файл → запись с контролем лимита → fsync →
// atomic rename. Если поток превышает limit байт, запись
// прерывается, temp файл удаляется, возвращается ErrCapacityExceeded.
func (bs *BlobStore) Save(reader io.Reader, displayName string, limit int64) (*SaveResult, error) {
	if limit < 0 {
		return nil, ErrCapacityExceeded
	}

	key := generateStorageKey(displayName)
	fullPath := filepath.Join(bs.dataDir, key)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	// Читаем на один байт больше лимита: лишний байт означает,
	// что поток не уложился в бюджет
	size, err := io.Copy(f, io.LimitReader(reader, limit+1))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}
	if size > limit {
		f.Close()
		os.Remove(tmpPath)
		return nil, ErrCapacityExceeded
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		StorageKey: key,
		Size:       size,
	}, nil
}

// Open открывает блоб для чтения и возвращает *os.File.
// Вызывающий код обязан закрыть файл.
func (bs *BlobStore) Open(storageKey string) (*os.File, error) {
	fullPath := filepath.Join(bs.dataDir, storageKey)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storageKey)
		}
		return nil, fmt.Errorf("ошибка открытия блоба %s: %w", storageKey, err)
	}

	return f, nil
}

// Delete удаляет блоб с диска.
// Идемпотентен: отсутствие блоба не является ошибкой.
func (bs *BlobStore) Delete(storageKey string) error {
	fullPath := filepath.Join(bs.dataDir, storageKey)

	err := os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления блоба %s: %w", storageKey, err)
	}
	return nil
}

// Exists проверяет существование блоба на диске.
func (bs *BlobStore) Exists(storageKey string) bool {
	_, err := os.Stat(filepath.Join(bs.dataDir, storageKey))
	return err == nil
}

// Sweep удаляет все блобы из директории хранения и возвращает их
// количество. Реестр не персистентен, поэтому при старте процесса
// каждый найденный на диске блоб гарантированно осиротел.
func (bs *BlobStore) Sweep() (int, error) {
	entries, err := os.ReadDir(bs.dataDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования директории %s: %w", bs.dataDir, err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(bs.dataDir, entry.Name())); err != nil {
			return removed, fmt.Errorf("ошибка удаления %s: %w", entry.Name(), err)
		}
		removed++
	}

	return removed, nil
}

// DataDir возвращает путь к директории блобов.
func (bs *BlobStore) DataDir() string {
	return bs.dataDir
}

// generateStorageKey генерирует серверное имя блоба.
// Формат: {uuid}{ext}. Расширение берётся из клиентского имени,
// но проходит строгую очистку, остальная часть имени не используется.
func generateStorageKey(displayName string) string {
	return uuid.New().String() + sanitizeExt(filepath.Ext(displayName))
}

// sanitizeExt очищает расширение файла для использования в ключе.
// Оставляет только латинские буквы и цифры, приводит к нижнему
// регистру, ограничивает длину. Всё подозрительное отбрасывается.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return "." + ext
}
