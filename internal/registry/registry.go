// Пакет registry — потокобезопасный реестр живых трансферов.
//
// Реестр — единственный владелец метаданных Transfer и FileRecord:
// выдача кода, проверка квот, контроль срока жизни и атомарное
// снятие записи проходят здесь под одной блокировкой. Блобы на
// диске реестру не принадлежат, StorageKey — обратная ссылка,
// по которой вызывающий код удаляет байты уже вне блокировки.
//
// Не персистентный: при рестарте процесса все трансферы теряются.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/gofilerelay/internal/domain/model"
)

var (
	// ErrEmptyTransfer — попытка создать трансфер без файлов.
	ErrEmptyTransfer = errors.New("трансфер не содержит файлов")

	// ErrTooManyFiles — количество файлов превышает лимит.
	ErrTooManyFiles = errors.New("превышено количество файлов")

	// ErrTotalSizeExceeded — суммарный размер файлов превышает лимит.
	ErrTotalSizeExceeded = errors.New("превышен суммарный размер файлов")
)

// Registry — реестр трансферов: код → Transfer.
// Использует sync.Mutex: операции чтения всегда совмещены с
// проверкой срока жизни и потенциальной мутацией, поэтому
// RWMutex выгоды не даёт.
type Registry struct {
	mu           sync.Mutex
	transfers    map[string]*model.Transfer
	maxFiles     int
	maxTotalSize int64
	logger       *slog.Logger
}

// New создаёт пустой реестр с заданными квотами.
func New(maxFiles int, maxTotalSize int64, logger *slog.Logger) *Registry {
	return &Registry{
		transfers:    make(map[string]*model.Transfer),
		maxFiles:     maxFiles,
		maxTotalSize: maxTotalSize,
		logger:       logger.With(slog.String("component", "registry")),
	}
}

// Add создаёт трансфер: валидирует квоты, выдаёт код, уникальный
// среди живых записей, и вставляет запись. Выдача кода и вставка
// происходят под одной блокировкой, поэтому два конкурирующих
// вызова никогда не получат одинаковый код.
//
// При нарушении квот реестр не изменяется; уже записанные блобы
// откатывает вызывающий код.
func (r *Registry) Add(files []model.FileRecord, now time.Time, ttl time.Duration) (*model.Transfer, error) {
	if len(files) == 0 {
		return nil, ErrEmptyTransfer
	}
	if len(files) > r.maxFiles {
		return nil, ErrTooManyFiles
	}
	var total int64
	for i := range files {
		total += files[i].Size
	}
	if total > r.maxTotalSize {
		return nil, ErrTotalSizeExceeded
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	code := generateCode(func(c string) bool {
		_, live := r.transfers[c]
		return live
	})

	t := &model.Transfer{
		Code:      code,
		Files:     cloneFiles(files),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	r.transfers[code] = t

	r.logger.Debug("Трансфер добавлен в реестр",
		slog.String("code", code),
		slog.Int("files", len(t.Files)),
		slog.Int64("total_size", total),
	)

	return copyTransfer(t), nil
}

// Get возвращает копию трансфера по коду.
//
// Если срок жизни истёк, запись атомарно снимается из реестра и
// возвращается вместе с expired=true: вызывающий код обязан
// завершить purge (удалить блобы, снять таймер) уже вне блокировки.
// Повторный Get по тому же коду ведёт себя как обращение к никогда
// не существовавшей записи.
func (r *Registry) Get(code string, now time.Time) (t *model.Transfer, ok bool, expired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, live := r.transfers[code]
	if !live {
		return nil, false, false
	}

	if stored.IsExpired(now) {
		delete(r.transfers, code)
		return copyTransfer(stored), true, true
	}

	return copyTransfer(stored), true, false
}

// Remove атомарно снимает запись из реестра и возвращает её.
// Это единственная точка сериализации протокола purge: из двух
// конкурирующих вызовов по одному коду ровно один получает
// ok=true и продолжает удаление блобов, второй видит отсутствие
// записи и ничего не делает.
func (r *Registry) Remove(code string) (*model.Transfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, live := r.transfers[code]
	if !live {
		return nil, false
	}
	delete(r.transfers, code)

	return stored, true
}

// Codes возвращает коды всех живых трансферов.
func (r *Registry) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]string, 0, len(r.transfers))
	for code := range r.transfers {
		codes = append(codes, code)
	}
	return codes
}

// Len возвращает количество живых трансферов.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

// copyTransfer возвращает копию трансфера с собственным срезом
// файлов, чтобы вызывающий код не мог изменить состояние реестра.
func copyTransfer(t *model.Transfer) *model.Transfer {
	copied := *t
	copied.Files = cloneFiles(t.Files)
	return &copied
}

func cloneFiles(files []model.FileRecord) []model.FileRecord {
	cloned := make([]model.FileRecord, len(files))
	copy(cloned, files)
	return cloned
}
