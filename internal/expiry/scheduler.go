// Пакет expiry — планировщик отложенного удаления трансферов.
//
// На каждый живой код приходится ровно одна взведённая отложенная
// задача. Ранний purge (по запросу или при чтении просроченной
// записи) снимает таймер через Disarm, чтобы тот не сработал по
// уже удалённому коду.
package expiry

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler — набор отложенных задач удаления, ключ — код трансфера.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	logger  *slog.Logger
}

// New создаёт планировщик.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger.With(slog.String("component", "expiry")),
	}
}

// Arm взводит таймер для кода: через d в отдельной горутине будет
// вызван fire. Запись таймера снимается до вызова fire, поэтому
// Disarm из самого fire безопасен и просто ничего не найдёт.
//
// Повторный Arm по тому же коду заменяет старый таймер: код мог
// быть переиспользован после purge предыдущего трансфера.
func (s *Scheduler) Arm(code string, d time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.timers[code]; ok {
		old.Stop()
	}

	s.timers[code] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, code)
		s.mu.Unlock()
		fire()
	})

	s.logger.Debug("Таймер удаления взведён",
		slog.String("code", code),
		slog.Duration("after", d),
	)
}

// Disarm снимает таймер для кода. Возвращает true, если таймер был
// взведён. Отсутствие таймера не ошибка: он мог уже сработать или
// быть снят конкурирующим purge.
func (s *Scheduler) Disarm(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[code]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, code)

	s.logger.Debug("Таймер удаления снят", slog.String("code", code))
	return true
}

// Armed возвращает количество взведённых таймеров.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop снимает все таймеры и запрещает взведение новых.
// Вызывается при остановке процесса.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for code, timer := range s.timers {
		timer.Stop()
		delete(s.timers, code)
	}
	s.stopped = true

	s.logger.Info("Планировщик удаления остановлен")
}
