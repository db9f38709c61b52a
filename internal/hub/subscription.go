package hub

import (
	"sync"
	"sync/atomic"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Subscription — подписка одного наблюдателя.
type Subscription struct {
	id  string
	hub *Hub

	runID      int64
	pipelineID string

	// mu защищает ch от отправки после закрытия.
	mu     sync.Mutex
	ch     chan domain.Event
	closed bool

	dropped atomic.Int64
	once    sync.Once
}

// ID возвращает идентификатор подписки.
func (s *Subscription) ID() string {
	return s.id
}

// Events возвращает канал событий. Канал закрывается при Close.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped возвращает число вытесненных событий.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close отписывает наблюдателя. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
		s.close()
	})
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) match(e domain.Event) bool {
	if s.runID != 0 && e.RunID != s.runID {
		return false
	}
	if s.pipelineID != "" && e.PipelineID != s.pipelineID {
		return false
	}
	return true
}

// send кладёт событие в очередь и возвращает true, если пришлось
// вытеснить самое старое.
func (s *Subscription) send(e domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- e:
		return false
	default:
	}

	// Очередь полна: выбрасываем самое старое событие
	var dropped bool
	select {
	case <-s.ch:
		dropped = true
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- e:
	default:
	}
	return dropped
}
