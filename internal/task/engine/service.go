// Package engine runs deferred tasks on a bounded worker pool. It is
// the in-process stand-in for an external task-execution facility:
// jobs carry an earliest-execution time, may run concurrently in any
// order, and report lifecycle events on the event bus.
package engine

import (
	"context"
	"sync"
	"time"

	"castline/internal/eventbus"
	logx "castline/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q       chan queuedTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	// Pending eligibility timers for deferred tasks, keyed by sequence.
	tmu    sync.Mutex
	timers map[uint64]*time.Timer
	tseq   uint64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		timers: map[uint64]*time.Timer{},
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.started = true
	workers := s.cfg.Workers
	queue := s.q
	stopCh := s.stopCh
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		idx := i
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx, stopCh, queue, idx)
		}()
	}
	s.log.Info("engine started", logx.Int("workers", workers))
}

// Stop cancels pending eligibility timers and drains workers. Tasks
// already running finish their current attempt.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.tmu.Lock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("engine stopped")
}

// Submit accepts a task for execution. If the task's NotBefore lies in
// the future, a timer defers the enqueue until the task is eligible;
// Submit itself never blocks. Returns ErrQueueFull when the queue has
// no room and ErrStopped after Stop.
func (s *Service) Submit(t Task) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrStopped
	}
	queue := s.q
	stopCh := s.stopCh
	cfg := s.cfg
	s.mu.Unlock()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, timeout: timeout, opt: t.Opt.withDefaults(cfg)}

	delay := time.Until(t.NotBefore)
	if delay <= 0 {
		qt.enqueuedAt = time.Now()
		return s.enqueue(queue, qt)
	}

	s.tmu.Lock()
	s.tseq++
	id := s.tseq
	timer := time.AfterFunc(delay, func() {
		s.tmu.Lock()
		delete(s.timers, id)
		s.tmu.Unlock()

		select {
		case <-stopCh:
			return
		default:
		}
		qt.enqueuedAt = time.Now()
		if err := s.enqueue(queue, qt); err != nil {
			s.log.Warn("deferred task dropped", logx.String("task", t.Name), logx.Err(err))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: "task.dropped", Data: TaskEvent{ID: t.ID, Name: t.Name, Error: err.Error()}})
			}
		}
	})
	s.timers[id] = timer
	s.tmu.Unlock()

	s.log.Debug("task deferred", logx.String("task", t.Name), logx.Duration("eta", delay))
	return nil
}

func (s *Service) enqueue(queue chan queuedTask, qt queuedTask) error {
	select {
	case queue <- qt:
		return nil
	default:
		return ErrQueueFull
	}
}

// History returns a copy of the recent execution history, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// Pending reports the number of eligibility timers still waiting.
func (s *Service) Pending() int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return len(s.timers)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if limit := s.cfg.HistorySize; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}
