package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// restartDelay is the pause between stop and start on Restart.
const restartDelay = 100 * time.Millisecond

// StopSignal is the cooperative stop flag handed to each cycle. A nil
// StopSignal never stops, which is what one-shot callers and tests use.
type StopSignal struct {
	ch   chan struct{}
	once sync.Once
}

func newStopSignal() *StopSignal {
	return &StopSignal{ch: make(chan struct{})}
}

func (s *StopSignal) signal() {
	s.once.Do(func() { close(s.ch) })
}

// Stopped reports whether a stop was requested.
func (s *StopSignal) Stopped() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Sleep waits for d. It returns false if a stop was requested or ctx ended
// first.
func (s *StopSignal) Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !s.Stopped() && ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	var stop <-chan struct{}
	if s != nil {
		stop = s.ch
	}
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// Cycle runs one unit of a background loop and returns how long to wait
// before the next one.
type Cycle func(ctx context.Context, stop *StopSignal) time.Duration

// WorkerStatus is a snapshot of a worker.
type WorkerStatus struct {
	Name        string     `json:"name"`
	Running     bool       `json:"running"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	Cycles      int64      `json:"cycles"`
	Panics      int64      `json:"panics"`
}

// Worker runs a Cycle in its own goroutine until stopped.
type Worker struct {
	name   string
	cycle  Cycle
	logger *slog.Logger

	mu          sync.Mutex
	stop        *StopSignal
	done        chan struct{}
	startedAt   time.Time
	lastCycleAt time.Time
	cycles      int64
	panics      int64
}

// NewWorker creates a stopped worker.
func NewWorker(name string, cycle Cycle, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{name: name, cycle: cycle, logger: logger.With("worker", name)}
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// Start launches the loop. ctx must outlive the worker; network calls made
// by the cycle use it, and the loop also ends when it is done.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return domain.ErrRunning
	}
	w.stop = newStopSignal()
	w.done = make(chan struct{})
	w.startedAt = time.Now().UTC()
	go w.loop(ctx, w.stop, w.done)
	w.logger.Info("worker: started")
	return nil
}

func (w *Worker) loop(ctx context.Context, stop *StopSignal, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		if w.stop == stop {
			w.stop = nil
			w.done = nil
		}
		w.mu.Unlock()
		close(done)
		w.logger.Info("worker: stopped")
	}()

	for !stop.Stopped() && ctx.Err() == nil {
		wait := w.runCycle(ctx, stop)
		if !stop.Sleep(ctx, wait) {
			return
		}
	}
}

// runCycle runs one cycle. A panicking cycle is logged and retried after a
// short pause instead of killing the loop.
func (w *Worker) runCycle(ctx context.Context, stop *StopSignal) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker: cycle panicked", "panic", fmt.Sprint(r))
			w.mu.Lock()
			w.panics++
			w.mu.Unlock()
			wait = time.Second
		}
	}()
	wait = w.cycle(ctx, stop)

	w.mu.Lock()
	w.cycles++
	w.lastCycleAt = time.Now().UTC()
	w.mu.Unlock()
	return wait
}

// Stop requests a stop and waits for the current cycle to finish, or for
// ctx to end.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.mu.Unlock()
	if stop == nil {
		return domain.ErrNotRunning
	}
	stop.signal()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the worker if it is running, waits briefly, and starts it
// again with base as the loop context.
func (w *Worker) Restart(ctx, base context.Context) error {
	if err := w.Stop(ctx); err != nil && err != domain.ErrNotRunning {
		return err
	}
	select {
	case <-time.After(restartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.Start(base)
}

// Status returns a snapshot of the worker.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := WorkerStatus{
		Name:    w.name,
		Running: w.stop != nil,
		Cycles:  w.cycles,
		Panics:  w.panics,
	}
	if status.Running {
		started := w.startedAt
		status.StartedAt = &started
	}
	if !w.lastCycleAt.IsZero() {
		last := w.lastCycleAt
		status.LastCycleAt = &last
	}
	return status
}
