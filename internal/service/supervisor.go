package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bcnelson/keypool-manager/internal/domain"
)

// Worker names registered by the server.
const (
	WorkerProcessor   = "processor"
	WorkerRevalidator = "revalidator"
	WorkerDiscovery   = "discovery"
)

// Supervisor owns the background workers and starts, stops, and reports on
// them by name.
type Supervisor struct {
	logger *slog.Logger

	mu        sync.Mutex
	base      context.Context
	workers   map[string]*Worker
	order     []string
	autoStart map[string]bool
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:    logger,
		base:      context.Background(),
		workers:   make(map[string]*Worker),
		autoStart: make(map[string]bool),
	}
}

// Register adds a worker. Workers registered with autoStart run on Start.
func (s *Supervisor) Register(w *Worker, autoStart bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workers[w.Name()]; !exists {
		s.order = append(s.order, w.Name())
	}
	s.workers[w.Name()] = w
	s.autoStart[w.Name()] = autoStart
}

// Start records ctx as the context every worker runs under and launches the
// auto-start workers.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	var names []string
	for _, name := range s.order {
		if s.autoStart[name] {
			names = append(names, name)
		}
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.StartWorker(name); err != nil && !errors.Is(err, domain.ErrRunning) {
			return err
		}
	}
	return nil
}

func (s *Supervisor) worker(name string) (*Worker, context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[name]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	if s.base == nil {
		return w, context.Background(), nil
	}
	return w, s.base, nil
}

// StartWorker starts the named worker.
func (s *Supervisor) StartWorker(name string) error {
	w, base, err := s.worker(name)
	if err != nil {
		return err
	}
	return w.Start(base)
}

// StopWorker stops the named worker, waiting until ctx ends at most.
func (s *Supervisor) StopWorker(ctx context.Context, name string) error {
	w, _, err := s.worker(name)
	if err != nil {
		return err
	}
	return w.Stop(ctx)
}

// RestartWorker restarts the named worker.
func (s *Supervisor) RestartWorker(ctx context.Context, name string) error {
	w, base, err := s.worker(name)
	if err != nil {
		return err
	}
	return w.Restart(ctx, base)
}

// Status returns the named worker's status.
func (s *Supervisor) Status(name string) (WorkerStatus, error) {
	w, _, err := s.worker(name)
	if err != nil {
		return WorkerStatus{}, err
	}
	return w.Status(), nil
}

// Statuses returns every worker's status in registration order.
func (s *Supervisor) Statuses() []WorkerStatus {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.order))
	for _, name := range s.order {
		workers = append(workers, s.workers[name])
	}
	s.mu.Unlock()

	statuses := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.Status())
	}
	return statuses
}

// Shutdown stops every running worker and waits for them until ctx ends.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	workers := make([]*Worker, 0, len(s.workers))
	for _, name := range s.order {
		workers = append(workers, s.workers[name])
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make([]error, len(workers))
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil && !errors.Is(err, domain.ErrNotRunning) {
				errs[i] = err
			}
		}()
	}
	wg.Wait()
	s.logger.Info("supervisor: workers stopped")
	return errors.Join(errs...)
}
