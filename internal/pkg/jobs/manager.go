// Package jobs runs the billing engine's recurring background tasks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/metrics"
)

var (
	// ErrAlreadyRunning is returned when a run is requested while the previous one is still busy.
	ErrAlreadyRunning = errors.New("job is already running")
	// ErrLocked is returned when another instance holds the job lock.
	ErrLocked      = errors.New("job is locked by another instance")
	ErrUnknownTask = errors.New("unknown job")
)

// Task is one recurring job.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run; zero means Interval.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type task struct {
	Task
	busy atomic.Bool
}

// Manager owns one ticker per task. A task never overlaps itself within the
// process, and with a Locker configured it never overlaps across instances either.
type Manager struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	locker  Locker

	tasks map[string]*task
	order []string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. locker may be nil.
func NewManager(log *zap.Logger, m *metrics.Metrics, locker Locker) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:     log.Named("jobs"),
		metrics: m,
		locker:  locker,
		tasks:   make(map[string]*task),
	}
}

// Register adds a task. It must be called before Start.
func (m *Manager) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", t.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("job %s: manager already started", t.Name)
	}
	if _, ok := m.tasks[t.Name]; ok {
		return fmt.Errorf("job %s: already registered", t.Name)
	}
	m.tasks[t.Name] = &task{Task: t}
	m.order = append(m.order, t.Name)
	return nil
}

// Start launches the tickers. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.stopCh = make(chan struct{})
	m.running = true

	for _, name := range m.order {
		t := m.tasks[name]
		m.wg.Add(1)
		go m.loop(runCtx, t, m.stopCh)
	}
	m.log.Info("background jobs started", zap.Strings("jobs", m.order))
}

// Stop stops the tickers, cancels in-flight runs and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.stopCh)
	m.cancel()
	m.running = false
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("background jobs stopped")
}

// IsRunning reports whether the scheduler loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunOnce triggers a task outside its schedule, under the same guards.
func (m *Manager) RunOnce(ctx context.Context, name string) error {
	t, ok := m.tasks[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return m.run(ctx, t)
}

func (m *Manager) loop(ctx context.Context, t *task, stop <-chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	m.log.Debug("job scheduled", zap.String("job", t.Name), zap.Duration("interval", t.Interval))
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.run(ctx, t); err != nil && !errors.Is(err, ErrAlreadyRunning) && !errors.Is(err, ErrLocked) {
				m.log.Error("job failed", zap.String("job", t.Name), zap.Error(err))
			}
		}
	}
}

func (m *Manager) run(ctx context.Context, t *task) error {
	if !t.busy.CompareAndSwap(false, true) {
		m.log.Warn("skipping job run, previous run still busy", zap.String("job", t.Name))
		return ErrAlreadyRunning
	}
	defer t.busy.Store(false)

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = t.Interval
	}

	if m.locker != nil {
		release, ok, err := m.locker.TryLock(ctx, t.Name, timeout)
		if err != nil {
			m.metrics.JobRun(t.Name, err)
			return fmt.Errorf("acquire lock for %s: %w", t.Name, err)
		}
		if !ok {
			m.log.Debug("job locked elsewhere", zap.String("job", t.Name))
			return ErrLocked
		}
		defer release()
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	err := t.Run(runCtx)
	m.metrics.JobRun(t.Name, err)
	m.log.Debug("job finished",
		zap.String("job", t.Name),
		zap.Duration("took", time.Since(started)),
		zap.Error(err))
	return err
}
