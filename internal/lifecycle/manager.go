package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"openui/cli/internal/logging"
)

const DefaultShutdownTimeout = 3 * time.Second

// ErrStop ends the run cleanly when returned by a run job.
var ErrStop = errors.New("lifecycle: stop requested")

type job struct {
	name string
	run  func(context.Context) error
}

// Manager runs named jobs until the context ends or one of them fails, then
// runs the shutdown jobs in registration order within a shared budget.
type Manager struct {
	mu              sync.Mutex
	runJobs         []job
	shutdownJobs    []job
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		shutdownTimeout: DefaultShutdownTimeout,
		logger:          logging.OrDiscard(logger).With("module", "lifecycle"),
	}
}

func (m *Manager) SetShutdownTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.shutdownTimeout = d
	m.mu.Unlock()
}

func (m *Manager) AddRun(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.runJobs = append(m.runJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

func (m *Manager) AddShutdown(name string, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.shutdownJobs = append(m.shutdownJobs, job{name: name, run: fn})
	m.mu.Unlock()
}

// StartAndWait blocks until every run job has returned and shutdown is
// complete. The first run error cancels the others and is returned.
func (m *Manager) StartAndWait(parent context.Context, sig ...os.Signal) error {
	ctx := parent
	stopSignal := func() {}
	if len(sig) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(parent, sig...)
		stopSignal = stop
	}
	defer stopSignal()

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	m.mu.Lock()
	runJobs := append([]job(nil), m.runJobs...)
	shutdownJobs := append([]job(nil), m.shutdownJobs...)
	timeout := m.shutdownTimeout
	m.mu.Unlock()

	errCh := make(chan error, len(runJobs))
	var wg sync.WaitGroup
	for _, j := range runJobs {
		j := j
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.logger.Debug("job started", "job", j.name)
			err := j.run(runCtx)
			if errors.Is(err, ErrStop) {
				m.logger.Debug("job requested stop", "job", j.name)
				cancelRuns()
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("job failed", "job", j.name, "err", err)
				errCh <- err
				cancelRuns()
				return
			}
			m.logger.Debug("job stopped", "job", j.name)
		}()
	}

	doneCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		cancelRuns()
	case err := <-errCh:
		runErr = err
		cancelRuns()
	case <-doneCh:
	}
	<-doneCh
	if runErr == nil {
		select {
		case runErr = <-errCh:
		default:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var shutdownErr error
	for _, j := range shutdownJobs {
		if err := j.run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("shutdown job failed", "job", j.name, "err", err)
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return errors.Join(runErr, shutdownErr)
}
