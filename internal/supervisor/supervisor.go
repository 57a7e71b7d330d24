// Package supervisor owns the set of workers for one daemon process: it
// starts each, restarts any that die, and relays OS signals into graceful
// shutdown or a log-level toggle.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kjmat/keilog/internal/worker"
)

const livenessPoll = 10 * time.Second

// Factory builds a fresh worker instance, used to restart a dead one with
// its original arguments.
type Factory func() worker.Worker

type managed struct {
	name    string
	factory Factory
	w       worker.Worker
	cancel  context.CancelFunc
}

// Supervisor runs a fixed set of named workers for the lifetime of the
// process.
type Supervisor struct {
	log     *log.Entry
	mu      sync.Mutex
	workers []*managed
	wg      sync.WaitGroup
}

// New returns an empty Supervisor logging through logger.
func New(logger *log.Entry) *Supervisor {
	return &Supervisor{log: logger}
}

// Add registers a named worker factory. Call before Run.
func (s *Supervisor) Add(name string, factory Factory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, &managed{name: name, factory: factory})
}

func (s *Supervisor) start(m *managed) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.w = m.factory()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.w.Run(ctx)
	}()
	s.log.WithField("worker", m.name).Info("worker started")
}

// Run starts every registered worker, then blocks watching for liveness and
// OS signals until the process is asked to stop (SIGINT/SIGTERM/SIGHUP) or ctx is
// cancelled. SIGUSR1 toggles the logger between debug and info level.
func (s *Supervisor) Run(ctx context.Context, baseLogger *log.Logger) {
	s.mu.Lock()
	for _, m := range s.workers {
		s.start(m)
	}
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(livenessPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				s.toggleLevel(baseLogger)
			default:
				s.log.WithField("signal", sig.String()).Info("shutting down")
				s.stopAll()
				return
			}

		case <-ticker.C:
			s.restartDead()
		}
	}
}

func (s *Supervisor) toggleLevel(baseLogger *log.Logger) {
	if baseLogger.GetLevel() == log.DebugLevel {
		baseLogger.SetLevel(log.InfoLevel)
		s.log.Info("log level => info")
	} else {
		baseLogger.SetLevel(log.DebugLevel)
		s.log.Info("log level => debug")
	}
}

func (s *Supervisor) restartDead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.workers {
		if m.w != nil && !m.w.Alive() {
			s.log.WithField("worker", m.name).Warn("worker died, restarting")
			s.start(m)
		}
	}
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.workers {
		if m.w != nil {
			m.w.Stop()
		}
		if m.cancel != nil {
			m.cancel()
		}
	}
	s.wg.Wait()
}
