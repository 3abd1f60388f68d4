package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *stepLog) add(v string) {
	l.mu.Lock()
	l.steps = append(l.steps, v)
	l.mu.Unlock()
}

func (l *stepLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func TestManager_ContextCancelRunsShutdownInOrder(t *testing.T) {
	mgr := NewManager(nil)
	log := &stepLog{}

	mgr.AddRun("http-server", func(ctx context.Context) error {
		<-ctx.Done()
		log.add("http-stopped")
		return nil
	})
	mgr.AddShutdown("close-bridge", func(context.Context) error {
		log.add("bridge-closed")
		return nil
	})
	mgr.AddShutdown("drain-dispatches", func(context.Context) error {
		log.add("dispatches-drained")
		return nil
	})

	parent, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.StartAndWait(parent) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []string{"http-stopped", "bridge-closed", "dispatches-drained"}, log.all())
}

func TestManager_RunErrorCancelsOthersAndShutsDown(t *testing.T) {
	mgr := NewManager(nil)
	boom := errors.New("listen tcp :3100: address already in use")
	log := &stepLog{}

	mgr.AddRun("http-server", func(context.Context) error { return boom })
	mgr.AddRun("skills-watcher", func(ctx context.Context) error {
		<-ctx.Done()
		log.add("watcher-stopped")
		return ctx.Err()
	})
	mgr.AddShutdown("close-bridge", func(context.Context) error {
		log.add("bridge-closed")
		return nil
	})

	err := mgr.StartAndWait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"watcher-stopped", "bridge-closed"}, log.all())
}

func TestManager_ShutdownBudget(t *testing.T) {
	mgr := NewManager(nil)
	mgr.SetShutdownTimeout(30 * time.Millisecond)
	mgr.AddRun("once", func(context.Context) error { return nil })
	mgr.AddShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := mgr.StartAndWait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_ErrStopEndsRunCleanly(t *testing.T) {
	mgr := NewManager(nil)
	log := &stepLog{}
	mgr.AddRun("wrapped-command", func(context.Context) error { return ErrStop })
	mgr.AddRun("http-server", func(ctx context.Context) error {
		<-ctx.Done()
		log.add("http-stopped")
		return nil
	})

	require.NoError(t, mgr.StartAndWait(context.Background()))
	assert.Equal(t, []string{"http-stopped"}, log.all())
}
