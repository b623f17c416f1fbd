package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// RunFunc is the body of a supervised actor: it should run until ctx is
// cancelled or it decides on its own to stop, and report why it stopped.
type RunFunc func(ctx context.Context) TerminalState

// Supervisor runs a set of actors, restarting ones that fail with bounded,
// backing-off retries, and recovering panics as a Faulted terminal state so
// one actor's bug cannot take down the whole process. Built on goroutines,
// context cancellation, and recover() rather than a dedicated actor
// framework.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	children []*supervisedChild
}

type supervisedChild struct {
	name        string
	run         RunFunc
	maxRestarts int
	restarts    int
	lastState   TerminalState
}

// NewSupervisor creates a Supervisor whose children are cancelled when
// parent is cancelled or Shutdown is called.
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel}
}

// Spawn starts run in its own goroutine under the supervisor, restarting it
// up to maxRestarts times on FailedRetry/Faulted, with linearly increasing
// backoff between attempts.
func (s *Supervisor) Spawn(name string, maxRestarts int, run RunFunc) {
	child := &supervisedChild{name: name, run: run, maxRestarts: maxRestarts}

	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.supervise(child)
}

func (s *Supervisor) supervise(child *supervisedChild) {
	defer s.wg.Done()

	for {
		state := s.runWithRecovery(child)
		child.lastState = state

		if s.ctx.Err() != nil {
			return
		}
		if !state.Retryable() {
			if state == FailedFinal {
				klog.ErrorS(fmt.Errorf("actor stopped permanently"), "actor terminal", "name", child.name, "state", state.String())
			}
			return
		}

		if child.restarts >= child.maxRestarts {
			klog.ErrorS(fmt.Errorf("exceeded max restarts"), "actor abandoned", "name", child.name, "restarts", child.restarts)
			return
		}

		backoff := time.Duration(child.restarts+1) * time.Second
		child.restarts++
		klog.InfoS("restarting actor", "name", child.name, "attempt", child.restarts, "backoff", backoff, "state", state.String())

		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Supervisor) runWithRecovery(child *supervisedChild) (state TerminalState) {
	defer func() {
		if r := recover(); r != nil {
			klog.ErrorS(fmt.Errorf("%v", r), "actor panicked", "name", child.name)
			state = Faulted
		}
	}()
	return child.run(s.ctx)
}

// Shutdown cancels every child's context and waits up to timeout for them
// to finish. It returns true if every child exited within timeout.
func (s *Supervisor) Shutdown(timeout time.Duration) bool {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Context returns the supervisor's root context, for actors that need to
// spawn their own children sharing the same cancellation.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}
