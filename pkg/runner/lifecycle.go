package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type LifecycleRunner struct {
	state    int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLifecycleRunner wires a drain timeout around the Boundary Server's
// in-flight HTTP requests, the External Event Bridge queue, and the async
// metrics sink (see cmd/server/main.go's compositeDrainer): SIGTERM starts
// the timer, and whichever of the three is slowest to flush determines
// whether shutdown reports a drain timeout or a clean stop.
func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration, logger *slog.Logger) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:   int32(StateNew),
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		logger:  logger,
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return errors.New("invalid state transition")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		r.setState(StateDraining)
		if r.drainer != nil {
			drainErr := make(chan error, 1)
			go func() {
				drainErr <- r.drainer.Drain()
			}()
			select {
			case err := <-drainErr:
				if err != nil {
					r.logger.Warn("lifecycle_drain_failed", slog.String("error", err.Error()))
				}
			case <-time.After(r.timeout):
				r.stopErr = errors.New("drain timeout")
				r.logger.Warn("lifecycle_drain_timeout", slog.Duration("timeout", r.timeout))
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.setState(StateStopped)
	})
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return atomic.CompareAndSwapInt32(&r.state, int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	atomic.StoreInt32(&r.state, int32(s))
}
