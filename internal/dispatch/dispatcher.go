// Package dispatch runs inbound chat events one user at a time, in arrival
// order, while different users progress independently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheGitano/telegram-tts-bot/internal/domain"
	"github.com/TheGitano/telegram-tts-bot/internal/infra"
	"github.com/TheGitano/telegram-tts-bot/internal/metrics"
	"github.com/TheGitano/telegram-tts-bot/internal/middleware"
)

var (
	ErrThrottled = errors.New("dispatch: user exceeded event rate")
	ErrQueueFull = errors.New("dispatch: user queue full")
	ErrClosed    = errors.New("dispatch: closed")
)

// Job is one unit of work for a user. It receives the dispatcher context.
type Job func(ctx context.Context)

type Options struct {
	QueueSize       int
	IdleTimeout     time.Duration
	EventsPerMinute int
	Metrics         *metrics.Registry
	Logger          *infra.Logger
}

type worker struct {
	queue chan Job
}

// Dispatcher owns one goroutine per active user. A worker exits after
// IdleTimeout without work and is recreated on the user's next event.
type Dispatcher struct {
	ctx     context.Context
	opts    Options
	limiter *middleware.FixedWindow
	logger  *infra.Logger

	mu      sync.Mutex
	workers map[domain.UserID]*worker
	closed  bool
	wg      sync.WaitGroup
}

func New(ctx context.Context, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		ctx:     ctx,
		opts:    opts,
		limiter: middleware.NewFixedWindow(opts.EventsPerMinute, time.Minute),
		logger:  infra.OrDiscard(opts.Logger),
		workers: make(map[domain.UserID]*worker),
	}
}

// Dispatch queues job behind the user's earlier jobs. It never blocks.
func (d *Dispatcher) Dispatch(user domain.UserID, job Job) error {
	if !d.limiter.Allow(string(user)) {
		d.opts.Metrics.Inc(metrics.EventsThrottled)
		d.logger.Warn().Str("user_id", string(user)).Msg("dispatch: event throttled")
		return ErrThrottled
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	w, ok := d.workers[user]
	if !ok {
		w = &worker{queue: make(chan Job, d.opts.QueueSize)}
		d.workers[user] = w
		d.wg.Add(1)
		go d.run(user, w)
	}
	select {
	case w.queue <- job:
		return nil
	default:
		d.logger.Warn().Str("user_id", string(user)).Msg("dispatch: queue full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) run(user domain.UserID, w *worker) {
	defer d.wg.Done()
	idle := time.NewTimer(d.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			d.exec(user, job)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.opts.IdleTimeout)
		case <-idle.C:
			if d.reap(user, w) {
				return
			}
			idle.Reset(d.opts.IdleTimeout)
		}
	}
}

// reap retires w when nothing arrived since the timer fired. Enqueueing
// happens under the same lock, so no job can be stranded.
func (d *Dispatcher) reap(user domain.UserID, w *worker) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.workers[user] != w {
		return false
	}
	if len(w.queue) > 0 {
		return false
	}
	delete(d.workers, user)
	d.limiter.Prune()
	d.logger.Debug().Str("user_id", string(user)).Msg("dispatch: worker reaped")
	return true
}

func (d *Dispatcher) exec(user domain.UserID, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("user_id", string(user)).
				Err(fmt.Errorf("panic: %v", r)).
				Msg("dispatch: job panicked")
		}
	}()
	job(d.ctx)
}

// Active reports how many user workers are alive.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close stops accepting jobs, lets every worker finish what is already
// queued and waits for them or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for user, w := range d.workers {
			close(w.queue)
			delete(d.workers, user)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
