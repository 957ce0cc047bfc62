package workflow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

var (
	// ErrQueueFull is returned when the transition queue cannot accept work
	ErrQueueFull = errors.New("transition queue is full")

	// ErrPoolClosed is returned when work is submitted after shutdown
	ErrPoolClosed = errors.New("transition pool is closed")
)

// TransitionRequest carries one transition submission through the pool.
type TransitionRequest struct {
	WorkflowID string
	Target     wf.State
	Actor      string
	Comment    string
}

// TransitionFuture is the pending handle returned to asynchronous callers.
type TransitionFuture struct {
	done     chan struct{}
	accepted bool
	err      error
}

func newTransitionFuture() *TransitionFuture {
	return &TransitionFuture{done: make(chan struct{})}
}

func (f *TransitionFuture) complete(accepted bool, err error) {
	f.accepted = accepted
	f.err = err
	close(f.done)
}

// Done is closed once the transition has been executed.
func (f *TransitionFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the transition outcome. It must only be called after Done
// is closed; Wait covers the common case.
func (f *TransitionFuture) Result() (bool, error) {
	return f.accepted, f.err
}

// Wait blocks until the transition completes or the context ends.
func (f *TransitionFuture) Wait(ctx context.Context) (bool, error) {
	select {
	case <-f.done:
		return f.accepted, f.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

type poolTask struct {
	req    TransitionRequest
	future *TransitionFuture
}

// transitionPool executes submitted transitions on a bounded set of workers
// with a bounded queue. It is owned by the executor and shut down
// deterministically at process teardown.
type transitionPool struct {
	tasks  chan poolTask
	run    func(ctx context.Context, req TransitionRequest) (bool, error)
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// mu orders submit's closed-check and channel send against close;
	// without it a submission racing shutdown sends on a closed channel.
	mu     sync.RWMutex
	closed bool
}

func newTransitionPool(
	workers, queueSize int,
	run func(ctx context.Context, req TransitionRequest) (bool, error),
	logger *zap.Logger,
) *transitionPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &transitionPool{
		tasks:   make(chan poolTask, queueSize),
		run:     run,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	return p
}

func (p *transitionPool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		accepted, err := p.run(p.baseCtx, task.req)
		task.future.complete(accepted, err)
	}
}

// submit enqueues a transition and returns its future. A full queue or a
// closed pool completes the future immediately with a typed error.
func (p *transitionPool) submit(req TransitionRequest) *TransitionFuture {
	future := newTransitionFuture()

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		future.complete(false, ErrPoolClosed)
		return future
	}

	select {
	case p.tasks <- poolTask{req: req, future: future}:
	default:
		p.logger.Warn("Transition queue full, rejecting submission",
			zap.String("workflow_id", req.WorkflowID),
			zap.String("target", req.Target.String()))
		future.complete(false, ErrQueueFull)
	}

	return future
}

// close drains queued work and stops the workers. Queued transitions still
// execute; submissions after close are rejected.
func (p *transitionPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
