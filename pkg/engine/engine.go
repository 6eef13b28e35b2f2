package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/runner"
)

// DefaultQueueDepth bounds the pending queue when no depth is configured.
const DefaultQueueDepth = 128

// ErrClosed is returned by Enqueue after the engine has shut down.
var ErrClosed = errors.New("engine closed")

// request is one queued unit of work, owned by the engine until processed.
type request struct {
	prompt     string
	extraFlags []string
	callback   func(models.Result)
	enqueuedAt time.Time
}

// Engine drains a FIFO queue of prompt requests with exactly one worker
// goroutine, serializing all asynchronous executions. Producers may enqueue
// from any goroutine; completion callbacks run on the worker goroutine, so
// they must not block.
type Engine struct {
	runner *runner.Runner
	queue  chan request
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates an Engine and starts its worker.
func New(r *runner.Runner, depth int) *Engine {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	e := &Engine{
		runner: r,
		queue:  make(chan request, depth),
		done:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

// Enqueue adds a request to the queue and returns the current queue depth.
// The callback, if non-nil, receives the result on the worker goroutine.
// Blocks when the queue is full.
func (e *Engine) Enqueue(prompt string, extraFlags []string, callback func(models.Result)) (int, error) {
	req := request{
		prompt:     prompt,
		extraFlags: extraFlags,
		callback:   callback,
		enqueuedAt: time.Now().UTC(),
	}

	// Checked separately so a closed engine always reports ErrClosed even
	// when the queue has room.
	select {
	case <-e.done:
		return 0, ErrClosed
	default:
	}

	select {
	case <-e.done:
		return 0, ErrClosed
	case e.queue <- req:
		return len(e.queue), nil
	}
}

// Depth returns the number of requests currently waiting in the queue.
func (e *Engine) Depth() int {
	return len(e.queue)
}

// loop is the single worker. It never exits under normal operation; errors
// and panics from a request or its callback are logged and the loop moves
// on to the next item.
func (e *Engine) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case req := <-e.queue:
			e.process(req)
		}
	}
}

func (e *Engine) process(req request) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue worker: recovered: %v", r)
		}
	}()

	result := e.runner.Run(context.Background(), req.prompt, req.extraFlags, true)

	if req.callback != nil {
		req.callback(result)
	}
}

// Close stops the worker. Requests still queued are dropped; in-flight work
// finishes first.
func (e *Engine) Close() {
	e.once.Do(func() { close(e.done) })
	e.wg.Wait()
}
