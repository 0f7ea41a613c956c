package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when the dispatcher's buffer is exhausted.
	// The record is dropped; the caller decides how loudly to complain.
	ErrQueueFull = errors.New("audit queue is full")

	// ErrDispatcherClosed is returned for writes after Close.
	ErrDispatcherClosed = errors.New("audit dispatcher is closed")
)

const (
	defaultDispatchWorkers = 2
	defaultQueueDepth      = 256
	dispatchWriteTimeout   = 5 * time.Second
)

// Dispatcher decouples audit recording from the request path. Records are
// queued and written by background workers, each write on its own detached
// context so an already-finished request cannot cancel its audit entry.
//
// Write never blocks: a full queue returns ErrQueueFull immediately.
type Dispatcher struct {
	writer    *Writer
	ops       *logrus.Logger
	queue     chan *Record
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts workers draining a bounded queue into writer.
// Non-positive workers or depth fall back to defaults.
func NewDispatcher(writer *Writer, ops *logrus.Logger, workers, depth int) *Dispatcher {
	if ops == nil {
		ops = logrus.New()
	}
	if workers <= 0 {
		workers = defaultDispatchWorkers
	}
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	d := &Dispatcher{
		writer: writer,
		ops:    ops,
		queue:  make(chan *Record, depth),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Write queues record for background insertion. The passed context is not
// used for the insert itself; delivery outlives the request.
func (d *Dispatcher) Write(_ context.Context, record *Record) (err error) {
	// A send on the closed queue panics if Write races Close.
	defer func() {
		if recover() != nil {
			err = ErrDispatcherClosed
		}
	}()

	select {
	case d.queue <- record:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting records and waits up to timeout for the queue to
// drain. Records still queued after the timeout are lost.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.closeOnce.Do(func() {
		close(d.queue)
	})

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit dispatcher drain timed out after %v", timeout)
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for record := range d.queue {
		d.writeOne(record)
	}
}

func (d *Dispatcher) writeOne(record *Record) {
	defer func() {
		if r := recover(); r != nil {
			d.ops.WithField("panic", fmt.Sprintf("%v", r)).Error("audit dispatcher worker panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), dispatchWriteTimeout)
	defer cancel()

	// The writer logs and counts its own failures.
	_ = d.writer.Write(ctx, record)
}
