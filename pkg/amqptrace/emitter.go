// Emitter wraps receive, publish, and nested operations with timing and notifications.
// Receive handling runs detached from the dispatch loop; Wait drains it at shutdown.
package amqptrace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zoobzio/clockz"
)

// Handler processes one delivery. A returned error or a panic marks the
// delivery's span as failed.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Emitter produces notifications for intercepted operations.
// The zero value is usable; with a nil Notifier every operation runs untraced.
// Safe for concurrent use by multiple goroutines.
type Emitter struct {
	Notifier Notifier
	Clock    clockz.Clock

	tasks    sync.WaitGroup
	inflight atomic.Int64
}

func (e *Emitter) now() time.Time {
	if e.Clock == nil {
		return clockz.RealClock.Now()
	}
	return e.Clock.Now()
}

func (e *Emitter) enabled(kind EventKind) bool {
	return e.Notifier != nil && e.Notifier.Enabled(kind)
}

// notifyStart emits a Started event and returns the context the operation continues with.
func (e *Emitter) notifyStart(ctx context.Context, ev Started) context.Context {
	if out := e.Notifier.Notify(ctx, ev); out != nil {
		return out
	}
	return ctx
}

// InFlight returns the number of receive handlers still running.
func (e *Emitter) InFlight() int64 {
	return e.inflight.Load()
}

// Receive records d and hands it to h on a new goroutine, returning immediately.
// Started is emitted before h runs; Ended or Failed is emitted after it returns,
// whatever the outcome. Errors from h are not returned to the caller.
func (e *Emitter) Receive(ctx context.Context, d amqp.Delivery, h Handler) {
	rec := NewDelivery(d)

	e.tasks.Add(1)
	e.inflight.Add(1)
	go func() {
		defer e.tasks.Done()
		defer e.inflight.Add(-1)
		e.runReceive(ctx, rec, d, h)
	}()
}

func (e *Emitter) runReceive(ctx context.Context, rec *Delivery, d amqp.Delivery, h Handler) {
	start := e.now()
	if e.enabled(KindReceiveStart) {
		ctx = e.notifyStart(ctx, Started{Op: rec, At: start})
	}

	err := invoke(ctx, d, h)
	elapsed := e.now().Sub(start)

	if err != nil {
		if e.enabled(KindReceiveFail) {
			e.Notifier.Notify(ctx, Failed{Op: rec, Duration: elapsed, Err: err})
		}
		return
	}
	if e.enabled(KindReceiveEnd) {
		e.Notifier.Notify(ctx, Ended{Op: rec, Duration: elapsed})
	}
}

// invoke calls h, converting a panic into an error.
func invoke(ctx context.Context, d amqp.Delivery, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, d)
}

// Wait blocks until every receive handler started by Receive has finished and
// emitted its final notification, or ctx is done.
func (e *Emitter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d receive handlers: %w", e.InFlight(), ctx.Err())
	}
}
