// Nested span scopes: caller-delimited sub-operations with their own labels.
package amqptrace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope is an open nested span. End must be called exactly once on every exit
// path, typically with defer; further calls are ignored.
type Scope struct {
	e     *Emitter
	ctx   context.Context
	rec   *Span
	start time.Time

	mu     sync.Mutex
	labels []Label
	once   sync.Once
}

// StartSpan opens a nested span named command and emits Started immediately.
// The returned context carries the span for operations nested inside it.
func (e *Emitter) StartSpan(ctx context.Context, command string) (context.Context, *Scope) {
	s := &Scope{
		e:     e,
		rec:   &Span{ID: uuid.New(), Command: command},
		start: e.now(),
	}
	if e.enabled(KindSpanStart) {
		ctx = e.notifyStart(ctx, Started{Op: s.rec, At: s.start})
	}
	s.ctx = ctx
	return ctx, s
}

// AddLabel records a label to be attached when the scope ends.
func (s *Scope) AddLabel(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, Label{Key: key, Value: value})
}

// ID returns the scope's correlation ID.
func (s *Scope) ID() ID { return s.rec.ID }

// End closes the scope and emits Ended with the elapsed time and accumulated labels.
func (s *Scope) End() {
	s.once.Do(func() {
		elapsed := s.e.now().Sub(s.start)

		s.mu.Lock()
		s.rec.Labels = append([]Label(nil), s.labels...)
		s.mu.Unlock()

		if s.e.enabled(KindSpanEnd) {
			s.e.Notifier.Notify(s.ctx, Ended{Op: s.rec, Duration: elapsed})
		}
	})
}

// WithSpan runs fn inside a nested span named command. The span ends when fn
// returns or panics; a panic continues to unwind after the span has ended.
func (e *Emitter) WithSpan(ctx context.Context, command string, fn func(ctx context.Context, s *Scope) error) error {
	ctx, s := e.StartSpan(ctx, command)
	defer s.End()
	return fn(ctx, s)
}
