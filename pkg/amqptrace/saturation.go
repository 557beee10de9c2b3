// Runtime saturation labels attached to slow spans.
// Sampled only when a span exceeds the configured threshold.
package amqptrace

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/process"
	"go.opentelemetry.io/otel/attribute"
)

// Saturation label keys.
const (
	LabelProcs            = "threads.procs"
	LabelCPUs             = "threads.cpus"
	LabelGoroutines       = "threads.goroutines"
	LabelOSThreads        = "threads.os"
	LabelHandlersInFlight = "threads.handlers.inflight"
)

// SaturationSampler reports how busy the process is when a span runs slow.
type SaturationSampler interface {
	Sample() []attribute.KeyValue
}

// RuntimeSampler samples scheduler and handler concurrency for this process.
// InFlight is optional and usually Emitter.InFlight.
type RuntimeSampler struct {
	InFlight func() int64

	proc *process.Process
}

// NewRuntimeSampler returns a sampler for the current process.
// OS thread counts are omitted when the process cannot be inspected.
func NewRuntimeSampler(inFlight func() int64) *RuntimeSampler {
	s := &RuntimeSampler{InFlight: inFlight}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil { //nolint:gosec // pids fit in int32
		s.proc = p
	}
	return s
}

// Sample returns the current saturation labels.
func (s *RuntimeSampler) Sample() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(LabelProcs, runtime.GOMAXPROCS(0)),
		attribute.Int(LabelCPUs, runtime.NumCPU()),
		attribute.Int(LabelGoroutines, runtime.NumGoroutine()),
	}
	if s.proc != nil {
		if n, err := s.proc.NumThreads(); err == nil {
			attrs = append(attrs, attribute.Int(LabelOSThreads, int(n)))
		}
	}
	if s.InFlight != nil {
		attrs = append(attrs, attribute.Int64(LabelHandlersInFlight, s.InFlight()))
	}
	return attrs
}
