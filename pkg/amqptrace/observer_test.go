// Shared recording observer for listener tests.
package amqptrace

import "sync"

type recordingObserver struct {
	mu    sync.Mutex
	infos []SpanInfo
}

func (r *recordingObserver) Observe(info SpanInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, info)
}

func (r *recordingObserver) get() []SpanInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpanInfo, len(r.infos))
	copy(out, r.infos)
	return out
}
