package health

import "sync"

// Reporter holds the process readiness state. It starts in the loading state
// and becomes ready once, when the model is available.
type Reporter struct {
	mu    sync.RWMutex
	ready bool
	model string
}

// NewReporter creates a reporter in the loading state.
func NewReporter() *Reporter {
	return &Reporter{}
}

// SetReady marks the process ready and records the loaded model name.
// The transition is one-way; later calls change nothing.
func (r *Reporter) SetReady(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready {
		return
	}
	r.ready = true
	r.model = model
}

// Ready reports whether the model is loaded, and its name when it is.
func (r *Reporter) Ready() (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready, r.model
}
