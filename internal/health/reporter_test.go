package health

import (
	"sync"
	"testing"
)

func TestReporterStartsLoading(t *testing.T) {
	r := NewReporter()

	ready, model := r.Ready()
	if ready {
		t.Error("New reporter must not be ready")
	}
	if model != "" {
		t.Errorf("Expected empty model name, got %q", model)
	}
}

func TestReporterBecomesReadyOnce(t *testing.T) {
	r := NewReporter()

	r.SetReady("base")
	ready, model := r.Ready()
	if !ready {
		t.Error("Reporter must be ready after SetReady")
	}
	if model != "base" {
		t.Errorf("Expected model 'base', got %q", model)
	}

	// The first transition wins; later calls are ignored.
	r.SetReady("large")
	_, model = r.Ready()
	if model != "base" {
		t.Errorf("Model name changed after second SetReady: %q", model)
	}
}

func TestReporterConcurrentAccess(t *testing.T) {
	r := NewReporter()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.SetReady("base")
			r.Ready()
		}()
	}
	wg.Wait()

	ready, model := r.Ready()
	if !ready || model != "base" {
		t.Errorf("Expected ready with model 'base', got %v %q", ready, model)
	}
}
