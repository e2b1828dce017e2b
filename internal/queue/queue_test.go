package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/localscribe/transcription-service/internal/audio"
	"github.com/localscribe/transcription-service/internal/engine"
)

// mockEngine simulates inference with a configurable delay and records
// whether calls ever overlap.
type mockEngine struct {
	delay time.Duration

	// transcribe override; when nil the default echo behavior runs.
	transcribe func(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error)

	calls    atomic.Int64
	inFlight atomic.Int64
	overlaps atomic.Int64

	mu    sync.Mutex
	order []string
}

func (m *mockEngine) Transcribe(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
	if m.inFlight.Add(1) > 1 {
		m.overlaps.Add(1)
	}
	defer m.inFlight.Add(-1)

	m.calls.Add(1)

	if m.transcribe != nil {
		return m.transcribe(ctx, pcm, language)
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text := fmt.Sprintf("transcript of %d samples", len(pcm.Samples))
	m.mu.Lock()
	m.order = append(m.order, text)
	m.mu.Unlock()

	return &engine.Result{Text: text, Duration: pcm.Duration()}, nil
}

func (m *mockEngine) ModelName() string { return "mock" }
func (m *mockEngine) Close() error      { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPCM(numSamples int) *audio.NormalizedAudio {
	return &audio.NormalizedAudio{Samples: make([]int16, numSamples), SampleRate: 16000}
}

func TestSubmitDeliversResult(t *testing.T) {
	eng := &mockEngine{}
	s := New(eng, testLogger(), 4, time.Second)
	s.Start()
	defer s.Stop()

	res, err := s.Submit(context.Background(), testPCM(160), "auto")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if res.Text != "transcript of 160 samples" {
		t.Errorf("Unexpected text: %q", res.Text)
	}
}

func TestNoOverlappingInference(t *testing.T) {
	eng := &mockEngine{delay: 20 * time.Millisecond}
	s := New(eng, testLogger(), 16, 5*time.Second)
	s.Start()
	defer s.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Submit(context.Background(), testPCM(160), "auto"); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := eng.overlaps.Load(); n != 0 {
		t.Errorf("Detected %d overlapping inference calls", n)
	}

	if n := eng.calls.Load(); n != 8 {
		t.Errorf("Expected 8 inference calls, got %d", n)
	}
}

func TestFIFOOrdering(t *testing.T) {
	eng := &mockEngine{}
	s := New(eng, testLogger(), 16, 5*time.Second)

	// Queue jobs of distinguishable sizes before the worker starts so the
	// admission order is unambiguous.
	results := make([]chan string, 5)
	for i := 0; i < 5; i++ {
		results[i] = make(chan string, 1)
		numSamples := (i + 1) * 100
		ch := results[i]
		go func() {
			res, err := s.Submit(context.Background(), testPCM(numSamples), "auto")
			if err != nil {
				ch <- "error: " + err.Error()
				return
			}
			ch <- res.Text
		}()
		// Give each goroutine time to enqueue before the next starts.
		time.Sleep(10 * time.Millisecond)
	}

	s.Start()
	defer s.Stop()

	for i := 0; i < 5; i++ {
		<-results[i]
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	if len(eng.order) != 5 {
		t.Fatalf("Expected 5 executions, got %d", len(eng.order))
	}

	for i, got := range eng.order {
		want := fmt.Sprintf("transcript of %d samples", (i+1)*100)
		if got != want {
			t.Errorf("Execution %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestServerBusyWhenFull(t *testing.T) {
	release := make(chan struct{})
	eng := &mockEngine{
		transcribe: func(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
			select {
			case <-release:
				return &engine.Result{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	s := New(eng, testLogger(), 5, 10*time.Second)
	s.Start()

	var releaseOnce sync.Once
	releaseAll := func() { releaseOnce.Do(func() { close(release) }) }
	defer func() {
		releaseAll()
		s.Stop()
	}()

	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Submit(context.Background(), testPCM(160), "auto")
			switch {
			case errors.Is(err, ErrServerBusy):
				rejected.Add(1)
			default:
				admitted.Add(1)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	// The rejected submits must return immediately; only the admitted ones
	// block on the engine.
	deadline := time.After(2 * time.Second)
	for rejected.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("Expected fast rejections, got %d rejected so far", rejected.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	releaseAll()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submitters did not finish after release")
	}

	// Capacity 5 plus the one job the worker already pulled: at least 4 of
	// the 10 must have been turned away, and every request got a terminal
	// outcome.
	if admitted.Load()+rejected.Load() != 10 {
		t.Errorf("Expected 10 outcomes, got %d admitted + %d rejected",
			admitted.Load(), rejected.Load())
	}

	if rejected.Load() < 4 {
		t.Errorf("Expected at least 4 rejections, got %d", rejected.Load())
	}
}

func TestInferenceTimeout(t *testing.T) {
	eng := &mockEngine{delay: time.Second}
	s := New(eng, testLogger(), 4, 50*time.Millisecond)
	s.Start()
	defer s.Stop()

	start := time.Now()
	_, err := s.Submit(context.Background(), testPCM(160), "auto")
	elapsed := time.Since(start)

	if !errors.Is(err, ErrInferenceTimeout) {
		t.Fatalf("Expected ErrInferenceTimeout, got %v", err)
	}

	if elapsed > 500*time.Millisecond {
		t.Errorf("Caller held past the timeout: %s", elapsed)
	}
}

func TestTimeoutCoversQueueWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	blocker := &mockEngine{
		transcribe: func(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &engine.Result{}, nil
		},
	}

	s := New(blocker, testLogger(), 4, 100*time.Millisecond)
	s.Start()
	defer s.Stop()

	// Occupy the worker.
	go s.Submit(context.Background(), testPCM(160), "auto")
	time.Sleep(20 * time.Millisecond)

	// This job spends its whole budget waiting in the queue.
	_, err := s.Submit(context.Background(), testPCM(160), "auto")
	if !errors.Is(err, ErrInferenceTimeout) {
		t.Errorf("Expected ErrInferenceTimeout for queued job, got %v", err)
	}
}

func TestCancelledJobSkippedIfNotStarted(t *testing.T) {
	release := make(chan struct{})

	blocker := &mockEngine{
		transcribe: func(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &engine.Result{}, nil
		},
	}

	s := New(blocker, testLogger(), 4, 10*time.Second)
	s.Start()
	defer s.Stop()

	// Occupy the worker so the next job stays queued.
	go s.Submit(context.Background(), testPCM(160), "auto")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Submit(ctx, testPCM(160), "auto")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled caller was not released")
	}

	callsBefore := blocker.calls.Load()
	close(release)

	// Let the worker drain; the cancelled job must be skipped, not executed.
	time.Sleep(50 * time.Millisecond)

	if got := blocker.calls.Load(); got != callsBefore {
		t.Errorf("Cancelled job was executed: %d calls before, %d after", callsBefore, got)
	}

	stats := s.GetStatistics()
	if stats.Skipped != 1 {
		t.Errorf("Expected 1 skipped job, got %d", stats.Skipped)
	}
}

func TestStopUnblocksQueuedSubmit(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	eng := &mockEngine{
		transcribe: func(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
			close(started)
			<-release
			return &engine.Result{}, nil
		},
	}

	// The timeout is far above what the test tolerates, so a pass proves the
	// queued caller was released by shutdown, not by its deadline.
	s := New(eng, testLogger(), 2, 30*time.Second)
	s.Start()

	go s.Submit(context.Background(), testPCM(160), "auto")
	<-started

	queuedErr := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), testPCM(160), "auto")
		queuedErr <- err
	}()

	// Let the second job reach the queue behind the executing one.
	time.Sleep(50 * time.Millisecond)

	// Stop blocks until the executing job finishes, but the queued caller
	// must not wait for that, let alone for its own deadline.
	go s.Stop()

	select {
	case err := <-queuedErr:
		if !errors.Is(err, ErrStopped) {
			t.Errorf("Expected ErrStopped, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Queued Submit still blocked after Stop began")
	}

	close(release)
}

func TestSubmitAfterStop(t *testing.T) {
	s := New(&mockEngine{}, testLogger(), 4, time.Second)
	s.Start()
	s.Stop()

	_, err := s.Submit(context.Background(), testPCM(160), "auto")
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	eng := &mockEngine{}
	s := New(eng, testLogger(), 4, time.Second)
	s.Start()
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if _, err := s.Submit(context.Background(), testPCM(160), "auto"); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	stats := s.GetStatistics()
	if stats.Submitted != 3 {
		t.Errorf("Expected 3 submitted, got %d", stats.Submitted)
	}
	if stats.Completed != 3 {
		t.Errorf("Expected 3 completed, got %d", stats.Completed)
	}
	if stats.QueueCapacity != 4 {
		t.Errorf("Expected capacity 4, got %d", stats.QueueCapacity)
	}
}
