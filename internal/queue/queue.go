package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localscribe/transcription-service/internal/audio"
	"github.com/localscribe/transcription-service/internal/engine"
)

// Errors reported by Submit.
var (
	// ErrServerBusy indicates the queue is at capacity and the job was not admitted
	ErrServerBusy = errors.New("transcription queue is full")

	// ErrInferenceTimeout indicates the job exceeded its time budget (queue wait plus execution)
	ErrInferenceTimeout = errors.New("transcription timed out")

	// ErrStopped indicates the serializer is shutting down
	ErrStopped = errors.New("transcription queue is stopped")
)

// job pairs one admitted request with the channel its caller awaits.
type job struct {
	id       string
	pcm      *audio.NormalizedAudio
	language string
	ctx      context.Context
	result   chan outcome
	admitted time.Time
}

// outcome is the single terminal delivery for a job.
type outcome struct {
	result *engine.Result
	err    error
}

// Serializer funnels all transcription requests through one worker so the
// engine never sees concurrent calls.
type Serializer struct {
	eng    engine.Engine
	logger *slog.Logger
	jobs   chan *job

	// Per-job time budget covering queue wait and execution.
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	submitted uint64
	completed uint64
	failed    uint64
	rejected  uint64
	timeouts  uint64
	skipped   uint64
	mu        sync.RWMutex
}

// Statistics is a snapshot of serializer counters.
type Statistics struct {
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Rejected      uint64 `json:"rejected"`
	Timeouts      uint64 `json:"timeouts"`
	Skipped       uint64 `json:"skipped"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
}

// New creates a serializer with the given queue capacity and per-job timeout.
func New(eng engine.Engine, logger *slog.Logger, capacity int, timeout time.Duration) *Serializer {
	if capacity < 1 {
		capacity = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serializer{
		eng:     eng,
		logger:  logger,
		jobs:    make(chan *job, capacity),
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the single worker goroutine.
func (s *Serializer) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Stop shuts the serializer down. Jobs still queued are failed with
// ErrStopped; the job currently executing finishes first.
func (s *Serializer) Stop() {
	s.cancel()
	s.wg.Wait()

	// Fail whatever is still queued so no caller hangs.
	for {
		select {
		case j := <-s.jobs:
			j.result <- outcome{err: ErrStopped}
		default:
			return
		}
	}
}

// Submit admits the request and blocks until its terminal outcome: the
// transcription result, a rejection because the queue is full, a timeout, or
// caller cancellation. Admission never blocks.
func (s *Serializer) Submit(ctx context.Context, pcm *audio.NormalizedAudio, language string) (*engine.Result, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, ErrStopped
	}

	// The deadline starts at admission so it bounds queue wait plus execution.
	jobCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	j := &job{
		id:       uuid.NewString(),
		pcm:      pcm,
		language: language,
		ctx:      jobCtx,
		result:   make(chan outcome, 1), // buffered: the worker never blocks on delivery
		admitted: time.Now(),
	}

	select {
	case s.jobs <- j:
	default:
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()

		s.logger.Warn("Job rejected, queue at capacity",
			slog.String("job_id", j.id),
			slog.Int("queue_capacity", cap(s.jobs)),
		)
		return nil, ErrServerBusy
	}

	s.mu.Lock()
	s.submitted++
	s.mu.Unlock()

	s.logger.Debug("Job admitted",
		slog.String("job_id", j.id),
		slog.Int("queue_depth", len(s.jobs)),
		slog.Duration("audio_duration", pcm.Duration()),
	)

	select {
	case out := <-j.result:
		return out.result, out.err
	case <-s.ctx.Done():
		// Shutdown began after admission. The job may have been enqueued
		// after Stop's drain already ran, so do not wait for a delivery that
		// might never come; a result that did land wins.
		select {
		case out := <-j.result:
			return out.result, out.err
		default:
		}
		return nil, ErrStopped
	case <-jobCtx.Done():
		// The worker may still be running the inference; that cost is sunk.
		// If the job has not started yet the worker will skip it.
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			s.mu.Lock()
			s.timeouts++
			s.mu.Unlock()

			s.logger.Warn("Job timed out",
				slog.String("job_id", j.id),
				slog.Duration("timeout", s.timeout),
			)
			return nil, ErrInferenceTimeout
		}
		return nil, jobCtx.Err()
	}
}

// worker drains the queue one job at a time, in admission order.
func (s *Serializer) worker() {
	defer s.wg.Done()

	s.logger.Debug("Queue worker started")

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Queue worker stopped")
			return
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

// run executes a single job and delivers exactly one outcome.
func (s *Serializer) run(j *job) {
	// Caller already timed out or disconnected while queued; do not waste
	// model time on it.
	if err := j.ctx.Err(); err != nil {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()

		j.result <- outcome{err: err}

		s.logger.Debug("Job skipped before execution",
			slog.String("job_id", j.id),
			slog.Duration("queued_for", time.Since(j.admitted)),
		)
		return
	}

	start := time.Now()
	res, err := s.eng.Transcribe(j.ctx, j.pcm, j.language)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrInferenceTimeout
		}

		s.mu.Lock()
		s.failed++
		s.mu.Unlock()

		j.result <- outcome{err: err}

		s.logger.Error("Job failed",
			slog.String("job_id", j.id),
			slog.Duration("inference_time", elapsed),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.completed++
	s.mu.Unlock()

	j.result <- outcome{result: res}

	s.logger.Info("Job completed",
		slog.String("job_id", j.id),
		slog.Duration("queued_for", start.Sub(j.admitted)),
		slog.Duration("inference_time", elapsed),
		slog.Int("text_length", len(res.Text)),
	)
}

// GetStatistics returns a snapshot of the serializer counters.
func (s *Serializer) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Statistics{
		Submitted:     s.submitted,
		Completed:     s.completed,
		Failed:        s.failed,
		Rejected:      s.rejected,
		Timeouts:      s.timeouts,
		Skipped:       s.skipped,
		QueueDepth:    len(s.jobs),
		QueueCapacity: cap(s.jobs),
	}
}
