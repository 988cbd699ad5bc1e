package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/vocalis/internal/normalize"
	"github.com/MrWong99/vocalis/internal/observe"
	"github.com/MrWong99/vocalis/internal/pronunciation"
	"github.com/MrWong99/vocalis/internal/recognize"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
)

// DefaultMaxConcurrent is the worker pool size when none is configured.
const DefaultMaxConcurrent = 2

// Pronunciation job progress checkpoints.
const (
	progressPrepared   = 10
	progressNormalized = 30
	progressRecognized = 50
	progressAnalyzed   = 90
)

// Config holds the dependencies of a [Runner].
type Config struct {
	// Store defaults to a new [MemStore].
	Store Store
	// Normalizer is required.
	Normalizer *normalize.Normalizer
	// Driver is required. Its recognizer also serves pronunciation jobs.
	Driver *recognize.Driver
	// Analyzer defaults to [pronunciation.NewAnalyzer].
	Analyzer *pronunciation.Analyzer
	// MaxConcurrent bounds jobs in the processing state. Default 2.
	MaxConcurrent int
	// DefaultLanguage is used when a submission names none. Default "en".
	DefaultLanguage string
	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Runner validates, schedules and executes jobs.
type Runner struct {
	store    Store
	norm     *normalize.Normalizer
	driver   *recognize.Driver
	analyzer *pronunciation.Analyzer
	sem      *semaphore.Weighted
	lang     string
	metrics  *observe.Metrics

	// ctx is the parent of every task; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner returns a Runner. Call [Runner.Close] to stop it.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Normalizer == nil {
		return nil, errors.New("job: normalizer must not be nil")
	}
	if cfg.Driver == nil {
		return nil, errors.New("job: driver must not be nil")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = pronunciation.NewAnalyzer(pronunciation.WithMetrics(cfg.Metrics))
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    cfg.Store,
		norm:     cfg.Normalizer,
		driver:   cfg.Driver,
		analyzer: cfg.Analyzer,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		lang:     cfg.DefaultLanguage,
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Submit validates p, creates a queued job and schedules it. It returns as
// soon as the job is recorded. Validation failures return a
// [*ValidationError] and create nothing.
func (r *Runner) Submit(ctx context.Context, kind Kind, p Params) (string, error) {
	if err := validate(kind, p); err != nil {
		return "", err
	}
	p.Extension = ResolveExtension(p.Extension, p.AudioPath, p.ContentType)
	if p.Language == "" {
		p.Language = r.lang
	}
	if p.Task == "" {
		p.Task = stt.TaskTranscribe
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	id := uuid.NewString()
	if err := r.store.Create(ctx, Job{ID: id, Kind: kind}); err != nil {
		return "", fmt.Errorf("job: create: %w", err)
	}
	r.metrics.RecordJobSubmitted(ctx, string(kind))

	r.wg.Add(1)
	go r.run(trace.SpanContextFromContext(ctx), id, kind, p)
	return id, nil
}

// Poll returns a snapshot of the job. It never changes the job.
func (r *Runner) Poll(ctx context.Context, id string) (View, error) {
	return r.store.Get(ctx, id)
}

// Delete removes the job's bookkeeping and reports whether it existed. A
// running task is not stopped; it still cleans up its temp files and its
// later writes are discarded.
func (r *Runner) Delete(ctx context.Context, id string) bool {
	return r.store.Delete(ctx, id)
}

// Close stops accepting submissions, cancels running tasks and waits for
// them to finish or for ctx to expire.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("job: close: %w", ctx.Err())
	}
}

// Wait blocks until every submitted task has finished. Intended for tests
// and the CLI, which submit a fixed set of jobs.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func validate(kind Kind, p Params) error {
	if !kind.IsValid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown job kind %q", kind)}
	}
	if p.AudioPath == "" {
		return &ValidationError{Field: "file", Reason: "no audio file provided"}
	}
	fi, err := os.Stat(p.AudioPath)
	if err != nil {
		return &ValidationError{Field: "file", Reason: "audio file not found"}
	}
	if fi.IsDir() {
		return &ValidationError{Field: "file", Reason: "audio path is a directory"}
	}
	if fi.Size() == 0 {
		return &ValidationError{Field: "file", Reason: "audio file is empty"}
	}
	if p.Task != "" && !p.Task.IsValid() {
		return &ValidationError{Field: "task", Reason: fmt.Sprintf("unknown task %q", p.Task)}
	}
	if kind == KindPronunciation {
		if strings.TrimSpace(p.ReferenceText) == "" {
			return &ValidationError{Field: "reference_text", Reason: "reference text cannot be empty"}
		}
		rs := pronunciation.RulesetFor(p.Language)
		if len(pronunciation.Tokenize(p.ReferenceText, rs.Tag())) == 0 {
			return &ValidationError{Field: "reference_text", Reason: "reference text contains no words"}
		}
	}
	return nil
}

// run is the task boundary. It is the sole writer of job id. submitter is
// the span that submitted the job; the job's own trace links back to it.
func (r *Runner) run(submitter trace.SpanContext, id string, kind Kind, p Params) {
	defer r.wg.Done()

	ctx, span := observe.StartJobSpan(trace.ContextWithSpanContext(r.ctx, submitter), id, string(kind))
	defer span.End()
	log := observe.JobLogger(ctx, id, string(kind))
	t := newTask(id, r.store, log)
	if p.RemoveInput {
		t.addTemp(ctx, p.AudioPath)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		t.cleanup()
		// Never started; the job stays queued until it is deleted or the
		// process exits.
		log.Warn("job: dropped before start", "err", err)
		return
	}
	defer r.sem.Release(1)

	if err := r.store.Start(ctx, id); err != nil {
		t.cleanup()
		if !errors.Is(err, ErrDeleted) {
			log.Error("job: start", "err", err)
		}
		return
	}
	r.metrics.RecordJobStarted(ctx, string(kind))
	started := time.Now()
	log.Info("job: processing", "ext", p.Extension, "language", p.Language)

	res, err := r.execute(ctx, t, kind, p)

	// Temps go before the terminal write, whatever happened above.
	t.cleanup()

	status := StatusCompleted
	var werr error
	if err != nil {
		status = StatusFailed
		observe.FailSpan(span, err)
		log.Error("job: failed", "err", err)
		werr = r.store.Fail(ctx, id, err.Error())
	} else {
		log.Info("job: completed", "elapsed", time.Since(started))
		werr = r.store.Complete(ctx, id, res)
	}
	if werr != nil && !errors.Is(werr, ErrDeleted) {
		log.Error("job: terminal write", "status", status, "err", werr)
	}
	r.metrics.RecordJobFinished(ctx, string(kind), string(status), time.Since(started))
}

// execute runs the job body. A panic becomes an error.
func (r *Runner) execute(ctx context.Context, t *task, kind Kind, p Params) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job: internal error: %v", rec)
		}
	}()
	switch kind {
	case KindTranscription:
		return r.transcribe(ctx, t, p)
	case KindPronunciation:
		return r.assess(ctx, t, p)
	default:
		return Result{}, fmt.Errorf("job: unknown kind %q", kind)
	}
}

// prepare runs validate-and-repair. A repair failure is not fatal: the
// normalizer gets the original file.
func (r *Runner) prepare(ctx context.Context, t *task, p Params) (path, ext string) {
	repaired, temp, err := r.norm.ValidateAndRepair(ctx, p.AudioPath)
	if err != nil {
		t.log.Warn("job: audio repair failed, using original file", "err", err)
		return p.AudioPath, p.Extension
	}
	if temp {
		t.addTemp(ctx, repaired)
		return repaired, "wav"
	}
	return p.AudioPath, p.Extension
}

func (r *Runner) transcribe(ctx context.Context, t *task, p Params) (Result, error) {
	path, ext := r.prepare(ctx, t, p)
	pcm, err := r.norm.Normalize(ctx, path, ext)
	if err != nil {
		return Result{}, err
	}

	var last recognize.Update
	for u := range r.driver.Transcribe(ctx, pcm, stt.Options{Language: p.Language, Task: p.Task}) {
		last = u
		t.progress(ctx, u.Progress, u.Text)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("job: interrupted: %w", err)
	}
	return Result{
		Transcript: last.Text,
		Language:   p.Language,
		Duration:   pcm.Duration().Seconds(),
	}, nil
}

func (r *Runner) assess(ctx context.Context, t *task, p Params) (Result, error) {
	path, ext := r.prepare(ctx, t, p)
	t.progress(ctx, progressPrepared, "")

	pcm, err := r.norm.Normalize(ctx, path, ext)
	if err != nil {
		return Result{}, err
	}
	t.progress(ctx, progressNormalized, "")

	rec := r.driver.Recognizer()
	req := pronunciation.Request{
		Reference: p.ReferenceText,
		Ruleset:   pronunciation.RulesetFor(p.Language),
		Duration:  pcm.Duration(),
	}
	start := time.Now()
	tr, rerr := rec.Recognize(ctx, pcm, stt.Options{Language: p.Language, Task: stt.TaskTranscribe})
	r.metrics.RecognizeDuration.Record(ctx, time.Since(start).Seconds())
	t.progress(ctx, progressRecognized, "")

	var analysis pronunciation.Analysis
	if rerr != nil {
		r.metrics.RecordProviderRequest(ctx, rec.Name(), "error")
		t.log.Warn("job: recognition failed, scoring an empty attempt",
			"err", &recognize.RecognitionError{Window: 0, Err: rerr})
		analysis = pronunciation.TranscriptionFailed(req)
	} else {
		r.metrics.RecordProviderRequest(ctx, rec.Name(), "ok")
		req.Transcript = tr.Text
		analysis = r.analyzer.Analyze(ctx, req)
	}
	t.progress(ctx, progressAnalyzed, "")

	return Result{
		Transcript: analysis.Transcript,
		Language:   p.Language,
		Duration:   pcm.Duration().Seconds(),
		Analysis:   &analysis,
	}, nil
}

// task tracks the temp files and store writes of one job.
type task struct {
	id    string
	store Store
	log   *slog.Logger
	temps []string
	seen  map[string]bool
}

func newTask(id string, store Store, log *slog.Logger) *task {
	return &task{id: id, store: store, log: log, seen: make(map[string]bool)}
}

// addTemp registers path for removal. Registering the same path twice has
// no effect.
func (t *task) addTemp(ctx context.Context, path string) {
	if path == "" || t.seen[path] {
		return
	}
	t.seen[path] = true
	t.temps = append(t.temps, path)
	if err := t.store.AddTemp(ctx, t.id, path); err != nil && !errors.Is(err, ErrDeleted) {
		t.log.Debug("job: record temp", "path", path, "err", err)
	}
}

func (t *task) progress(ctx context.Context, p int, transcript string) {
	if err := t.store.Progress(ctx, t.id, p, transcript); err != nil && !errors.Is(err, ErrDeleted) {
		t.log.Warn("job: record progress", "progress", p, "err", err)
	}
}

// cleanup removes every registered temp exactly once.
func (t *task) cleanup() {
	for _, path := range t.temps {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.log.Warn("job: remove temp file", "path", path, "err", err)
		}
	}
	t.temps = nil
}
