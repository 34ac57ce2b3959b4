package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TechnicallyShaun/callsched/internal/schedule/audio"
	"github.com/TechnicallyShaun/callsched/internal/schedule/completion"
	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/response"
)

// Transcoder converts a recording into a 16 kHz mono WAV at outputPath.
type Transcoder interface {
	Transcode(inputPath, outputPath string) (audio.Stats, error)
}

// Transcriber turns a WAV file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcmPath string) (string, error)
}

// Analyzer sends a prompt to a language model and returns its reply.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// Store persists a completed run. The outcome passed in carries the
// schedule; FinishedAt is not yet set.
type Store interface {
	Save(ctx context.Context, outcome Outcome) error
}

// Notifier receives the terminal outcome of every run.
type Notifier interface {
	Notify(ctx context.Context, outcome Outcome) error
}

// Orchestrator runs recordings through the pipeline. It is safe for
// concurrent use; runs share no mutable state.
type Orchestrator struct {
	transcoder  Transcoder
	transcriber Transcriber
	analyzer    Analyzer
	store       Store
	notifier    Notifier

	tempDir  string
	fallback TimeFallback
	logger   logging.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTempDir sets the directory for intermediate WAV files.
func WithTempDir(dir string) Option {
	return func(o *Orchestrator) {
		o.tempDir = dir
	}
}

// WithTimeFallback sets the policy for unresolved dates and times.
func WithTimeFallback(f TimeFallback) Option {
	return func(o *Orchestrator) {
		o.fallback = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(newID func() string) Option {
	return func(o *Orchestrator) {
		o.newID = newID
	}
}

// New creates an Orchestrator from its collaborators.
func New(transcoder Transcoder, transcriber Transcriber, analyzer Analyzer, store Store, notifier Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		transcoder:  transcoder,
		transcriber: transcriber,
		analyzer:    analyzer,
		store:       store,
		notifier:    notifier,
		tempDir:     os.TempDir(),
		fallback:    FallbackNone,
		logger:      logging.Nop(),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the state of one recording's trip through the pipeline.
type run struct {
	outcome Outcome
	stage   Stage
	wavPath string
	reply   string
	fields  response.Fields
	logger  logging.Logger
}

func (r *run) fail(reason string, err error) {
	r.outcome.Failure = &Failure{Stage: r.stage, Reason: reason, Err: err}
	r.outcome.Schedule = nil
}

// Run processes one stable recording. It never panics and never returns an
// error: every failure becomes a Failed outcome tagged with its stage. The
// intermediate WAV file is removed on every path, and the notifier is called
// exactly once.
func (o *Orchestrator) Run(ctx context.Context, file completion.RawAudioFile) Outcome {
	id := o.newID()
	r := &run{
		outcome: Outcome{
			RunID:     id,
			Source:    file,
			StartedAt: o.now(),
		},
		stage:   Idle,
		wavPath: filepath.Join(o.tempDir, "callsched-"+id+".wav"),
		logger: o.logger.With(
			logging.String("run_id", id),
			logging.String("file", file.Path),
		),
	}

	r.logger.Info("run started")
	o.execute(ctx, r)
	o.cleanup(r)

	r.outcome.FinishedAt = o.now()
	o.logResult(r)
	o.notify(ctx, r.logger, r.outcome)
	return r.outcome
}

// ReportDropped emits a Failed(FileStable) outcome for a candidate the
// completion watcher gave up on.
func (o *Orchestrator) ReportDropped(ctx context.Context, path string, cause error) Outcome {
	id := o.newID()
	now := o.now()
	out := Outcome{
		RunID:      id,
		Source:     completion.RawAudioFile{Path: path},
		Failure:    &Failure{Stage: FileStable, Reason: cause.Error(), Err: cause},
		StartedAt:  now,
		FinishedAt: now,
	}
	logger := o.logger.With(logging.String("run_id", id), logging.String("file", path))
	logger.Error("run failed", cause, logging.String("stage", FileStable.String()))
	o.notify(ctx, logger, out)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, r *run) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in pipeline", nil,
				logging.String("stage", r.stage.String()),
				logging.String("panic", fmt.Sprint(p)),
				logging.String("stack", string(debug.Stack())),
			)
			r.fail(fmt.Sprintf("internal error: %v", p), fmt.Errorf("panic: %v", p))
		}
	}()

	steps := []struct {
		stage Stage
		fn    func(context.Context, *run) error
	}{
		{FileStable, o.checkSource},
		{Transcoding, o.transcode},
		{Transcribing, o.transcribe},
		{Analyzing, o.analyze},
		{Validating, o.validate},
		{Resolving, o.resolve},
		{Persisting, o.persist},
	}

	for _, step := range steps {
		r.stage = step.stage
		r.logger.Debug("stage entered", logging.String("stage", step.stage.String()))

		if err := step.fn(ctx, r); err != nil {
			r.fail(failureReason(err), err)
			return
		}
	}
	r.stage = Completed
}

func (o *Orchestrator) checkSource(_ context.Context, r *run) error {
	info, err := os.Stat(r.outcome.Source.Path)
	if err != nil {
		return fmt.Errorf("stat recording: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", r.outcome.Source.Path)
	}
	if r.outcome.Source.Size == 0 {
		r.outcome.Source.Size = info.Size()
	}
	if r.outcome.Source.ModTime.IsZero() {
		r.outcome.Source.ModTime = info.ModTime()
	}
	return nil
}

func (o *Orchestrator) transcode(_ context.Context, r *run) error {
	start := time.Now()
	stats, err := o.transcoder.Transcode(r.outcome.Source.Path, r.wavPath)
	if err != nil {
		return err
	}
	r.logger.Info("transcoded",
		logging.String("codec", stats.Codec),
		logging.Int("source_rate", stats.SourceRate),
		logging.Int("source_channels", stats.SourceChannels),
		logging.Int("samples", stats.Samples),
		logging.Duration("audio", stats.Duration),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, r *run) error {
	start := time.Now()
	text, err := o.transcriber.Transcribe(ctx, r.wavPath)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyTranscript
	}
	r.outcome.Transcript = text
	r.logger.Info("transcribed",
		logging.Int("chars", len(text)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, r *run) error {
	start := time.Now()
	reply, err := o.analyzer.Analyze(ctx, BuildPrompt(r.outcome.Transcript))
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	r.reply = reply
	r.logger.Info("analyzed",
		logging.Int("chars", len(reply)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (o *Orchestrator) validate(_ context.Context, r *run) error {
	fields, err := response.Validate(r.reply)
	if err != nil {
		r.logger.Debug("rejected reply", logging.String("reply", r.reply))
		return err
	}
	r.fields = fields
	return nil
}

func (o *Orchestrator) resolve(_ context.Context, r *run) error {
	today := r.outcome.Source.ModTime
	now := o.now()
	if today.IsZero() {
		today = now
	}

	s := Resolve(r.fields, today, now, o.fallback)
	if !s.Date.Valid {
		r.logger.Warn("date unresolved", logging.String("raw_date", s.RawDate))
	}
	if !s.Time.Valid {
		r.logger.Warn("time unresolved", logging.String("raw_time", s.RawTime))
	}
	if s.Fallback {
		r.logger.Warn("next-hour fallback applied",
			logging.String("raw_date", s.RawDate),
			logging.String("raw_time", s.RawTime),
			logging.String("date", s.Date.String()),
			logging.String("hour", s.Time.Hour()),
			logging.String("minute", s.Time.Minute()),
		)
	}
	r.outcome.Schedule = s
	return nil
}

func (o *Orchestrator) persist(ctx context.Context, r *run) error {
	if err := o.store.Save(ctx, r.outcome); err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (o *Orchestrator) cleanup(r *run) {
	err := os.Remove(r.wavPath)
	switch {
	case err == nil:
		r.logger.Debug("removed temp file", logging.String("temp", r.wavPath))
	case !errors.Is(err, os.ErrNotExist):
		r.logger.Error("failed to remove temp file", err, logging.String("temp", r.wavPath))
	}
}

func (o *Orchestrator) logResult(r *run) {
	out := r.outcome
	if f := out.Failure; f != nil {
		r.logger.Error("run failed", f.Err,
			logging.String("stage", f.Stage.String()),
			logging.String("reason", f.Reason),
			logging.Duration("elapsed", out.Duration()),
		)
		return
	}
	r.logger.Info("run completed",
		logging.String("title", out.Schedule.Title),
		logging.String("date", out.Schedule.Date.String()),
		logging.String("hour", out.Schedule.Time.Hour()),
		logging.String("minute", out.Schedule.Time.Minute()),
		logging.Duration("elapsed", out.Duration()),
	)
}

func (o *Orchestrator) notify(ctx context.Context, logger logging.Logger, out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic in notifier", fmt.Errorf("panic: %v", p))
		}
	}()
	if err := o.notifier.Notify(ctx, out); err != nil {
		logger.Error("notify failed", err)
	}
}

func failureReason(err error) string {
	if errors.Is(err, ErrEmptyTranscript) {
		return ErrEmptyTranscript.Error()
	}
	return err.Error()
}
