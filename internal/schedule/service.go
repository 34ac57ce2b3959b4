package schedule

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/TechnicallyShaun/callsched/internal/home"
	"github.com/TechnicallyShaun/callsched/internal/schedule/analyzer"
	"github.com/TechnicallyShaun/callsched/internal/schedule/audio"
	"github.com/TechnicallyShaun/callsched/internal/schedule/client"
	"github.com/TechnicallyShaun/callsched/internal/schedule/completion"
	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
	"github.com/TechnicallyShaun/callsched/internal/schedule/sink"
	"github.com/TechnicallyShaun/callsched/internal/schedule/stabilizer"
	"github.com/TechnicallyShaun/callsched/internal/schedule/watcher"
)

// Service watches the configured directory and runs every finished
// recording through the pipeline.
type Service struct {
	config       *Config
	logger       *logging.FileLogger
	orchestrator *pipeline.Orchestrator
	source       completion.EventSource

	wg sync.WaitGroup
}

type serviceOptions struct {
	console io.Writer
	source  completion.EventSource
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithConsole mirrors log lines to w in human-readable form.
func WithConsole(w io.Writer) ServiceOption {
	return func(o *serviceOptions) {
		o.console = w
	}
}

// WithEventSource replaces the inotify watcher.
func WithEventSource(src completion.EventSource) ServiceOption {
	return func(o *serviceOptions) {
		o.source = src
	}
}

// NewService validates cfg and builds every pipeline component. Logs go to
// the layout's logs directory.
func NewService(cfg *Config, layout home.Layout, opts ...ServiceOption) (*Service, error) {
	var so serviceOptions
	for _, opt := range opts {
		opt(&so)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig := logging.DefaultConfig().WithMinLevel(level)
	logConfig.LogDir = layout.LogsDir
	logConfig.Component = "service"
	logConfig.Console = so.console
	logger, err := logging.New(logConfig)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = layout.TempDir
	}
	orch, err := buildOrchestrator(cfg, tempDir, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}

	return &Service{
		config:       cfg,
		logger:       logger,
		orchestrator: orch,
		source:       so.source,
	}, nil
}

func buildOrchestrator(cfg *Config, tempDir string, logger *logging.FileLogger) (*pipeline.Orchestrator, error) {
	if err := os.MkdirAll(tempDir, 0700); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	fallback, err := pipeline.ParseTimeFallback(cfg.TimeFallback)
	if err != nil {
		return nil, err
	}

	transcoder := audio.NewTranscoder(audio.NewFFmpegDecoder(cfg.FFmpegPath))

	transcriber := client.NewEngine(
		client.NewRetryClient(
			client.NewWhisperASRClient(cfg.TranscriptionURL),
			client.WithRetryCount(cfg.RetryCount),
			client.WithLogger(logger.WithComponent("transcription")),
		),
		client.TranscribeOptions{
			Language:      cfg.Language,
			InitialPrompt: cfg.InitialPrompt,
		},
	)

	an, err := newAnalyzer(cfg)
	if err != nil {
		return nil, err
	}

	store := sink.MultiStore{sink.NewMarkdownStore(cfg.OutputDir)}

	notifiers := sink.MultiNotifier{sink.NewLogNotifier(logger.WithComponent("notify"))}
	if cfg.LedgerPath != "" {
		notifiers = append(notifiers, sink.NewLedger(cfg.LedgerPath))
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, sink.NewWebhook(cfg.WebhookURL,
			sink.WithWebhookLogger(logger.WithComponent("webhook")),
		))
	}

	return pipeline.New(transcoder, transcriber, an, store, notifiers,
		pipeline.WithTempDir(tempDir),
		pipeline.WithTimeFallback(fallback),
		pipeline.WithLogger(logger.WithComponent("pipeline")),
	), nil
}

func newAnalyzer(cfg *Config) (pipeline.Analyzer, error) {
	switch cfg.AnalysisProvider {
	case ProviderCommand:
		cmd, err := analyzer.NewCommand(cfg.AnalysisCommand)
		if err != nil {
			return nil, fmt.Errorf("analysis command: %w", err)
		}
		return cmd, nil
	default:
		chat, err := analyzer.NewChatClient(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.AnalysisModel)
		if err != nil {
			return nil, fmt.Errorf("analysis client: %w", err)
		}
		return chat, nil
	}
}

// Run watches for recordings and blocks until ctx is cancelled or the
// process receives SIGINT or SIGTERM. New events stop being accepted at
// that point; runs already started are allowed to finish.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-flight runs outlive the watch context.
	runCtx := context.WithoutCancel(ctx)

	source := s.source
	if source == nil {
		fw, err := watcher.NewInotifyWatcher()
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		source = fw
	}

	stab := stabilizer.NewPollStabilizer(
		s.config.StabilizationInterval(),
		s.config.StabilizationChecks,
		s.config.StabilizationMaxPolls,
	)
	cw := completion.New(source, stab,
		completion.WithPatterns(s.config.WatchPatterns...),
		completion.WithMaxSize(s.config.MaxFileSize()),
		completion.WithOnDrop(func(path string, err error) {
			s.orchestrator.ReportDropped(runCtx, path, err)
		}),
		completion.WithLogger(s.logger.WithComponent("watcher")),
	)

	s.logger.Info("starting service",
		logging.String("watch_dir", s.config.WatchDir),
		logging.String("transcription_url", s.config.TranscriptionURL),
		logging.String("analysis_provider", s.config.AnalysisProvider),
		logging.String("output_dir", s.config.OutputDir),
	)

	files, err := cw.Watch(ctx, s.config.WatchDir)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	s.logger.Info("watching for recordings",
		logging.String("patterns", fmt.Sprintf("%v", s.config.WatchPatterns)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down", logging.String("cause", context.Cause(ctx).Error()))
			return s.shutdown(cw, files)

		case file, ok := <-files:
			if !ok {
				s.logger.Info("watcher channel closed")
				return s.shutdown(cw, nil)
			}
			s.handleFile(runCtx, file)
		}
	}
}

// handleFile runs one recording on its own goroutine.
func (s *Service) handleFile(ctx context.Context, file completion.RawAudioFile) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.orchestrator.Run(ctx, file)
	}()
}

// ProcessFile runs a single recording through the pipeline, bypassing the
// watcher and stability checks.
func (s *Service) ProcessFile(ctx context.Context, path string) (pipeline.Outcome, error) {
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if info.IsDir() {
		return pipeline.Outcome{}, fmt.Errorf("%s is a directory", path)
	}
	return s.orchestrator.Run(ctx, completion.RawAudioFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}), nil
}

// shutdown stops the watcher, drains any pending recordings, and waits for
// in-flight runs.
func (s *Service) shutdown(cw *completion.Watcher, files <-chan completion.RawAudioFile) error {
	if err := cw.Stop(); err != nil {
		s.logger.Error("error stopping watcher", err)
	}
	if files != nil {
		for range files {
		}
	}

	s.logger.Info("waiting for in-flight runs to complete")
	s.wg.Wait()

	s.logger.Info("service stopped")
	return nil
}

// Close releases the log file.
func (s *Service) Close() error {
	return s.logger.Close()
}

// LogPath returns the path of the current log file.
func (s *Service) LogPath() string {
	return s.logger.LogPath()
}
