package sink

import (
	"context"
	"errors"

	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

// MultiStore saves to every store in order. All stores are tried; the
// errors are joined.
type MultiStore []pipeline.Store

// Save implements pipeline.Store.
func (m MultiStore) Save(ctx context.Context, outcome pipeline.Outcome) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MultiNotifier fans an outcome out to every notifier. One failing
// notifier does not stop the others.
type MultiNotifier []pipeline.Notifier

// Notify implements pipeline.Notifier.
func (m MultiNotifier) Notify(ctx context.Context, outcome pipeline.Outcome) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, outcome); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OutcomeMessage is the log message LogNotifier writes. The status command
// counts these lines.
const OutcomeMessage = "outcome"

// LogNotifier writes one summary line per outcome.
type LogNotifier struct {
	logger logging.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements pipeline.Notifier.
func (n *LogNotifier) Notify(_ context.Context, o pipeline.Outcome) error {
	fields := []logging.Field{
		logging.String("run_id", o.RunID),
		logging.String("status", o.Status()),
		logging.String("file", o.Source.Path),
		logging.Duration("elapsed", o.Duration()),
	}
	if s := o.Schedule; s != nil {
		fields = append(fields,
			logging.String("title", s.Title),
			logging.String("date", s.Date.String()),
			logging.String("hour", s.Time.Hour()),
			logging.String("minute", s.Time.Minute()),
			logging.String("place", s.Place),
		)
	}
	if f := o.Failure; f != nil {
		fields = append(fields,
			logging.String("stage", f.Stage.String()),
			logging.String("reason", f.Reason),
		)
	}
	n.logger.Info(OutcomeMessage, fields...)
	return nil
}
