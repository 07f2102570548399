package journal

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-devserver/internal/control"
	"github.com/nerrad567/gray-logic-devserver/internal/option"
	"github.com/nerrad567/gray-logic-devserver/internal/stream"
)

// Logger defines the logging interface used by the journal.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Journal records option changes and restores them at startup.
// It is a control.OptionObserver.
type Journal struct {
	repo   Repository
	logger Logger
}

var _ control.OptionObserver = (*Journal)(nil)

// New creates a journal over repo.
func New(repo Repository) *Journal {
	return &Journal{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the journal logger.
func (j *Journal) SetLogger(l Logger) {
	j.logger = l
}

// Repository returns the underlying repository.
func (j *Journal) Repository() Repository {
	return j.repo
}

// OptionChanged records an applied set-option.
func (j *Journal) OptionChanged(ctx context.Context, change control.OptionChange) error {
	err := j.repo.Record(ctx, Entry{
		Stream:    change.Stream,
		Option:    change.Option,
		Value:     change.Value,
		ChangedAt: change.At,
	})
	if err != nil {
		return fmt.Errorf("journaling %s: %w", change.Option, err)
	}
	return nil
}

// Restore writes journaled last values into the given options before the
// device is initialised. Entries whose option no longer exists are skipped
// with a warning.
//
// Returns:
//   - int: Number of options restored
//   - error: If the journal cannot be read
func (j *Journal) Restore(ctx context.Context, deviceOptions option.List, streams []*stream.Stream) (int, error) {
	entries, err := j.repo.LastValues(ctx)
	if err != nil {
		return 0, err
	}

	byStream := make(map[string]option.List, len(streams))
	for _, s := range streams {
		byStream[s.Name()] = s.Options()
	}

	restored := 0
	for _, e := range entries {
		opts := deviceOptions
		if e.Stream != "" {
			var ok bool
			if opts, ok = byStream[e.Stream]; !ok {
				j.logger.Warn("journaled stream no longer exists", "stream", e.Stream, "option", e.Option)
				continue
			}
		}

		o, ok := opts.Find(e.Option)
		if !ok {
			j.logger.Warn("journaled option no longer exists", "stream", e.Stream, "option", e.Option)
			continue
		}

		o.SetValue(e.Value)
		restored++
		j.logger.Debug("option restored", "stream", e.Stream, "option", e.Option, "value", e.Value)
	}

	return restored, nil
}
