// Package extensions holds optional Extension implementations built on
// top of the core package: none of these are required to use a Scope or
// Flow. They build on log/slog and treedrawer, which the core package
// itself does not import.
package extensions

import (
	"log/slog"
	"time"

	pumped "github.com/pumped-run/pumped-go"
)

// LoggingExtension logs every resolve/update/execute/subflow/journal/
// parallel operation at Debug on entry and Info (or Warn on error) on
// completion, via the given *slog.Logger.
type LoggingExtension struct {
	pumped.BaseExtension
	log *slog.Logger
}

// NewLoggingExtension builds a LoggingExtension. If log is nil, slog's
// default logger is used.
func NewLoggingExtension(log *slog.Logger) *LoggingExtension {
	if log == nil {
		log = slog.Default()
	}
	return &LoggingExtension{log: log}
}

func (e *LoggingExtension) Wrap(fctx *pumped.FlowContext, next func() (any, error), op *pumped.Operation) (any, error) {
	attrs := operationAttrs(op)
	e.log.Debug("operation starting", attrs...)

	start := time.Now()
	result, err := next()
	elapsed := time.Since(start)

	attrs = append(attrs, slog.Duration("elapsed", elapsed))
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		e.log.Warn("operation failed", attrs...)
		return result, err
	}
	e.log.Info("operation completed", attrs...)
	return result, err
}

func (e *LoggingExtension) OnError(err error, scope *pumped.Scope, fctx *pumped.FlowContext) {
	e.log.Error("unhandled operation error", slog.Any("error", err))
}

func operationAttrs(op *pumped.Operation) []any {
	attrs := []any{slog.String("kind", string(op.Kind))}
	switch op.Kind {
	case pumped.OpResolve:
		if op.Executor != nil {
			attrs = append(attrs, slog.String("executor", op.Executor.Label()))
		}
		attrs = append(attrs, slog.String("action", op.SubAction))
	case pumped.OpExecute, pumped.OpSubflow:
		if op.Definition != nil {
			attrs = append(attrs, slog.String("flow", op.Definition.Name()))
		}
		attrs = append(attrs, slog.Int("depth", op.Depth))
		if op.Kind == pumped.OpSubflow && op.JournalKey != "" {
			attrs = append(attrs, slog.String("journalKey", op.JournalKey))
		}
	case pumped.OpJournal:
		attrs = append(attrs, slog.String("key", op.Key), slog.Int("depth", op.Depth))
	case pumped.OpParallel:
		attrs = append(attrs, slog.String("mode", op.ParallelMode), slog.Int("count", op.PromiseCount))
	}
	return attrs
}
