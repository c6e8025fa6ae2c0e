package event

import (
	"context"
	"log/slog"
)

// LogObserver writes events to logger: per-cell events at debug level,
// batch and table events at info level, failed cells at warn.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(e Event) {
		attrs := []slog.Attr{
			slog.String("type", string(e.Type)),
			slog.String("eid", e.EID),
		}

		level := slog.LevelInfo
		switch e.Type {
		case CalcCell:
			level = slog.LevelDebug
			attrs = append(attrs,
				slog.String("cell", string(e.Key)),
				slog.Bool("ok", e.OK),
				slog.Duration("elapsed", e.Elapsed))
			if e.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs,
					slog.String("error_type", string(e.Error.Type)),
					slog.String("error", e.Error.Message))
			}
		case CalcBegin, TableBegin:
			attrs = append(attrs, slog.Int("count", e.Count))
		case CalcEnd, TableEnd:
			attrs = append(attrs,
				slog.Bool("ok", e.OK),
				slog.Int("count", e.Count),
				slog.Int("failed", e.Failed),
				slog.Duration("elapsed", e.Elapsed))
		}

		logger.LogAttrs(context.Background(), level, "calculation event", attrs...)
	})
}
