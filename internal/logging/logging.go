// Package logging builds the slog loggers of the commands. Errors logged as
// attributes are expanded into their message and, when they were created
// with go-xerrors, the stack trace where they were captured.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mdobak/go-xerrors"
)

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// New returns a text logger writing to w at the level held by level
func New(w io.Writer, level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	}))
}

// ParseLevel parses a level name such as "debug" or "WARN"
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = errorValue(err)
	}
	return a
}

func errorValue(err error) slog.Value {
	attrs := []slog.Attr{slog.String("msg", err.Error())}
	if frames := stack(err); len(frames) > 0 {
		attrs = append(attrs, slog.Any("trace", frames))
	}
	return slog.GroupValue(attrs...)
}

func stack(err error) []stackFrame {
	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		return nil
	}

	frames := trace.Frames()
	s := make([]stackFrame, len(frames))
	for i, f := range frames {
		s[i] = stackFrame{
			Func:   f.Function,
			Source: f.File,
			Line:   f.Line,
		}
	}
	return s
}
