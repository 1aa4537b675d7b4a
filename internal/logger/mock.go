package logger

import (
	"io"

	"github.com/rs/zerolog"
)

// Mock returns a logger that discards everything.
func Mock() Logger {
	l := &DefaultLogger{
		writers:     make([]io.Writer, 0),
		level:       zerolog.Disabled,
		currentDate: "2006-01-02",
	}
	l.rebuild()

	return l
}

// NewTest returns a logger writing JSON lines to w at trace level.
func NewTest(w io.Writer) Logger {
	l := &DefaultLogger{
		writers:     []io.Writer{w},
		level:       zerolog.TraceLevel,
		currentDate: "2006-01-02",
	}
	l.rebuild()

	return l
}
