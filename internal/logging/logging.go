// Package logging wraps zerolog with the structured fields the DFTL core
// attaches to its log lines.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds a console-friendly zerolog.Logger writing to w (os.Stdout if
// nil) at the given level.
func New(level zerolog.Level, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().Timestamp().Logger()
}

// WithLPN attaches the lpn field used throughout mapping/CMT log lines.
func WithLPN(l zerolog.Logger, lpn int64) zerolog.Logger {
	return l.With().Int64("lpn", lpn).Logger()
}

// WithPPN attaches the ppn field used throughout OOB/flash log lines.
func WithPPN(l zerolog.Logger, ppn int64) zerolog.Logger {
	return l.With().Int64("ppn", ppn).Logger()
}

// WithPBN attaches the pbn field used throughout block-pool/GC log lines.
func WithPBN(l zerolog.Logger, pbn int64) zerolog.Logger {
	return l.With().Int64("pbn", pbn).Logger()
}

// WithChannel attaches the channel field used throughout block-pool log
// lines.
func WithChannel(l zerolog.Logger, channel int) zerolog.Logger {
	return l.With().Int("channel", channel).Logger()
}

// WithOp attaches the op field naming the host or GC operation in progress.
func WithOp(l zerolog.Logger, op string) zerolog.Logger {
	return l.With().Str("op", op).Logger()
}

// WithTag attaches the tag field naming the flash-request reason.
func WithTag(l zerolog.Logger, tag string) zerolog.Logger {
	return l.With().Str("tag", tag).Logger()
}
