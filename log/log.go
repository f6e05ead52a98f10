// Package log provides scoped logging for couchup built on zerolog.
package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a scoped logger.
type Logger struct {
	zl zerolog.Logger
}

// InitGlobals configures the global logger and returns it. It must be called
// once, before any other function of this package.
func InitGlobals(level zerolog.Level, json, noColor bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var lg zerolog.Logger
	if json {
		lg = zerolog.New(os.Stderr)
	} else {
		lg = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "15:04:05.000",
		})
	}

	lg = lg.Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &lg

	return lg
}

// New returns a logger with the given scope.
func New(scope string) Logger {
	lg := zerolog.DefaultContextLogger
	if lg == nil {
		nop := zerolog.Nop()
		lg = &nop
	}

	return Logger{zl: lg.With().Str("s", scope).Logger()}
}

// Ctx returns the logger attached to the context.
func Ctx(ctx context.Context) Logger {
	return Logger{zl: *zerolog.Ctx(ctx)}
}

// WithContext attaches the logger to the context.
func (l Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// With returns a logger with the fields attached to each entry.
func (l Logger) With(fields ...Field) Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = f(zc)
	}

	return Logger{zl: zc.Logger()}
}

func (l Logger) Trace(msg string) {
	l.zl.Trace().Msg(msg)
}

func (l Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

func (l Logger) Debugf(format string, vals ...any) {
	l.zl.Debug().Msgf(format, vals...)
}

func (l Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

func (l Logger) Infof(format string, vals ...any) {
	l.zl.Info().Msgf(format, vals...)
}

func (l Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l Logger) Warnf(format string, vals ...any) {
	l.zl.Warn().Msgf(format, vals...)
}

func (l Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(msg)
}

func (l Logger) Errorf(err error, format string, vals ...any) {
	l.zl.Error().Err(err).Msgf(format, vals...)
}

// Field attaches a typed value to a logger.
type Field func(zerolog.Context) zerolog.Context

// Elapsed is the duration field.
func Elapsed(d time.Duration) Field {
	return func(zc zerolog.Context) zerolog.Context {
		return zc.Dur("elapsed", d)
	}
}

// DB is the database name field.
func DB(name string) Field {
	return func(zc zerolog.Context) zerolog.Context {
		return zc.Str("db", name)
	}
}
