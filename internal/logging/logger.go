// Package logging provides structured logging for the hydrodl CLI.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures a Logger.
type Options struct {
	// Out is the console destination. Defaults to stdout (stderr is reserved for progress bars).
	Out io.Writer

	// LogFile, when set, also writes JSON lines to a rotating file.
	LogFile string
}

// Logger wraps zerolog with a console writer and an optional rotating file.
type Logger struct {
	zlog    zerolog.Logger
	console io.Writer
	file    *lumberjack.Logger
	output  io.Writer
}

// NewLogger creates a logger from options.
func NewLogger(opts Options) *Logger {
	console := opts.Out
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{console: console}
	if opts.LogFile != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
	}
	l.rebuild(console)
	return l
}

// NewDefaultCLILogger creates a default CLI logger.
func NewDefaultCLILogger() *Logger {
	return NewLogger(Options{})
}

// NewNopLogger returns a logger that discards everything. Used in tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop(), console: io.Discard, output: io.Discard}
}

func (l *Logger) rebuild(console io.Writer) {
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
	}
	if l.file != nil {
		out = zerolog.MultiLevelWriter(out, l.file)
	}
	l.output = out
	l.zlog = zerolog.New(out).With().Timestamp().Logger()
}

// Info returns an info level event.
func (l *Logger) Info() *zerolog.Event {
	return l.zlog.Info()
}

// Error returns an error level event.
func (l *Logger) Error() *zerolog.Event {
	return l.zlog.Error()
}

// Debug returns a debug level event.
func (l *Logger) Debug() *zerolog.Event {
	return l.zlog.Debug()
}

// Warn returns a warn level event.
func (l *Logger) Warn() *zerolog.Event {
	return l.zlog.Warn()
}

// With creates a child context. Use Child to get a Logger back.
func (l *Logger) With() zerolog.Context {
	return l.zlog.With()
}

// Child returns a logger carrying extra fields, sharing outputs with l.
func (l *Logger) Child(fields map[string]string) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return &Logger{
		zlog:    ctx.Logger(),
		console: l.console,
		file:    l.file,
		output:  l.output,
	}
}

// SetOutput redirects console output, e.g. through a progress container so
// log lines do not tear the bars. The log file, if any, keeps receiving.
func (l *Logger) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	l.console = w
	l.rebuild(w)
}

// Output returns the current output writer.
func (l *Logger) Output() io.Writer {
	return l.output
}

// Close flushes and closes the log file if one is open.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debugf logs a debug message with printf-style formatting.
// This is only shown when verbose mode is enabled.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zlog.Debug().Msgf(format, args...)
}

// Infof logs an info message with printf-style formatting.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.zlog.Info().Msgf(format, args...)
}

// Errorf logs an error message with printf-style formatting.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zlog.Error().Msgf(format, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.zlog.Warn().Msgf(format, args...)
}

// SetGlobalLevel sets the global log level.
func SetGlobalLevel(level zerolog.Level) {
	zerolog.SetGlobalLevel(level)
}

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}
