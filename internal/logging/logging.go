// Package logging provides the reactor's leveled, multi-sink log facility:
// a console core always present, plus optional syslog and callback cores
// fanned out with zapcore.NewTee. The reactor and its collaborators log
// through the small Logger interface rather than fmt.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the unified logging interface every reactor collaborator
// depends on instead of a concrete zap type.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	CallerKey:      "caller",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalColorLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.SecondsDurationEncoder,
	EncodeCaller:   zapcore.ShortCallerEncoder,
}

// CallbackFunc receives one rendered log line, letting an application fan
// log entries out to e.g. a UI or a metrics sink.
type CallbackFunc func(level zapcore.Level, line string)

// Options configures which sinks New fans log entries out to.
type Options struct {
	// Debug raises every enabled core to debug level; info otherwise.
	Debug bool
	// Syslog enables a syslog core (built on Linux, Darwin, FreeBSD and
	// DragonFly).
	Syslog bool
	// Callback, if non-nil, receives every log line in addition to the
	// other configured sinks.
	Callback CallbackFunc
}

// Default is the package-level logger used by the free functions below. It
// starts as a console-only, info-level logger; applications call SetDefault
// to install a multi-sink Logger built with New.
var Default Logger = consoleOnly(false)

// SetDefault replaces the package-level Default logger.
func SetDefault(l Logger) {
	Default = l
}

func consoleOnly(debug bool) Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	return zap.New(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
}

// New builds a Logger fanning out to every sink opts enables.
func New(opts Options) Logger {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), level),
	}
	if opts.Syslog {
		if core, err := newSyslogCore(level); err == nil {
			cores = append(cores, core)
		} else {
			consoleOnly(opts.Debug).Errorf("syslog sink unavailable: %v", err)
		}
	}
	if opts.Callback != nil {
		cores = append(cores, newCallbackCore(level, opts.Callback))
	}
	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()
}

// Debug logs to DEBUG log. Arguments are handled in the manner of fmt.Print.
func Debug(args ...any) { Default.Debug(args...) }

// Debugf logs to DEBUG log. Arguments are handled in the manner of fmt.Printf.
func Debugf(format string, args ...any) { Default.Debugf(format, args...) }

// Info logs to INFO log. Arguments are handled in the manner of fmt.Print.
func Info(args ...any) { Default.Info(args...) }

// Infof logs to INFO log. Arguments are handled in the manner of fmt.Printf.
func Infof(format string, args ...any) { Default.Infof(format, args...) }

// Warn logs to WARNING log. Arguments are handled in the manner of fmt.Print.
func Warn(args ...any) { Default.Warn(args...) }

// Warnf logs to WARNING log. Arguments are handled in the manner of fmt.Printf.
func Warnf(format string, args ...any) { Default.Warnf(format, args...) }

// Error logs to ERROR log. Arguments are handled in the manner of fmt.Print.
func Error(args ...any) { Default.Error(args...) }

// Errorf logs to ERROR log. Arguments are handled in the manner of fmt.Printf.
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

// Fatal logs to FATAL log and then exits the process. Arguments are handled in the manner of fmt.Print.
func Fatal(args ...any) { Default.Fatal(args...) }

// Fatalf logs to FATAL log and then exits the process. Arguments are handled in the manner of fmt.Printf.
func Fatalf(format string, args ...any) { Default.Fatalf(format, args...) }
