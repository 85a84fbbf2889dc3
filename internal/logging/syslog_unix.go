//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package logging

import (
	"log/syslog"

	"go.uber.org/zap/zapcore"
)

// newSyslogCore opens a syslog writer and wraps it as a zapcore.Core at the
// given level.
func newSyslogCore(level zapcore.Level) (zapcore.Core, error) {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "woodpeckers")
	if err != nil {
		return nil, err
	}
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level), nil
}
