package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/stack/woodpeckers/internal/logging"
)

func TestNewCallbackSinkReceivesLines(t *testing.T) {
	var lines []string
	var levels []zapcore.Level
	logger := logging.New(logging.Options{
		Callback: func(level zapcore.Level, line string) {
			levels = append(levels, level)
			lines = append(lines, line)
		},
	})

	logger.Infof("bird %s woke up", "woody")

	assert.Len(t, lines, 1)
	assert.Contains(t, lines[0], "woody")
	assert.Equal(t, []zapcore.Level{zapcore.InfoLevel}, levels)
}

func TestSetDefaultReplacesPackageLogger(t *testing.T) {
	var called bool
	logging.SetDefault(logging.New(logging.Options{
		Callback: func(zapcore.Level, string) { called = true },
	}))
	t.Cleanup(func() { logging.SetDefault(logging.New(logging.Options{})) })

	logging.Info("hello")
	assert.True(t, called)
}
