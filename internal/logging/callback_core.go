package logging

import "go.uber.org/zap/zapcore"

// callbackCore is a zapcore.Core that forwards every rendered entry to a
// CallbackFunc instead of (or alongside) a byte sink, letting an embedding
// application observe reactor anomalies without owning a file or syslog
// handle.
type callbackCore struct {
	zapcore.LevelEnabler
	encoder zapcore.Encoder
	cb      CallbackFunc
}

func newCallbackCore(level zapcore.Level, cb CallbackFunc) zapcore.Core {
	return &callbackCore{
		LevelEnabler: level,
		encoder:      zapcore.NewConsoleEncoder(encoderConfig),
		cb:           cb,
	}
}

func (c *callbackCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.encoder.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &callbackCore{LevelEnabler: c.LevelEnabler, encoder: clone, cb: c.cb}
}

func (c *callbackCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *callbackCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.encoder.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	c.cb(ent.Level, buf.String())
	buf.Free()
	return nil
}

func (c *callbackCore) Sync() error { return nil }
