package eventlog

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

type ringCore struct {
	zapcore.LevelEnabler
	ring   *Ring
	fields []zapcore.Field
}

// Core returns a zapcore.Core that records entries at or above level into the ring.
// Combine it with other cores through zapcore.NewTee.
func (r *Ring) Core(level zapcore.LevelEnabler) zapcore.Core {
	return &ringCore{LevelEnabler: level, ring: r}
}

func (c *ringCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &ringCore{LevelEnabler: c.LevelEnabler, ring: c.ring, fields: merged}
}

func (c *ringCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *ringCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var flat map[string]string
	if len(enc.Fields) > 0 {
		flat = make(map[string]string, len(enc.Fields))
		for k, v := range enc.Fields {
			flat[k] = fmt.Sprint(v)
		}
	}
	c.ring.Append(Entry{
		Time:    ent.Time,
		Level:   ent.Level.String(),
		Logger:  ent.LoggerName,
		Message: ent.Message,
		Fields:  flat,
	})
	return nil
}

func (c *ringCore) Sync() error { return nil }
