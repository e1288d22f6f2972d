package output

import (
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hejijunhao/asa-audit/internal/model"
)

// EncoderConfig is the JSON layout shared by line-oriented outputs:
// timestamp, level, message, then the record fields.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}

// NewCore returns a zap core that encodes records as JSON lines onto ws.
func NewCore(ws zapcore.WriteSyncer) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), ws, zapcore.InfoLevel)
}

// WriteRecord encodes one record through core.
func WriteRecord(core zapcore.Core, r model.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	ent := zapcore.Entry{Level: zapcore.InfoLevel, Time: ts.UTC(), Message: r.Message}
	return core.Write(ent, Fields(r))
}

// Fields flattens a record into zap fields. Extra fields follow the fixed
// ones in key order.
func Fields(r model.Record) []zap.Field {
	fields := make([]zap.Field, 0, 3+len(r.Fields))
	fields = append(fields,
		zap.String("event_type", r.EventType),
		zap.String("method", r.Method),
		zap.String("env", r.Env),
	)
	keys := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, r.Fields[k]))
	}
	return fields
}
