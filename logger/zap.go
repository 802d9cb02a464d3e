package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapBridge struct {
	logger Logger
}

func (z *zapBridge) Enabled(level zapcore.Level) bool {
	return z.logger.IsLevelEnabled(fromZapLevel(level))
}

func fieldsToMap(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range fields {
		field.AddTo(enc)
	}
	return enc.Fields
}

func (z *zapBridge) With(fields []zapcore.Field) zapcore.Core {
	return &zapBridge{logger: z.logger.With(fieldsToMap(fields))}
}

func (z *zapBridge) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if z.Enabled(entry.Level) {
		return ce.AddCore(entry, z)
	}
	return ce
}

func (z *zapBridge) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	log := z.logger
	if len(fields) > 0 {
		log = log.With(fieldsToMap(fields))
	}
	switch fromZapLevel(entry.Level) {
	case LevelDebug:
		log.Debug("%s", entry.Message)
	case LevelInfo:
		log.Info("%s", entry.Message)
	case LevelWarn:
		log.Warn("%s", entry.Message)
	case LevelError:
		log.Error("%s", entry.Message)
	default:
		log.Trace("%s", entry.Message)
	}
	return nil
}

func (z *zapBridge) Sync() error {
	return nil
}

func fromZapLevel(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		return LevelError
	}
	return LevelTrace
}

// ToZap returns a zap.Logger instance that will output to the provided logger
func ToZap(logger Logger) *zap.Logger {
	return zap.New(&zapBridge{logger: logger})
}
