package meow

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger routes whatsmeow logs into the global zap logger.
type zapLogger struct {
	l *zap.SugaredLogger
}

func newLogger(module string) waLog.Logger {
	return &zapLogger{l: zap.S().Named("whatsmeow").Named(module)}
}

func (z *zapLogger) Errorf(msg string, args ...interface{}) { z.l.Errorf(msg, args...) }
func (z *zapLogger) Warnf(msg string, args ...interface{})  { z.l.Warnf(msg, args...) }
func (z *zapLogger) Infof(msg string, args ...interface{})  { z.l.Infof(msg, args...) }
func (z *zapLogger) Debugf(msg string, args ...interface{}) { z.l.Debugf(msg, args...) }

func (z *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{l: z.l.Named(module)}
}
