package meow

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type zapLogger struct {
	l *zap.SugaredLogger
}

// Logger routes whatsmeow logging to the global zap logger. Protocol noise
// is demoted one level so info logs stay readable.
func Logger(module string) waLog.Logger {
	return zapLogger{l: zap.S().Named("whatsmeow").Named(module)}
}

func (z zapLogger) Errorf(msg string, args ...interface{}) { z.l.Errorf(msg, args...) }
func (z zapLogger) Warnf(msg string, args ...interface{})  { z.l.Warnf(msg, args...) }
func (z zapLogger) Infof(msg string, args ...interface{})  { z.l.Debugf(msg, args...) }
func (z zapLogger) Debugf(msg string, args ...interface{}) { z.l.Debugf(msg, args...) }

func (z zapLogger) Sub(module string) waLog.Logger {
	return zapLogger{l: z.l.Named(module)}
}
