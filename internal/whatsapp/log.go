package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger bridges whatsmeow logging onto the global zap logger.
type zapLogger struct {
	module string
	debug  bool
}

func newLogger(module string, debug bool) waLog.Logger {
	return &zapLogger{module: module, debug: debug}
}

func (l *zapLogger) log() *zap.SugaredLogger {
	return zap.S().With("module", l.module)
}

func (l *zapLogger) Debugf(msg string, args ...interface{}) {
	if l.debug {
		l.log().Debugf(msg, args...)
	}
}

func (l *zapLogger) Infof(msg string, args ...interface{})  { l.log().Infof(msg, args...) }
func (l *zapLogger) Warnf(msg string, args ...interface{})  { l.log().Warnf(msg, args...) }
func (l *zapLogger) Errorf(msg string, args ...interface{}) { l.log().Errorf(msg, args...) }

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{module: fmt.Sprintf("%s/%s", l.module, module), debug: l.debug}
}
