package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	logx "pollbot/pkg/logx"
)

// waLogger bridges whatsmeow's printf logger onto logx.
// whatsmeow is chatty, so its levels are shifted down one step.
type waLogger struct {
	log logx.Logger
}

var _ waLog.Logger = waLogger{}

func newWALogger(log logx.Logger) waLog.Logger { return waLogger{log: log} }

func (l waLogger) Warnf(msg string, args ...interface{})  { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l waLogger) Errorf(msg string, args ...interface{}) { l.log.Error(fmt.Sprintf(msg, args...)) }
func (l waLogger) Infof(msg string, args ...interface{})  { l.log.Debug(fmt.Sprintf(msg, args...)) }
func (l waLogger) Debugf(msg string, args ...interface{}) { l.log.Trace(fmt.Sprintf(msg, args...)) }

func (l waLogger) Sub(module string) waLog.Logger {
	return waLogger{log: l.log.With(logx.String("module", module))}
}
