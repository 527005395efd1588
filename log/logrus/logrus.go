// Package logrus adapts a *logrus.Entry to storecache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/storecache"
)

var _ storecache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New tags every line with component=<component>.
func New(l *logrus.Logger, component string) LogrusLogger {
	e := logrus.NewEntry(l)
	if component != "" {
		e = e.WithField("component", component)
	}
	return LogrusLogger{E: e}
}

func (l LogrusLogger) with(f storecache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	if err, ok := f["err"].(error); ok {
		e = e.WithError(err)
		rest := make(logrus.Fields, len(f)-1)
		for k, v := range f {
			if k != "err" {
				rest[k] = v
			}
		}
		return e.WithFields(rest)
	}
	return e.WithFields(logrus.Fields(f))
}

func (l LogrusLogger) Debug(msg string, f storecache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f storecache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f storecache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f storecache.Fields) { l.with(f).Error(msg) }
