// Package log is a thin façade over a dedicated logrus instance, so
// binaries can attach hooks (see common/log/hooks) without mutating the
// global logrus logger that library code logs through.
package log

import (
	"github.com/sirupsen/logrus"
)

var Log = logrus.New()

func AddHook(hook logrus.Hook) {
	Log.AddHook(hook)
}

func Debug(args ...interface{}) {
	Log.Debug(args...)
}

func Debugf(format string, args ...interface{}) {
	Log.Debugf(format, args...)
}

func Info(args ...interface{}) {
	Log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

func Warn(args ...interface{}) {
	Log.Warn(args...)
}

func Warnf(format string, args ...interface{}) {
	Log.Warnf(format, args...)
}

func Error(args ...interface{}) {
	Log.Error(args...)
}

func Errorf(format string, args ...interface{}) {
	Log.Errorf(format, args...)
}
