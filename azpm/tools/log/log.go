// Package log is a thin facade over logrus so every package logs through the same instance.
package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

type (
	Fields        = logrus.Fields
	Level         = logrus.Level
	Entry         = logrus.Entry
	TextFormatter = logrus.TextFormatter
)

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

var (
	Debug  = logrus.Debug
	Debugf = logrus.Debugf
	Info   = logrus.Info
	Infof  = logrus.Infof
	Warn   = logrus.Warn
	Warnf  = logrus.Warnf
	Error  = logrus.Error
	Errorf = logrus.Errorf
	Fatal  = logrus.Fatal
	Fatalf = logrus.Fatalf

	WithField  = logrus.WithField
	WithFields = logrus.WithFields

	SetLevel     = logrus.SetLevel
	GetLevel     = logrus.GetLevel
	SetFormatter = logrus.SetFormatter
	ParseLevel   = logrus.ParseLevel
)

// SetOutput redirects the standard logger.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}
