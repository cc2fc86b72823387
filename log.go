package bleshim

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

var logger Logger
var loggerMu sync.Mutex

// SetLogLevel parses a logrus level name and applies it to the default logger.
func SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	l := GetLogger()
	if lg, ok := l.(*defaultLogger); ok {
		lg.Entry.Logger.SetLevel(lvl)
		return nil
	}
	l.Warnf("non-default logger, level %v not applied", level)
	return nil
}

func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if logger == nil {
		logger = buildDefaultLogger()
	}

	return logger
}

// PkgLogger returns a child of the current logger tagged with the package name.
func PkgLogger(pkg string) Logger {
	return GetLogger().ChildLogger(map[string]interface{}{"pkg": pkg})
}

type defaultLogger struct {
	*logrus.Entry
}

func buildDefaultLogger() Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}

	return &defaultLogger{Entry: l.WithFields(map[string]interface{}{})}
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	nl := &defaultLogger{d.Entry.WithFields(ff)}
	return nl
}
