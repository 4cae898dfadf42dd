package core

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var once sync.Once

type logger struct {
	*log.Logger
}

var singleton *logger

// LogFileConfig describes the optional rotating log file written next to stderr.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func getLogger() *logger {
	once.Do(func() {
		l := log.NewWithOptions(os.Stderr, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "Prism 🔺 ",
		})
		l.SetLevel(log.DebugLevel)
		singleton = &logger{l}
	})
	return singleton
}

// LogConfigure sets the level ("debug", "info", "warn", "error") and, when file.Path is set,
// tees every record into a lumberjack-rotated file.
func LogConfigure(level string, file LogFileConfig) error {
	l := getLogger()
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)

	if file.Path == "" {
		l.SetOutput(os.Stderr)
		return nil
	}
	rotating := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
		LocalTime:  true,
	}
	l.SetOutput(io.MultiWriter(os.Stderr, rotating))
	return nil
}

// LogSetOutput redirects the logger. Tests use it to silence or capture output.
func LogSetOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

func LogDebug(msg string, args ...interface{}) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...interface{}) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...interface{}) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...interface{}) {
	getLogger().Errorf(msg, args...)
}

func LogFatal(msg string, args ...interface{}) {
	getLogger().Fatalf(msg, args...)
}
