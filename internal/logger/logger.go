// Package logger provides the dual-destination (file + console) structured
// logger used by every component of the exporter.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger handles application logging to an optional file destination and an
// optional console destination, each independently leveled and formatted.
type Logger struct {
	fileLogger     *logrus.Logger
	consoleLogger  *logrus.Logger
	fileEnabled    bool
	consoleEnabled bool
}

// Config contains logger configuration.
type Config struct {
	Level         string
	Format        string
	FilePath      string
	ConsoleOutput bool
	ConsoleLevel  string
	ConsoleFormat string
}

// NewLogger creates a new application logger with multiple outputs.
func NewLogger(cfg *Config) (*Logger, error) {
	l := &Logger{}

	if cfg.FilePath != "" {
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}

		fileLog := logrus.New()
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		fileLog.SetLevel(lvl)

		if cfg.Format == "text" {
			fileLog.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			})
		} else {
			fileLog.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			})
		}

		fileLog.SetOutput(f)
		l.fileLogger = fileLog
		l.fileEnabled = true
	}

	if cfg.ConsoleOutput {
		consoleLog := logrus.New()

		consoleLvl := cfg.ConsoleLevel
		if consoleLvl == "" {
			consoleLvl = cfg.Level
		}
		lvl, err := logrus.ParseLevel(consoleLvl)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		consoleLog.SetLevel(lvl)

		consoleFormat := cfg.ConsoleFormat
		if consoleFormat == "" {
			consoleFormat = "text"
		}

		if consoleFormat == "json" {
			consoleLog.SetFormatter(&logrus.JSONFormatter{
				TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			})
		} else {
			consoleLog.SetFormatter(&logrus.TextFormatter{
				FullTimestamp:   true,
				TimestampFormat: "2006-01-02 15:04:05",
				ForceColors:     true,
			})
		}

		consoleLog.SetOutput(os.Stdout)

		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	if !l.fileEnabled && !l.consoleEnabled {
		consoleLog := logrus.New()
		consoleLog.SetLevel(logrus.InfoLevel)
		consoleLog.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			ForceColors:     true,
		})
		consoleLog.SetOutput(os.Stdout)
		l.consoleLogger = consoleLog
		l.consoleEnabled = true
	}

	return l, nil
}

// Info logs an info message to both outputs.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(logrus.InfoLevel, msg, fields...) }

// Warn logs a warning message to both outputs.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(logrus.WarnLevel, msg, fields...) }

// Error logs an error message to both outputs.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(logrus.ErrorLevel, msg, fields...) }

// Debug logs a debug message to both outputs.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(logrus.DebugLevel, msg, fields...) }

// Fatal logs a message to both outputs then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...interface{}) {
	l.log(logrus.FatalLevel, msg, fields...)
	os.Exit(1)
}

func (l *Logger) log(level logrus.Level, msg string, fields ...interface{}) {
	logFields := l.parseFields(fields...)

	if l.fileEnabled {
		entry := l.fileLogger.WithFields(logrus.Fields{})
		if len(fields) > 0 {
			entry = l.fileLogger.WithFields(logFields)
		}
		entry.Log(level, msg)
	}

	if l.consoleEnabled {
		entry := l.consoleLogger.WithFields(logrus.Fields{})
		if len(fields) > 0 {
			entry = l.consoleLogger.WithFields(logFields)
		}
		entry.Log(level, msg)
	}
}

// parseFields converts variadic key/value arguments to logrus.Fields.
func (l *Logger) parseFields(fields ...interface{}) logrus.Fields {
	result := make(logrus.Fields, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		if key, ok := fields[i].(string); ok {
			result[key] = fields[i+1]
		}
	}
	return result
}
