// Package logger provides the engine-wide diagnostic log described in
// spec §7: every surfaced error writes one line to the environment's
// error file, prefixed with the environment's error prefix. The engine
// never calls into user-defined logging from inside a critical section;
// callers pass already-formed strings in, no hooks run synchronously
// with a mutex held.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	Logger      *logrus.Logger
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger

	mu          sync.Mutex
	errorPrefix string
)

// Config controls where diagnostics go and how verbose they are.
type Config struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
	ErrorPrefix  string // prepended to every error-file line, per spec §7
}

// lineFormatter renders one log line: timestamp, level, caller, message.
type lineFormatter struct {
	TimestampFormat string
}

func (f *lineFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05 MST 2006/01/02")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	caller := callerInfo()
	msg := entry.Message
	mu.Lock()
	prefix := errorPrefix
	mu.Unlock()
	if prefix != "" && entry.Level <= logrus.WarnLevel {
		msg = prefix + ": " + msg
	}
	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s\n", timestamp, level, caller, msg)), nil
}

func callerInfo() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "/logrus/") || strings.Contains(file, "logger.go") {
			continue
		}
		funcName := runtime.FuncForPC(pc).Name()
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
	}
	return "unknown:unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// Init sets up the global loggers. Safe to call more than once; the
// environment calls it on open with the configured error file/prefix.
func Init(cfg Config) error {
	mu.Lock()
	errorPrefix = cfg.ErrorPrefix
	mu.Unlock()

	formatter := &lineFormatter{TimestampFormat: "15:04:05 MST 2006/01/02"}

	Logger = logrus.New()
	Logger.SetFormatter(formatter)
	Logger.SetLevel(parseLevel(cfg.LogLevel))

	InfoLogger = logrus.New()
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetLevel(parseLevel(cfg.LogLevel))
	InfoLogger.SetOutput(os.Stdout)
	if cfg.InfoLogPath != "" {
		if f, err := openLogFile(cfg.InfoLogPath); err == nil {
			InfoLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		} else {
			InfoLogger.Warnf("could not open info log %s, falling back to stdout: %v", cfg.InfoLogPath, err)
		}
	}

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(parseLevel(cfg.LogLevel))
	ErrorLogger.SetOutput(os.Stderr)
	if cfg.ErrorLogPath != "" {
		if f, err := openLogFile(cfg.ErrorLogPath); err == nil {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			ErrorLogger.Warnf("could not open error log %s, falling back to stderr: %v", cfg.ErrorLogPath, err)
		}
	}

	Logger.SetOutput(InfoLogger.Out)
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func Info(args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Info(args...)
	}
}

func Infof(format string, args ...interface{}) {
	if InfoLogger != nil {
		InfoLogger.Infof(format, args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf writes one diagnostic line to the error file, per spec §7.
func Errorf(format string, args ...interface{}) {
	if ErrorLogger != nil {
		ErrorLogger.Errorf(format, args...)
	}
}
