package utils

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	logDirEnvVar     = "OPSBOT_LOG_DIR"
	logLevelEnvVar   = "OPSBOT_LOG_LEVEL"
	serverModeEnvVar = "OPSBOT_SERVER_MODE"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

type LogCategory string

const (
	LogCategoryService LogCategory = "service"
	LogCategoryAudit   LogCategory = "audit"
)

var (
	loggerInstance  *Logger
	loggerOnce      sync.Once
	categoryMu      sync.Mutex
	categoryLoggers = make(map[LogCategory]*Logger)
)

// Logger writes formatted lines to the category log file under the log directory.
type Logger struct {
	file       *os.File
	logger     *log.Logger
	level      LogLevel
	mu         sync.Mutex
	component  string
	enableFile bool
	category   LogCategory
	logID      string
}

// NewComponentLogger creates a logger for a specific component
func NewComponentLogger(component string) *Logger {
	return NewCategorizedLogger(LogCategoryService, component)
}

// NewCategorizedLogger creates a logger for a specific category and component.
func NewCategorizedLogger(category LogCategory, component string) *Logger {
	base := getOrCreateCategoryLogger(category)
	return &Logger{
		file:       base.file,
		logger:     base.logger,
		level:      base.level,
		component:  component,
		enableFile: base.enableFile,
		category:   category,
	}
}

func getOrCreateCategoryLogger(category LogCategory) *Logger {
	if category == LogCategoryService {
		loggerOnce.Do(func() {
			loggerInstance = newLogger("", levelFromEnv(), true, category)
		})
		return loggerInstance
	}

	categoryMu.Lock()
	defer categoryMu.Unlock()

	if logger, ok := categoryLoggers[category]; ok {
		return logger
	}

	logger := newLogger("", levelFromEnv(), true, category)
	categoryLoggers[category] = logger
	return logger
}

func newLogger(component string, level LogLevel, enableFile bool, category LogCategory) *Logger {
	l := &Logger{
		level:      level,
		component:  component,
		enableFile: enableFile,
		category:   category,
	}

	if enableFile {
		file, err := OpenLogFile(category)
		if err != nil {
			log.Printf("Failed to open log file: %v", err)
			return l
		}
		l.file = file
		l.logger = log.New(file, "", 0)
	}

	return l
}

func resolveLogDirectory() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func logFileName(category LogCategory) string {
	switch category {
	case LogCategoryAudit:
		return "opsbot-audit.log"
	default:
		return "opsbot-service.log"
	}
}

// OpenLogFile opens (or creates) the log file for the given category.
func OpenLogFile(category LogCategory) (*os.File, error) {
	logDir, err := resolveLogDirectory()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	logPath := filepath.Join(logDir, logFileName(category))
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// WithLogID returns a shallow copy of the logger that tags log lines with a log id.
func (l *Logger) WithLogID(logID string) *Logger {
	if l == nil {
		return nil
	}
	if strings.TrimSpace(logID) == "" {
		return l
	}
	return &Logger{
		file:       l.file,
		logger:     l.logger,
		level:      l.level,
		component:  l.component,
		enableFile: l.enableFile,
		category:   l.category,
		logID:      logID,
	}
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level || !l.enableFile {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// 2026-01-02 12:34:56 [INFO] [SERVICE] [pipeline] [log_id=...] file.go:123 - message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "OPSBOT"
	}
	category := strings.ToUpper(string(l.category))
	if category == "" {
		category = "SERVICE"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] [%s] ", timestamp, levelToString(level), category, component)
	if logID := strings.TrimSpace(l.logID); logID != "" {
		fmt.Fprintf(&b, "[log_id=%s] ", logID)
	}
	fmt.Fprintf(&b, "%s:%d - %s\n", file, line, fmt.Sprintf(format, args...))

	logLine := b.String()
	if l.logger != nil {
		l.logger.Print(logLine)
	}
	if l.logger == nil || os.Getenv(serverModeEnvVar) == "deploy" {
		fmt.Fprint(os.Stderr, logLine)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// levelFromEnv reads OPSBOT_LOG_LEVEL; unknown or empty values mean DEBUG.
func levelFromEnv() LogLevel {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(logLevelEnvVar))) {
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return DEBUG
	}
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
