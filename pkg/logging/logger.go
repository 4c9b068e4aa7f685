package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the name of the rotating log file inside the log directory.
const LogFileName = "notebridge.log"

// Config controls where and how much is logged. It is applied with Configure
// before the first NewLogger call.
type Config struct {
	// Dir is the log directory. Empty means ~/.notebridge/logs.
	Dir string

	// Level is one of debug, info, warn, error. Empty means info.
	Level string

	// Console mirrors log entries to stderr. Stdout is never used because the
	// tool server speaks JSON-RPC on it.
	Console bool

	// MaxSizeMB and MaxBackups bound the rotating log file.
	MaxSizeMB  int
	MaxBackups int
}

// Logger provides structured logging for notebridge components.
// All components of one process share a session ID and a log file; each
// entry carries the component name.
type Logger struct {
	sessionID string
	component string
	sugar     *zap.SugaredLogger
	logPath   string
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	mu      sync.Mutex
	current Config
	base    *zap.Logger
	sink    *lumberjack.Logger
	logPath string
	baseErr error

	// consoleWriter is swapped in tests.
	consoleWriter io.Writer = os.Stderr
)

// getSessionID returns or creates the session ID for this execution
func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

// Configure replaces the logging configuration. Loggers created earlier keep
// writing to the previous sink.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	current = cfg
	base = nil
	baseErr = nil
	logPath = ""
	sink = nil
}

// buildBase lazily constructs the shared zap core. Callers hold mu.
func buildBase() (*zap.Logger, error) {
	if base != nil || baseErr != nil {
		return base, baseErr
	}

	dir := current.Dir
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			baseErr = fmt.Errorf("failed to get home directory: %w", err)
			return nil, baseErr
		}
		dir = filepath.Join(homeDir, ".notebridge", "logs")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		baseErr = fmt.Errorf("failed to create log directory: %w", err)
		return nil, baseErr
	}

	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(current.Level))); err != nil || current.Level == "" {
		level.SetLevel(zap.InfoLevel)
	}

	maxSize := current.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := current.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}

	path := filepath.Join(dir, LogFileName)
	sink = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(sink), level),
	}
	if current.Console {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.Lock(zapcore.AddSync(consoleWriter)),
			level,
		))
	}

	base = zap.New(zapcore.NewTee(cores...)).With(zap.String("session_id", getSessionID()))
	logPath = path
	return base, nil
}

// NewLogger creates a new logger for a specific component.
// The logger writes to <dir>/notebridge.log.
//
// If the log directory cannot be created, it returns a fallback logger that
// writes to stderr along with the error. Callers can check the error to detect
// fallback mode and log warnings.
func NewLogger(component string) (*Logger, error) {
	mu.Lock()
	defer mu.Unlock()

	root, err := buildBase()
	if err != nil {
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		sugar:     root.Named(component).Sugar(),
		logPath:   logPath,
	}, nil
}

// newFallbackLogger creates a logger that writes to stderr when file logging fails
func newFallbackLogger(component string, err error) *Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(zapcore.AddSync(consoleWriter)),
		zap.InfoLevel,
	)
	sugar := zap.New(core).Named(component).Sugar()
	sugar.Warnf("failed to initialize file logging: %v", err)
	sugar.Warnf("falling back to stderr logging")

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		sugar:     sugar,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		sessionID: getSessionID(),
		component: "nop",
		sugar:     zap.NewNop().Sugar(),
	}
}

// Must returns l, or a Nop logger when l is nil.
func Must(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Printf logs a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// With returns a child logger that adds key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := *l
	child.sugar = l.sugar.With(keysAndValues...)
	return &child
}

// Component returns the component name
func (l *Logger) Component() string {
	return l.component
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file
func (l *Logger) LogPath() string {
	return l.logPath
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// Shutdown flushes and closes the shared log file. Safe to call multiple
// times.
func Shutdown() error {
	mu.Lock()
	defer mu.Unlock()

	if base != nil {
		_ = base.Sync()
	}
	if sink == nil {
		return nil
	}
	err := sink.Close()
	sink = nil
	base = nil
	return err
}
