package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// LogLevel is a level name as written in config files and flags.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects where logs go and how they look.
type Config struct {
	Level      LogLevel  `yaml:"level"`
	OutputPath string    `yaml:"output_path"` // empty means stderr
	Format     string    `yaml:"format"`      // FormatText or FormatJSON
	Writer     io.Writer `yaml:"-"`           // takes precedence over OutputPath
}

var (
	mu      sync.RWMutex
	current *slog.Logger
	closer  io.Closer
)

// ParseLevel converts a case-insensitive level name into a LogLevel. The
// empty string means INFO.
func ParseLevel(s string) (LogLevel, error) {
	switch lvl := LogLevel(strings.ToUpper(strings.TrimSpace(s))); lvl {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return lvl, nil
	case "":
		return LevelInfo, nil
	default:
		return "", errors.Newf("unknown log level %q", s)
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) open() (io.Writer, io.Closer, error) {
	switch {
	case c.Writer != nil:
		return c.Writer, nil, nil
	case c.OutputPath == "":
		return os.Stderr, nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(c.OutputPath), 0o750); err != nil {
		return nil, nil, errors.Wrapf(err, "creating log directory for %s", c.OutputPath)
	}
	f, err := os.OpenFile(c.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening log file %s", c.OutputPath)
	}
	return f, f, nil
}

func (c Config) handler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.Level.slogLevel()}
	if c.Format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init installs the process logger. It fails if a logger is already
// installed; call Close first to replace it.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return errors.New("logger already initialized; call Close first")
	}
	w, c, err := cfg.open()
	if err != nil {
		return err
	}
	current = slog.New(cfg.handler(w))
	closer = c
	return nil
}

// InitDefault installs an INFO text logger on stderr unless a logger is
// already installed.
func InitDefault() {
	mu.Lock()
	defer mu.Unlock()
	installDefault()
}

func installDefault() *slog.Logger {
	if current == nil {
		current = slog.New(Config{Level: LevelInfo}.handler(os.Stderr))
	}
	return current
}

// Close uninstalls the logger and closes its log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	current = nil
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// GetLogger returns the installed logger, installing the default one on
// first use.
func GetLogger() *slog.Logger {
	mu.RLock()
	l := current
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	return installDefault()
}
