package util

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func NewLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// LogOptions configures NewLoggerWithOptions. File is optional; when set the
// log is also written to a size-rotated file.
type LogOptions struct {
	Level      string
	Format     string // json | console
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stdout     io.Writer
}

// NewLoggerWithOptions builds a logger that tees stdout and an optional
// rotating file. The returned closer flushes the file writer.
func NewLoggerWithOptions(opts LogOptions) (zerolog.Logger, io.Closer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}
	var out io.Writer = os.Stdout
	if opts.Stdout != nil {
		out = opts.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotator)
		closer = rotator
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
