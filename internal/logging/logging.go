// Package logging builds the process-wide structured logger: logrus with
// a colorized prefixed console formatter and optional rotating file
// output, matching the teacher's top-level (non-indirect) logging
// dependency set.
package logging

import (
	"io"
	"os"

	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the optional rotating application log file. This
// is the *application log* rotator (operational logging) and is
// conceptually distinct from the record-file rotator in internal/rotator
// even though both follow the same "rotate without losing data" shape.
type FileConfig struct {
	Path        string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
}

// Config is the construction-time configuration for the root logger.
type Config struct {
	Level string // logrus level name; defaults to "info"
	File  *FileConfig
}

// New builds a configured *logrus.Logger.
func New(cfg Config) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return nil, err
	}
	log.SetLevel(level)

	log.SetFormatter(&prefixed.TextFormatter{
		ForceColors:     isatty.IsTerminal(os.Stdout.Fd()),
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	var writers []io.Writer
	writers = append(writers, os.Stdout)
	if cfg.File != nil && cfg.File.Path != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefaultInt(cfg.File.MaxSizeMB, 100),
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}
	log.SetOutput(io.MultiWriter(writers...))
	return log, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
