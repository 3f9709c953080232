package app

import (
	"io"

	"github.com/rs/zerolog"

	"tradebot-go/internal/config"
	"tradebot-go/internal/util"
)

// Logger builds the process logger from the app section.
func Logger(c config.App) (zerolog.Logger, io.Closer) {
	log, closer := util.NewLoggerWithOptions(util.LogOptions{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	})
	return log.With().Str("app", c.Name).Str("env", c.Env).Logger(), closer
}
