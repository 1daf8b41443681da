package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/auto-dns/docker-proxy/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SetupLogger builds the process logger. Every line carries the scope the
// run serves and a session id, so output from concurrent runs on one host
// can be told apart.
func SetupLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(cfg, os.Stderr, uuid.NewString()[:8])
}

func newLogger(cfg *config.Config, out io.Writer, session string) zerolog.Logger {
	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}

	levelStr := strings.ToLower(cfg.Logging.Level)
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil || levelStr == "" {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	ctx := zerolog.New(consoleWriter).
		With().
		Timestamp().
		Caller().
		Str("service", "docker_proxy").
		Str("host", hostname).
		Str("session", session).
		Str("scope_kind", cfg.App.ScopeKind)
	if cfg.App.ScopeName != "" {
		ctx = ctx.Str("scope", cfg.App.ScopeName)
	}
	if cfg.App.RuntimeDriver != "" {
		ctx = ctx.Str("driver", cfg.App.RuntimeDriver)
	}

	return ctx.Logger()
}
