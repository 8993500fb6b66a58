// Package zlog wires up the process-wide zerolog logger for zencelium:
// one global instance, with `.With().Str("component", ...)` loggers handed
// out per subsystem.
package zlog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global, package-level logger. Initialize configures it;
// callers that run before Initialize get zerolog's default (debug level,
// JSON to stderr).
var Log = log.Logger

// Initialize sets up the global logger. level is any zerolog level name
// ("debug", "info", "warn", ...); an unrecognized value falls back to info.
// pretty selects a human-readable console writer over JSON, for local runs.
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "zenceliumd").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

// Registry returns a logger scoped to the subscription registry.
func Registry() *zerolog.Logger {
	l := Log.With().Str("component", "registry").Logger()
	return &l
}

// AgentConn returns a logger scoped to one agent connection's lifecycle.
func AgentConn(agentUUID string) *zerolog.Logger {
	l := Log.With().Str("component", "agentconn").Str("agent_uuid", agentUUID).Logger()
	return &l
}

// Bus returns a logger scoped to the pub/sub transport.
func Bus() *zerolog.Logger {
	l := Log.With().Str("component", "bus").Logger()
	return &l
}

// Server returns a logger scoped to the HTTP/WebSocket upgrade layer.
func Server() *zerolog.Logger {
	l := Log.With().Str("component", "server").Logger()
	return &l
}

// Catalog returns a logger scoped to the catalog store.
func Catalog() *zerolog.Logger {
	l := Log.With().Str("component", "catalog").Logger()
	return &l
}
