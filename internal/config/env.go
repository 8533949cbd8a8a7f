package config

import (
	"log/slog"
	"os"
	"strings"

	"media-toolkit/internal/domain"
)

// Environment variables that override persisted settings.
const (
	EnvAPIBase     = "MEDIA_TOOLKIT_API_BASE"
	EnvDownloadDir = "MEDIA_TOOLKIT_DOWNLOAD_DIR"
	EnvLogLevel    = "MEDIA_TOOLKIT_LOG_LEVEL"
)

// ApplyEnv overlays non-empty environment values onto settings.
func ApplyEnv(settings domain.Settings, getenv func(string) string) domain.Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	settings.APIBase = valueOrDefault(getenv(EnvAPIBase), settings.APIBase)
	settings.DownloadDir = valueOrDefault(getenv(EnvDownloadDir), settings.DownloadDir)
	settings.LogLevel = valueOrDefault(getenv(EnvLogLevel), settings.LogLevel)
	return Normalize(settings)
}

// LogLevel maps the configured level name to a slog level.
func LogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valueOrDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
