package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-toolkit/internal/domain"
)

const (
	DefaultAPIBase         = "http://127.0.0.1:5000/api"
	DefaultMetadataTimeout = 60 * time.Second
	DefaultProcessTimeout  = 15 * time.Minute
	DefaultTickInterval    = 600 * time.Millisecond
	DefaultLogLevel        = "info"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		APIBase:         DefaultAPIBase,
		DownloadDir:     filepath.Join(homeDir, "Downloads"),
		MetadataTimeout: domain.Duration(DefaultMetadataTimeout),
		ProcessTimeout:  domain.Duration(DefaultProcessTimeout),
		TickInterval:    domain.Duration(DefaultTickInterval),
		LogLevel:        DefaultLogLevel,
	}
}

// Normalize trims user inputs and replaces unusable values with defaults.
func Normalize(settings domain.Settings) domain.Settings {
	defaults := DefaultSettings()

	settings.APIBase = strings.TrimRight(strings.TrimSpace(settings.APIBase), "/")
	if settings.APIBase == "" {
		settings.APIBase = defaults.APIBase
	}
	settings.DownloadDir = strings.TrimSpace(settings.DownloadDir)
	if settings.DownloadDir == "" {
		settings.DownloadDir = defaults.DownloadDir
	}
	if settings.MetadataTimeout <= 0 {
		settings.MetadataTimeout = defaults.MetadataTimeout
	}
	if settings.ProcessTimeout <= 0 {
		settings.ProcessTimeout = defaults.ProcessTimeout
	}
	if settings.TickInterval <= 0 {
		settings.TickInterval = defaults.TickInterval
	}
	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
	return settings
}
