package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"media-toolkit/internal/config"
	"media-toolkit/internal/domain"
)

// InstallOrFixDiagnostic applies a remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = config.Normalize(settings)

	settingsChanged := false
	var fixErr error

	switch id {
	case domain.CheckAPIBase:
		settings, settingsChanged = fixAPIBase(settings)
	case domain.CheckAPIReachable:
		fixErr = fmt.Errorf("backend at %s must be started manually; run cmd/stubserver for local development", settings.APIBase)
	case domain.CheckDownloadDir:
		settings, settingsChanged, fixErr = fixDownloadDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			report := a.refreshDiagnosticsFromSettings(settings)
			return report, fmt.Errorf("save settings after fix: %w", saveErr)
		}
		a.backend.set(newClient(settings, a.Logger))
		a.Logger.Info("diagnostic fixed", "item", id)
	}

	report := a.refreshDiagnosticsFromSettings(settings)
	if fixErr != nil {
		return report, fixErr
	}
	return report, nil
}

// fixAPIBase restores the default backend address when the current one is unusable.
func fixAPIBase(settings domain.Settings) (domain.Settings, bool) {
	if settings.APIBase == config.DefaultAPIBase {
		return settings, false
	}
	settings.APIBase = config.DefaultAPIBase
	return settings, true
}

// fixDownloadDir creates the download directory, falling back to the default
// location when the configured one cannot be created.
func fixDownloadDir(settings domain.Settings) (domain.Settings, bool, error) {
	downloadDir := strings.TrimSpace(settings.DownloadDir)
	err := os.MkdirAll(downloadDir, 0o755)
	if err == nil {
		return settings, false, nil
	}

	fallback := config.DefaultSettings().DownloadDir
	if fallback == downloadDir {
		return settings, false, fmt.Errorf("create download directory %s: %w", downloadDir, err)
	}
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return settings, false, fmt.Errorf("create download directory %s: %w", fallback, err)
	}
	settings.DownloadDir = fallback
	return settings, true, nil
}
