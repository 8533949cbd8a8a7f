package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-toolkit/internal/api"
	"media-toolkit/internal/config"
	"media-toolkit/internal/diagnostics"
	"media-toolkit/internal/domain"
	"media-toolkit/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App wires configuration, the orchestrator, the backend client, and UI
// runtime callbacks.
type App struct {
	Settings     domain.Settings
	Store        config.Store
	Orchestrator *jobs.Orchestrator
	Diagnostics  domain.DiagnosticReport
	Logger       *slog.Logger
	assets       fs.FS
	checker      *diagnostics.Checker
	backend      *backend

	mu         sync.Mutex
	events     *jobs.EventBus
	runtimeCtx context.Context
}

// backend forwards orchestrator calls to the client built from the current
// settings, so saved settings apply to the next request.
type backend struct {
	mu     sync.RWMutex
	client *api.Client
}

func (b *backend) current() *api.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

func (b *backend) set(client *api.Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
}

// FetchMetadata implements jobs.MetadataFetcher.
func (b *backend) FetchMetadata(ctx context.Context, url string) (domain.MediaDescriptor, error) {
	return b.current().FetchMetadata(ctx, url)
}

// Submit implements jobs.JobSubmitter.
func (b *backend) Submit(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
	return b.current().Submit(ctx, desc)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".media-toolkit", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = config.ApplyEnv(settings, os.Getenv)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(settings.LogLevel),
	}))

	app := newApp(settings, store, logger, jobs.DefaultCompletionDelay)
	app.assets = assets
	app.checker = diagnostics.NewChecker()
	app.Diagnostics = app.checker.Run(context.Background(), settings)
	if app.Diagnostics.HasFailures {
		logger.Warn("startup diagnostics reported failures", "items", len(app.Diagnostics.Items))
	}
	return app, nil
}

// newApp assembles the runtime graph for settings.
func newApp(settings domain.Settings, store config.Store, logger *slog.Logger, completionDelay time.Duration) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	settings = config.Normalize(settings)

	a := &App{
		Settings: settings,
		Store:    store,
		Logger:   logger,
		backend:  &backend{},
		events:   jobs.NewEventBus(1000),
	}
	a.backend.set(newClient(settings, logger))
	a.Orchestrator = jobs.NewOrchestrator(jobs.Options{
		Fetcher:         a.backend,
		Submitter:       a.backend,
		Simulator:       jobs.NewSimulator(settings.TickInterval.Std()),
		Logger:          logger.With("component", "orchestrator"),
		CompletionDelay: completionDelay,
		OnEvent:         a.publishEvent,
	})
	return a
}

// newClient builds the backend client for settings.
func newClient(settings domain.Settings, logger *slog.Logger) *api.Client {
	return api.NewClient(api.Options{
		BaseURL:         settings.APIBase,
		Saver:           api.NewDirSaver(settings.DownloadDir),
		Logger:          logger.With("component", "api"),
		MetadataTimeout: settings.MetadataTimeout.Std(),
		ProcessTimeout:  settings.ProcessTimeout.Std(),
	})
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Toolkit",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.Orchestrator.Reset()
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Submit fetches metadata for url and moves to the preview screen.
func (a *App) Submit(url string) (domain.Snapshot, error) {
	return a.Orchestrator.Submit(context.Background(), url)
}

// Cancel returns from preview to input.
func (a *App) Cancel() (domain.Snapshot, error) {
	return a.Orchestrator.Cancel()
}

// SelectFormat changes the selected output format.
func (a *App) SelectFormat(formatID string) (domain.Snapshot, error) {
	return a.Orchestrator.SelectFormat(formatID)
}

// SetFeature toggles one feature flag by wire name.
func (a *App) SetFeature(name string, enabled bool) (domain.Snapshot, error) {
	return a.Orchestrator.SetFeature(name, enabled)
}

// Launch starts processing the current descriptor.
func (a *App) Launch() (domain.Snapshot, error) {
	return a.Orchestrator.Launch()
}

// Reset returns to a fresh input screen from anywhere.
func (a *App) Reset() domain.Snapshot {
	return a.Orchestrator.Reset()
}

// Snapshot returns the current orchestrator state.
func (a *App) Snapshot() domain.Snapshot {
	return a.Orchestrator.Snapshot()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, rebuilds the backend client,
// and refreshes diagnostics. The tick interval applies from the next start.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.backend.set(newClient(normalized, a.Logger))
	a.Logger.Info("settings saved", "apiBase", normalized.APIBase, "downloadDir", normalized.DownloadDir)
	a.refreshDiagnosticsFromSettings(normalized)
	return normalized, nil
}

// RefreshDiagnostics reloads settings and reruns the startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	return a.refreshDiagnosticsFromSettings(settings), nil
}

// PickDownloadDirectory opens a native directory picker for saved media.
func (a *App) PickDownloadDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select download directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenDownloadFolder opens the given path (or configured download dir) in file manager.
func (a *App) OpenDownloadFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.DownloadDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("download path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve download path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// OpenDownloadURL opens a server download link in the system browser.
func (a *App) OpenDownloadURL(url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return fmt.Errorf("download url is empty")
	}

	ctx, err := a.runtimeContext()
	if err != nil {
		return err
	}
	wailsruntime.BrowserOpenURL(ctx, url)
	return nil
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// refreshDiagnosticsFromSettings reruns checks and caches the report.
func (a *App) refreshDiagnosticsFromSettings(settings domain.Settings) domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(context.Background(), settings)
	}
	return a.Diagnostics
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
