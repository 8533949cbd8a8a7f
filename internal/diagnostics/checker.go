package diagnostics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"media-toolkit/internal/domain"
)

// probeTimeout bounds the reachability request.
const probeTimeout = 3 * time.Second

// Checker validates the backend address and the download directory.
type Checker struct {
	do         func(*http.Request) (*http.Response, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS and network dependencies.
func NewChecker() *Checker {
	client := &http.Client{Timeout: probeTimeout}
	return &Checker{
		do:         client.Do,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	base := c.checkAPIBase(settings.APIBase)
	items := []domain.DiagnosticItem{
		base,
		c.checkAPIReachable(ctx, settings.APIBase, base.Status == domain.DiagnosticStatusPass),
		c.checkDownloadDir(settings.DownloadDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkAPIBase validates the configured backend base URL.
func (c *Checker) checkAPIBase(apiBase string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.CheckAPIBase,
		Name: "API base URL",
	}

	if strings.TrimSpace(apiBase) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "API base URL is empty."
		item.Hint = "Set the address of the processing backend, for example http://127.0.0.1:5000/api."
		return item
	}

	u, err := url.Parse(apiBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Invalid API base URL: %s", apiBase)
		item.Hint = "Use an absolute http or https URL."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Using %s", apiBase)
	return item
}

// checkAPIReachable probes the backend. Any HTTP answer counts as reachable.
func (c *Checker) checkAPIReachable(ctx context.Context, apiBase string, valid bool) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.CheckAPIReachable,
		Name: "Backend reachable",
	}

	if !valid {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Skipped: API base URL is invalid."
		item.Hint = "Fix the API base URL first."
		return item
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	target := strings.TrimRight(apiBase, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot build probe request: %v", err)
		return item
	}

	resp, err := c.do(req)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Backend did not answer at %s", apiBase)
		item.Hint = "Start the processing backend or correct the API base URL in settings."
		return item
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Backend answered with HTTP %d", resp.StatusCode)
	return item
}

// checkDownloadDir validates download directory existence and write access.
func (c *Checker) checkDownloadDir(downloadDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   domain.CheckDownloadDir,
		Name: "Download directory",
	}

	if strings.TrimSpace(downloadDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Download directory is empty."
		item.Hint = "Set a directory where downloaded media can be saved."
		return item
	}

	if err := c.mkdirAll(downloadDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create download directory: %s", downloadDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(downloadDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Download directory is not writable: %s", downloadDir)
		item.Hint = "Choose a writable directory for downloaded media."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", downloadDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	do func(*http.Request) (*http.Response, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		do:         do,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
