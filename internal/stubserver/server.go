// Package stubserver is a scripted stand-in for the media processing backend.
// It serves the /video-info and /process contract for local development and
// for tests.
package stubserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// ProcessMode selects the shape of the /process response.
type ProcessMode string

const (
	ProcessFiles       ProcessMode = "files"
	ProcessDownloadURL ProcessMode = "download_url"
	ProcessBinary      ProcessMode = "binary"
	ProcessFailure     ProcessMode = "failure"
)

// Format is a format entry in wire shape. MB may be a number or "?".
type Format struct {
	FormatID string `json:"format_id"`
	Quality  string `json:"quality"`
	MB       any    `json:"mb"`
}

// VideoInfo is the success body of /video-info without the envelope flag.
type VideoInfo struct {
	Title     string   `json:"title"`
	Uploader  string   `json:"uploader"`
	Duration  any      `json:"duration"`
	Thumbnail string   `json:"thumbnail"`
	Views     int64    `json:"views,omitempty"`
	Formats   []Format `json:"formats"`
}

// Script controls how the stub answers.
type Script struct {
	Info          VideoInfo
	InfoError     string
	InfoStatus    int
	Process       ProcessMode
	ProcessError  string
	ProcessStatus int
	Files         []string
	DownloadURL   string
	Payload       []byte
	PayloadType   string
	Latency       time.Duration
	// Release, when set, holds /process until it is closed.
	Release <-chan struct{}
}

// ProcessRequest is the decoded body of the last /process call.
type ProcessRequest struct {
	URL             string `json:"url"`
	Format          string `json:"format"`
	EnableSegmenter bool   `json:"enable_segmenter"`
	EnableDubber    bool   `json:"enable_dubber"`
}

// Server answers backend requests from a Script.
type Server struct {
	mu          sync.Mutex
	script      Script
	calls       map[string]int
	lastProcess ProcessRequest
	logger      *slog.Logger
}

// DefaultScript returns a small two-format source that processes into one file.
func DefaultScript() Script {
	return Script{
		Info: VideoInfo{
			Title:     "Sample Clip",
			Uploader:  "Stub Channel",
			Duration:  125,
			Thumbnail: "https://example.com/thumb.jpg",
			Views:     1024,
			Formats: []Format{
				{FormatID: "1080", Quality: "1080p", MB: 90.5},
				{FormatID: "720", Quality: "720p", MB: 50},
				{FormatID: "360", Quality: "360p", MB: "?"},
			},
		},
		Process: ProcessFiles,
		Files:   []string{"Sample Clip.mp4"},
	}
}

// New creates a stub server. A nil logger discards output.
func New(script Script, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		script: script,
		calls:  make(map[string]int),
		logger: logger,
	}
}

// SetScript replaces the active script.
func (s *Server) SetScript(script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = script
}

// Calls returns how many times the named endpoint was hit.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[strings.TrimPrefix(endpoint, "/")]
}

// LastProcessRequest returns the body of the most recent /process call.
func (s *Server) LastProcessRequest() ProcessRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcess
}

// Router registers the backend routes under prefix.
func (s *Server) Router(prefix string) *mux.Router {
	r := mux.NewRouter()
	api := r
	if prefix = strings.TrimRight(prefix, "/"); prefix != "" {
		api = r.PathPrefix(prefix).Subrouter()
	}
	api.HandleFunc("/video-info", s.videoInfo).Methods(http.MethodPost)
	api.HandleFunc("/process", s.process).Methods(http.MethodPost)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet, http.MethodHead)
	return r
}

// Handler returns the router wrapped with permissive CORS for browser frontends.
func (s *Server) Handler(prefix string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.Router(prefix))
}

func (s *Server) begin(endpoint string) Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[endpoint]++
	return s.script
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) videoInfo(w http.ResponseWriter, r *http.Request) {
	script := s.begin("video-info")

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeFailure(w, http.StatusBadRequest, "No URL")
		return
	}
	if !wait(r, script.Latency, nil) {
		return
	}

	if script.InfoError != "" {
		writeFailure(w, statusOr(script.InfoStatus, http.StatusInternalServerError), script.InfoError)
		return
	}

	s.logger.Info("stub video-info", "url", req.URL)
	writeJSON(w, statusOr(script.InfoStatus, http.StatusOK), struct {
		Success bool `json:"success"`
		VideoInfo
	}{Success: true, VideoInfo: script.Info})
}

func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	script := s.begin("process")

	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeFailure(w, http.StatusBadRequest, "No URL")
		return
	}
	s.mu.Lock()
	s.lastProcess = req
	s.mu.Unlock()

	if !wait(r, script.Latency, script.Release) {
		return
	}

	s.logger.Info("stub process", "url", req.URL, "format", req.Format, "mode", script.Process)
	switch script.Process {
	case ProcessFailure:
		writeFailure(w, statusOr(script.ProcessStatus, http.StatusInternalServerError), script.ProcessError)
	case ProcessDownloadURL:
		writeJSON(w, statusOr(script.ProcessStatus, http.StatusOK), map[string]any{
			"success": true,
			"files":   map[string]string{"download_url": script.DownloadURL},
		})
	case ProcessBinary:
		contentType := script.PayloadType
		if contentType == "" {
			contentType = "video/mp4"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(statusOr(script.ProcessStatus, http.StatusOK))
		_, _ = w.Write(script.Payload)
	default:
		files := make([]map[string]string, 0, len(script.Files))
		for _, name := range script.Files {
			files = append(files, map[string]string{"filename": name})
		}
		writeJSON(w, statusOr(script.ProcessStatus, http.StatusOK), map[string]any{
			"success": true,
			"files":   files,
		})
	}
}

// wait applies latency and the optional release gate. It returns false when
// the client went away first.
func wait(r *http.Request, latency time.Duration, release <-chan struct{}) bool {
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
			return false
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-r.Context().Done():
			return false
		}
	}
	return true
}

func statusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
