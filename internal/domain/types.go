package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// Screen is one state of the job orchestration state machine.
type Screen string

const (
	ScreenInput      Screen = "input"
	ScreenPreview    Screen = "preview"
	ScreenProcessing Screen = "processing"
	ScreenResults    Screen = "results"
)

// DefaultFormat is the selection used before metadata arrives or when the
// backend offers no selectable formats.
const DefaultFormat = "best"

// Feature names one optional processing stage requested from the backend.
type Feature string

const (
	FeatureSegmenter Feature = "enable_segmenter"
	FeatureDubber    Feature = "enable_dubber"
)

// ParseFeature maps a wire flag name to a known feature.
func ParseFeature(name string) (Feature, bool) {
	switch Feature(strings.TrimSpace(name)) {
	case FeatureSegmenter:
		return FeatureSegmenter, true
	case FeatureDubber:
		return FeatureDubber, true
	default:
		return "", false
	}
}

// Features holds the recognized feature flags. Zero value means all off.
type Features struct {
	Segmenter bool `json:"enableSegmenter"`
	Dubber    bool `json:"enableDubber"`
}

// With returns a copy with the given feature toggled.
func (f Features) With(feature Feature, enabled bool) Features {
	switch feature {
	case FeatureSegmenter:
		f.Segmenter = enabled
	case FeatureDubber:
		f.Dubber = enabled
	}
	return f
}

// JobDescriptor is everything needed to submit one processing run.
type JobDescriptor struct {
	URL      string   `json:"url"`
	Format   string   `json:"format"`
	Features Features `json:"features"`
}

// DefaultJobDescriptor returns the descriptor of a fresh session.
func DefaultJobDescriptor() JobDescriptor {
	return JobDescriptor{Format: DefaultFormat}
}

// Format is one selectable output format of a media source.
type Format struct {
	ID        string  `json:"formatId"`
	Quality   string  `json:"quality"`
	SizeMB    float64 `json:"sizeMb"`
	SizeKnown bool    `json:"sizeKnown"`
}

// SizeLabel renders the estimated size the way the preview shows it.
func (f Format) SizeLabel() string {
	if !f.SizeKnown {
		return "? MB"
	}
	return strconv.FormatFloat(f.SizeMB, 'f', -1, 64) + " MB"
}

// MediaDescriptor is the metadata fetched for a source URL. It is replaced
// wholesale on every fetch and never mutated.
type MediaDescriptor struct {
	Title     string   `json:"title"`
	Uploader  string   `json:"uploader"`
	Thumbnail string   `json:"thumbnail"`
	Duration  int      `json:"duration"`
	Views     int64    `json:"views,omitempty"`
	Formats   []Format `json:"formats"`
}

// DurationLabel formats Duration as minutes and zero-padded seconds.
func (m MediaDescriptor) DurationLabel() string {
	return FormatDuration(m.Duration)
}

// HasFormat reports whether id is a selectable format of this descriptor.
func (m MediaDescriptor) HasFormat(id string) bool {
	if len(m.Formats) == 0 {
		return id == DefaultFormat
	}
	return lo.ContainsBy(m.Formats, func(f Format) bool { return f.ID == id })
}

// DefaultFormatID returns the auto-selected format: the first entry, or
// DefaultFormat when the list is empty.
func (m MediaDescriptor) DefaultFormatID() string {
	if len(m.Formats) == 0 {
		return DefaultFormat
	}
	return m.Formats[0].ID
}

// FormatDuration renders seconds as M:SS with unbounded minutes.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// ResultKind discriminates the CompletionResult variants.
type ResultKind string

const (
	ResultFileList       ResultKind = "file_list"
	ResultRemoteDownload ResultKind = "remote_download"
)

// OutputFile is one file the backend stored on its side.
type OutputFile struct {
	Filename string `json:"filename"`
}

// Payload describes a binary response body that was saved locally.
type Payload struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// RemoteDownload is either an embedded payload or a server download URL.
// Exactly one of Payload and URL is set.
type RemoteDownload struct {
	Payload *Payload `json:"payload,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// Embedded reports whether the download arrived inline in the response.
func (d RemoteDownload) Embedded() bool {
	return d.Payload != nil
}

// CompletionResult is the normalized outcome of a finished run.
type CompletionResult struct {
	Kind     ResultKind      `json:"kind"`
	Files    []OutputFile    `json:"files,omitempty"`
	Download *RemoteDownload `json:"download,omitempty"`
}

// FileListResult builds the FileList variant.
func FileListResult(files []OutputFile) CompletionResult {
	if files == nil {
		files = []OutputFile{}
	}
	return CompletionResult{Kind: ResultFileList, Files: files}
}

// DownloadResult builds the RemoteDownload variant.
func DownloadResult(download RemoteDownload) CompletionResult {
	return CompletionResult{Kind: ResultRemoteDownload, Download: &download}
}

// JobRun is the transient state of one in-flight processing attempt.
type JobRun struct {
	ID        string    `json:"id"`
	Progress  int       `json:"progress"`
	Logs      []string  `json:"logs"`
	StartedAt time.Time `json:"startedAt"`
}

// LiveError is the single user-visible error of the session.
type LiveError struct {
	Message string `json:"message"`
}

// Snapshot is a copy of the orchestrator state safe to hand to callers.
type Snapshot struct {
	Screen     Screen            `json:"screen"`
	Descriptor JobDescriptor     `json:"descriptor"`
	Media      *MediaDescriptor  `json:"media,omitempty"`
	Run        *JobRun           `json:"run,omitempty"`
	Progress   int               `json:"progress"`
	Result     *CompletionResult `json:"result,omitempty"`
	Error      *LiveError        `json:"error,omitempty"`
	Loading    bool              `json:"loading"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	APIBase         string   `json:"apiBase"`
	DownloadDir     string   `json:"downloadDir"`
	MetadataTimeout Duration `json:"metadataTimeout"`
	ProcessTimeout  Duration `json:"processTimeout"`
	TickInterval    Duration `json:"tickInterval"`
	LogLevel        string   `json:"logLevel"`
}

// Duration is a time.Duration serialized as a Go duration string.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}
