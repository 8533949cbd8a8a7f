package jobs

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"media-toolkit/internal/domain"
)

// fakeFetcher counts calls and returns injected metadata.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fetch func(ctx context.Context, url string) (domain.MediaDescriptor, error)
}

// FetchMetadata delegates to injected behavior.
func (f *fakeFetcher) FetchMetadata(ctx context.Context, url string) (domain.MediaDescriptor, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fetch == nil {
		return sampleMedia(), nil
	}
	return f.fetch(ctx, url)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSubmitter allows injecting run behavior per test.
type fakeSubmitter struct {
	submit func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error)
}

// Submit delegates to injected behavior.
func (s *fakeSubmitter) Submit(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
	if s.submit == nil {
		return domain.FileListResult(nil), nil
	}
	return s.submit(ctx, desc)
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func sampleMedia() domain.MediaDescriptor {
	return domain.MediaDescriptor{
		Title:     "T",
		Uploader:  "U",
		Duration:  125,
		Thumbnail: "x",
		Formats: []domain.Format{
			{ID: "a", Quality: "720p", SizeMB: 50, SizeKnown: true},
			{ID: "b", Quality: "1080p", SizeMB: 90, SizeKnown: true},
		},
	}
}

// newTestOrchestrator builds an orchestrator with a fast simulator.
func newTestOrchestrator(fetcher *fakeFetcher, submitter *fakeSubmitter, rec *eventRecorder) *Orchestrator {
	opts := Options{
		Fetcher:   fetcher,
		Submitter: submitter,
		Simulator: NewSimulatorForTests(time.Millisecond, DefaultStep, DefaultLogChance, nil, nil),
	}
	if rec != nil {
		opts.OnEvent = rec.record
	}
	return NewOrchestrator(opts)
}

// toPreview submits a URL and fails the test unless preview is reached.
func toPreview(t *testing.T, o *Orchestrator) domain.Snapshot {
	t.Helper()
	snap, err := o.Submit(context.Background(), "https://example.com/v1")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if snap.Screen != domain.ScreenPreview {
		t.Fatalf("screen = %s, want preview", snap.Screen)
	}
	return snap
}

// waitForScreen polls until the orchestrator reaches want or times out.
func waitForScreen(t *testing.T, o *Orchestrator, want domain.Screen) domain.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := o.Snapshot(); snap.Screen == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := o.Snapshot()
	t.Fatalf("screen = %s, want %s", snap.Screen, want)
	return snap
}

// TestSubmitMovesToPreviewAndSelectsFirstFormat checks the fetch scenario.
func TestSubmitMovesToPreviewAndSelectsFirstFormat(t *testing.T) {
	fetcher := &fakeFetcher{}
	o := newTestOrchestrator(fetcher, &fakeSubmitter{}, nil)

	snap := toPreview(t, o)
	if snap.Descriptor.Format != "a" {
		t.Fatalf("selected format = %q, want a", snap.Descriptor.Format)
	}
	if snap.Media == nil || snap.Media.DurationLabel() != "2:05" {
		t.Fatalf("media = %+v", snap.Media)
	}
	if snap.Descriptor.URL != "https://example.com/v1" {
		t.Fatalf("url = %q", snap.Descriptor.URL)
	}
	if snap.Error != nil || snap.Loading {
		t.Fatalf("error = %+v loading = %v", snap.Error, snap.Loading)
	}
}

// TestSubmitEmptyURLNeverFetches checks validation stays off the network.
func TestSubmitEmptyURLNeverFetches(t *testing.T) {
	fetcher := &fakeFetcher{}
	o := newTestOrchestrator(fetcher, &fakeSubmitter{}, nil)

	for _, url := range []string{"", "   ", "\t\n"} {
		snap, err := o.Submit(context.Background(), url)
		var valErr *domain.ValidationError
		if !errors.As(err, &valErr) {
			t.Fatalf("Submit(%q) error = %v, want ValidationError", url, err)
		}
		if snap.Screen != domain.ScreenInput {
			t.Fatalf("screen = %s, want input", snap.Screen)
		}
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("fetch calls = %d, want 0", fetcher.callCount())
	}
}

// TestSubmitFetchFailureStaysOnInput checks FetchError handling.
func TestSubmitFetchFailureStaysOnInput(t *testing.T) {
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, url string) (domain.MediaDescriptor, error) {
		return domain.MediaDescriptor{}, &domain.FetchError{Message: "Unsupported URL"}
	}}
	o := newTestOrchestrator(fetcher, &fakeSubmitter{}, nil)

	snap, err := o.Submit(context.Background(), "https://example.com/v1")
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if snap.Screen != domain.ScreenInput {
		t.Fatalf("screen = %s, want input", snap.Screen)
	}
	if snap.Error == nil || snap.Error.Message != "Unsupported URL" {
		t.Fatalf("error = %+v", snap.Error)
	}
	if snap.Media != nil {
		t.Fatalf("media = %+v, want nil", snap.Media)
	}

	fetcher.fetch = nil
	snap = toPreview(t, o)
	if snap.Error != nil {
		t.Fatalf("error after retry = %+v, want nil", snap.Error)
	}
}

// TestLaunchFileListReachesResults checks the JSON file-list completion path.
func TestLaunchFileListReachesResults(t *testing.T) {
	var got domain.JobDescriptor
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		got = desc
		return domain.FileListResult([]domain.OutputFile{{Filename: "out.mp4"}}), nil
	}}
	o := newTestOrchestrator(&fakeFetcher{}, submitter, nil)
	toPreview(t, o)

	if _, err := o.SelectFormat("b"); err != nil {
		t.Fatalf("SelectFormat() error = %v", err)
	}
	if _, err := o.SetFeature("enable_segmenter", true); err != nil {
		t.Fatalf("SetFeature() error = %v", err)
	}

	snap, err := o.Launch()
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if snap.Run == nil || len(snap.Run.Logs) < 1 || snap.Progress < SeedProgress {
		t.Fatalf("launch snapshot = %+v", snap)
	}

	snap = waitForScreen(t, o, domain.ScreenResults)
	if snap.Progress != 100 {
		t.Fatalf("progress = %d, want 100", snap.Progress)
	}
	if snap.Result == nil || snap.Result.Kind != domain.ResultFileList {
		t.Fatalf("result = %+v", snap.Result)
	}
	if len(snap.Result.Files) != 1 || snap.Result.Files[0].Filename != "out.mp4" {
		t.Fatalf("files = %+v", snap.Result.Files)
	}
	if snap.Result.Download != nil {
		t.Fatalf("download = %+v, want nil", snap.Result.Download)
	}
	if snap.Run != nil || snap.Error != nil {
		t.Fatalf("run = %+v error = %+v", snap.Run, snap.Error)
	}
	if got.Format != "b" || !got.Features.Segmenter || got.Features.Dubber {
		t.Fatalf("submitted descriptor = %+v", got)
	}
}

// TestLaunchFailureReturnsToPreview checks the success:false scenario.
func TestLaunchFailureReturnsToPreview(t *testing.T) {
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		return domain.CompletionResult{}, &domain.SubmissionError{Message: "quota exceeded"}
	}}
	o := newTestOrchestrator(&fakeFetcher{}, submitter, nil)
	before := toPreview(t, o)
	if _, err := o.SetFeature("enable_dubber", true); err != nil {
		t.Fatalf("SetFeature() error = %v", err)
	}

	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	snap := waitForScreen(t, o, domain.ScreenPreview)

	if snap.Error == nil || snap.Error.Message != "quota exceeded" {
		t.Fatalf("error = %+v, want quota exceeded", snap.Error)
	}
	if !reflect.DeepEqual(snap.Media, before.Media) {
		t.Fatalf("media = %+v, want %+v", snap.Media, before.Media)
	}
	if snap.Descriptor.Format != "a" || !snap.Descriptor.Features.Dubber {
		t.Fatalf("descriptor = %+v", snap.Descriptor)
	}
	if snap.Run != nil {
		t.Fatalf("run = %+v, want nil", snap.Run)
	}

	snap, err := o.Launch()
	if err != nil {
		t.Fatalf("retry Launch() error = %v", err)
	}
	if snap.Error != nil {
		t.Fatalf("error after relaunch = %+v, want nil", snap.Error)
	}
	waitForScreen(t, o, domain.ScreenPreview)
}

// TestProgressIsMonotonicAndClamped checks progress never passes the ceiling
// before settlement and ends at exactly 100.
func TestProgressIsMonotonicAndClamped(t *testing.T) {
	release := make(chan struct{})
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		<-release
		return domain.DownloadResult(domain.RemoteDownload{URL: "https://cdn.example/out.mp4"}), nil
	}}
	rec := &eventRecorder{}
	o := NewOrchestrator(Options{
		Fetcher:   &fakeFetcher{},
		Submitter: submitter,
		Simulator: NewSimulatorForTests(time.Millisecond, 7, 1, func() float64 { return 0 }, func(int) int { return 0 }),
		OnEvent:   rec.record,
	})
	toPreview(t, o)

	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for o.Snapshot().Progress < ProgressCeiling {
		if time.Now().After(deadline) {
			t.Fatalf("progress stuck at %d", o.Snapshot().Progress)
		}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	if got := o.Snapshot().Progress; got != ProgressCeiling {
		t.Fatalf("progress before settlement = %d, want %d", got, ProgressCeiling)
	}
	logs := o.Snapshot().Run.Logs
	if len(logs) <= len(InitLines) || logs[len(logs)-1] != "[PROCESS] "+Phases[0] {
		t.Fatalf("logs = %v", logs)
	}

	close(release)
	snap := waitForScreen(t, o, domain.ScreenResults)
	if snap.Progress != 100 {
		t.Fatalf("final progress = %d, want 100", snap.Progress)
	}
	if snap.Result == nil || snap.Result.Download == nil || snap.Result.Download.URL == "" {
		t.Fatalf("result = %+v", snap.Result)
	}

	last := 0
	var values []int
	for _, e := range rec.snapshot() {
		if e.Type != EventTypeProgress {
			continue
		}
		values = append(values, e.Progress)
		if e.Progress < last {
			t.Fatalf("progress regressed: %v", values)
		}
		if e.Progress > ProgressCeiling && e.Progress != 100 {
			t.Fatalf("progress %d above ceiling: %v", e.Progress, values)
		}
		last = e.Progress
	}
	if last != 100 {
		t.Fatalf("last progress event = %d, want 100", last)
	}

	time.Sleep(10 * time.Millisecond)
	if got := o.Snapshot().Progress; got != 100 {
		t.Fatalf("progress after settlement = %d, want 100", got)
	}
}

// TestLaunchWhileProcessingRejected checks the single-run guard.
func TestLaunchWhileProcessingRejected(t *testing.T) {
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		<-ctx.Done()
		return domain.CompletionResult{}, ctx.Err()
	}}
	o := newTestOrchestrator(&fakeFetcher{}, submitter, nil)
	toPreview(t, o)

	if _, err := o.Launch(); err != nil {
		t.Fatalf("first launch: %v", err)
	}
	if _, err := o.Launch(); !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second launch error = %v, want %v", err, ErrJobAlreadyRunning)
	}
	o.Reset()
}

// TestActionsRejectedOnWrongScreen checks transition guards.
func TestActionsRejectedOnWrongScreen(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSubmitter{}, nil)

	if _, err := o.Launch(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("launch on input error = %v", err)
	}
	if _, err := o.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel on input error = %v", err)
	}
	if _, err := o.SelectFormat("a"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("select on input error = %v", err)
	}

	toPreview(t, o)
	if _, err := o.Submit(context.Background(), "https://example.com/v2"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("submit on preview error = %v", err)
	}
	if snap := o.Snapshot(); snap.Error != nil {
		t.Fatalf("misuse should not set live error, got %+v", snap.Error)
	}
}

// TestPreviewEditsValidated checks format and feature validation.
func TestPreviewEditsValidated(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSubmitter{}, nil)
	toPreview(t, o)

	snap, err := o.SelectFormat("zzz")
	var valErr *domain.ValidationError
	if !errors.As(err, &valErr) || valErr.Field != "format" {
		t.Fatalf("SelectFormat(zzz) error = %v", err)
	}
	if snap.Descriptor.Format != "a" || snap.Error == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	snap, err = o.SetFeature("enable_upscaler", true)
	if !errors.As(err, &valErr) || valErr.Field != "features" {
		t.Fatalf("SetFeature(enable_upscaler) error = %v", err)
	}
	if snap.Descriptor.Features != (domain.Features{}) {
		t.Fatalf("features = %+v", snap.Descriptor.Features)
	}

	snap, err = o.SelectFormat("b")
	if err != nil || snap.Error != nil {
		t.Fatalf("SelectFormat(b) err = %v error = %+v", err, snap.Error)
	}
}

// TestEmptyFormatListUsesDefault checks the best-format fallback.
func TestEmptyFormatListUsesDefault(t *testing.T) {
	var got string
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, url string) (domain.MediaDescriptor, error) {
		return domain.MediaDescriptor{Title: "no formats"}, nil
	}}
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		got = desc.Format
		return domain.FileListResult(nil), nil
	}}
	o := newTestOrchestrator(fetcher, submitter, nil)

	snap := toPreview(t, o)
	if snap.Descriptor.Format != domain.DefaultFormat {
		t.Fatalf("format = %q, want %q", snap.Descriptor.Format, domain.DefaultFormat)
	}
	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitForScreen(t, o, domain.ScreenResults)
	if got != domain.DefaultFormat {
		t.Fatalf("submitted format = %q", got)
	}
}

// TestCancelReturnsToInput checks preview cancel discards edits.
func TestCancelReturnsToInput(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSubmitter{}, nil)
	toPreview(t, o)
	if _, err := o.SetFeature("enable_dubber", true); err != nil {
		t.Fatalf("SetFeature() error = %v", err)
	}

	snap, err := o.Cancel()
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if snap.Screen != domain.ScreenInput || snap.Media != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Descriptor.Features.Dubber || snap.Descriptor.Format != domain.DefaultFormat {
		t.Fatalf("descriptor = %+v", snap.Descriptor)
	}
	if snap.Descriptor.URL != "https://example.com/v1" {
		t.Fatalf("url = %q, want typed url kept", snap.Descriptor.URL)
	}
}

// TestResetRestoresInitialState checks reset from results.
func TestResetRestoresInitialState(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSubmitter{}, nil)
	fresh := o.Snapshot()

	toPreview(t, o)
	if _, err := o.SetFeature("enable_segmenter", true); err != nil {
		t.Fatalf("SetFeature() error = %v", err)
	}
	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitForScreen(t, o, domain.ScreenResults)

	snap := o.Reset()
	if !reflect.DeepEqual(snap, fresh) {
		t.Fatalf("reset snapshot = %+v, want %+v", snap, fresh)
	}
	if snap.Progress != 0 || snap.Descriptor.URL != "" || snap.Descriptor.Features != (domain.Features{}) {
		t.Fatalf("reset snapshot = %+v", snap)
	}
}

// TestResetDuringProcessingDiscardsLateSettlement checks external reset.
func TestResetDuringProcessingDiscardsLateSettlement(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	submitter := &fakeSubmitter{submit: func(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error) {
		close(started)
		<-ctx.Done()
		defer close(finished)
		return domain.FileListResult([]domain.OutputFile{{Filename: "late.mp4"}}), nil
	}}
	o := newTestOrchestrator(&fakeFetcher{}, submitter, nil)
	toPreview(t, o)

	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	<-started
	o.Reset()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("submission context was not cancelled by reset")
	}
	time.Sleep(10 * time.Millisecond)

	snap := o.Snapshot()
	if snap.Screen != domain.ScreenInput || snap.Result != nil || snap.Progress != 0 || snap.Run != nil {
		t.Fatalf("snapshot after late settlement = %+v", snap)
	}
}

// TestResetDuringFetchSupersedesResult checks a late metadata answer is dropped.
func TestResetDuringFetchSupersedesResult(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, url string) (domain.MediaDescriptor, error) {
		close(entered)
		<-release
		return sampleMedia(), nil
	}}
	o := newTestOrchestrator(fetcher, &fakeSubmitter{}, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), "https://example.com/v1")
		errCh <- err
	}()
	<-entered
	if !o.Snapshot().Loading {
		t.Fatal("expected loading while fetching")
	}
	o.Reset()
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("Submit() error = %v, want %v", err, ErrSuperseded)
	}
	if snap := o.Snapshot(); snap.Screen != domain.ScreenInput || snap.Media != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

// TestCompletionDelayOrdersEvents checks 100% is published before results.
func TestCompletionDelayOrdersEvents(t *testing.T) {
	rec := &eventRecorder{}
	o := NewOrchestrator(Options{
		Fetcher:         &fakeFetcher{},
		Submitter:       &fakeSubmitter{},
		Simulator:       NewSimulatorForTests(time.Hour, DefaultStep, 0, nil, nil),
		CompletionDelay: 20 * time.Millisecond,
		OnEvent:         rec.record,
		NewRunID:        func() string { return "run-fixed" },
	})
	toPreview(t, o)
	if _, err := o.Launch(); err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	waitForScreen(t, o, domain.ScreenResults)

	var order []string
	for _, e := range rec.snapshot() {
		switch {
		case e.Type == EventTypeProgress && e.Progress == 100:
			order = append(order, "progress100")
		case e.Type == EventTypeResult:
			order = append(order, "result")
		case e.Type == EventTypeScreen && e.Screen == domain.ScreenResults:
			order = append(order, "results")
			if e.RunID != "run-fixed" {
				t.Fatalf("run id = %q", e.RunID)
			}
		}
	}
	want := []string{"progress100", "result", "results"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("event order = %v, want %v", order, want)
	}
}
