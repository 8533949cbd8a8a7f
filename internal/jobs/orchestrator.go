package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-toolkit/internal/domain"
)

// ErrFetchInProgress is returned when submit is called while a lookup runs.
var ErrFetchInProgress = errors.New("metadata fetch already in progress")

// ErrSuperseded is returned when a reset discarded the action's outcome.
var ErrSuperseded = errors.New("superseded by reset")

// DefaultCompletionDelay keeps 100% on screen briefly before results.
const DefaultCompletionDelay = 800 * time.Millisecond

const emptyURLMessage = "enter a media URL"

// MetadataFetcher resolves a URL into a media descriptor.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, url string) (domain.MediaDescriptor, error)
}

// JobSubmitter runs one processing job.
type JobSubmitter interface {
	Submit(ctx context.Context, desc domain.JobDescriptor) (domain.CompletionResult, error)
}

// Options configures an Orchestrator.
type Options struct {
	Fetcher         MetadataFetcher
	Submitter       JobSubmitter
	Simulator       *Simulator
	Logger          *slog.Logger
	CompletionDelay time.Duration
	// OnEvent receives every event in order. It runs under the orchestrator
	// lock and must not call back into the Orchestrator.
	OnEvent  func(Event)
	NewRunID func() string
}

// runState is the live Job Run. Its ticker and cancel func are released on
// every exit path.
type runState struct {
	id        string
	logs      []string
	startedAt time.Time
	ticker    *Ticker
	cancel    context.CancelFunc
	ctx       context.Context
	settled   bool
}

// release stops the ticker and aborts the request context.
func (r *runState) release() {
	r.ticker.Stop()
	if r.cancel != nil {
		r.cancel()
	}
}

// Orchestrator owns the session state and sequences fetch, launch, and reset.
type Orchestrator struct {
	fetcher         MetadataFetcher
	submitter       JobSubmitter
	sim             *Simulator
	logger          *slog.Logger
	completionDelay time.Duration
	onEvent         func(Event)
	newRunID        func() string
	screens         *Manager

	mu       sync.Mutex
	desc     domain.JobDescriptor
	media    *domain.MediaDescriptor
	run      *runState
	progress int
	result   *domain.CompletionResult
	liveErr  *domain.LiveError
	loading  bool
	fetchSeq uint64
}

// NewOrchestrator creates an orchestrator on the input screen.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		fetcher:         opts.Fetcher,
		submitter:       opts.Submitter,
		sim:             opts.Simulator,
		logger:          opts.Logger,
		completionDelay: opts.CompletionDelay,
		onEvent:         opts.OnEvent,
		newRunID:        opts.NewRunID,
		screens:         NewManager(),
		desc:            domain.DefaultJobDescriptor(),
	}
	if o.sim == nil {
		o.sim = NewSimulator(DefaultTickInterval)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.completionDelay < 0 {
		o.completionDelay = 0
	}
	if o.newRunID == nil {
		o.newRunID = func() string { return "run-" + uuid.NewString() }
	}
	return o
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Submit fetches metadata for url and moves to preview. An empty url fails
// validation without any network call.
func (o *Orchestrator) Submit(ctx context.Context, url string) (domain.Snapshot, error) {
	url = strings.TrimSpace(url)

	o.mu.Lock()
	if screen := o.screens.Current(); screen != domain.ScreenInput {
		o.mu.Unlock()
		return o.Snapshot(), fmt.Errorf("%w: submit on %s screen", ErrInvalidTransition, screen)
	}
	if o.loading {
		o.mu.Unlock()
		return o.Snapshot(), ErrFetchInProgress
	}

	o.desc.URL = url
	if url == "" {
		err := &domain.ValidationError{Field: "url", Message: emptyURLMessage}
		o.setErrorLocked("", err)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, err
	}

	o.clearErrorLocked()
	o.loading = true
	o.fetchSeq++
	seq := o.fetchSeq
	o.mu.Unlock()

	o.logger.Info("fetching media info", "url", url)
	media, err := o.fetcher.FetchMetadata(ctx, url)

	o.mu.Lock()
	defer o.mu.Unlock()
	if seq != o.fetchSeq {
		return o.snapshotLocked(), ErrSuperseded
	}
	o.loading = false

	if err != nil {
		o.logger.Warn("media info fetch failed", "url", url, "error", err)
		o.setErrorLocked("", err)
		return o.snapshotLocked(), err
	}

	o.media = cloneMedia(&media)
	o.desc.Format = media.DefaultFormatID()
	o.clearErrorLocked()
	o.transitionLocked("", domain.ScreenPreview)
	return o.snapshotLocked(), nil
}

// Cancel leaves preview for input, discarding the format and flag edits and
// the fetched metadata. The typed URL is kept.
func (o *Orchestrator) Cancel() (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if screen := o.screens.Current(); screen != domain.ScreenPreview {
		return o.snapshotLocked(), fmt.Errorf("%w: cancel on %s screen", ErrInvalidTransition, screen)
	}

	url := o.desc.URL
	o.desc = domain.DefaultJobDescriptor()
	o.desc.URL = url
	o.media = nil
	o.clearErrorLocked()
	o.transitionLocked("", domain.ScreenInput)
	return o.snapshotLocked(), nil
}

// SelectFormat changes the selected output format on the preview screen.
func (o *Orchestrator) SelectFormat(formatID string) (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if screen := o.screens.Current(); screen != domain.ScreenPreview {
		return o.snapshotLocked(), fmt.Errorf("%w: select format on %s screen", ErrInvalidTransition, screen)
	}
	if o.media == nil || !o.media.HasFormat(formatID) {
		err := &domain.ValidationError{Field: "format", Message: fmt.Sprintf("unknown format %q", formatID)}
		o.setErrorLocked("", err)
		return o.snapshotLocked(), err
	}

	o.desc.Format = formatID
	o.clearErrorLocked()
	return o.snapshotLocked(), nil
}

// SetFeature toggles a named feature flag on the preview screen. Unknown
// names are rejected.
func (o *Orchestrator) SetFeature(name string, enabled bool) (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if screen := o.screens.Current(); screen != domain.ScreenPreview {
		return o.snapshotLocked(), fmt.Errorf("%w: set feature on %s screen", ErrInvalidTransition, screen)
	}
	feature, ok := domain.ParseFeature(name)
	if !ok {
		err := &domain.ValidationError{Field: "features", Message: fmt.Sprintf("unknown feature %q", name)}
		o.setErrorLocked("", err)
		return o.snapshotLocked(), err
	}

	o.desc.Features = o.desc.Features.With(feature, enabled)
	o.clearErrorLocked()
	return o.snapshotLocked(), nil
}

// Launch starts a run: it seeds progress, starts the simulator, and submits
// the job in the background. The result arrives through events and
// snapshots.
func (o *Orchestrator) Launch() (domain.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch screen := o.screens.Current(); screen {
	case domain.ScreenPreview:
	case domain.ScreenProcessing:
		return o.snapshotLocked(), ErrJobAlreadyRunning
	default:
		return o.snapshotLocked(), fmt.Errorf("%w: launch on %s screen", ErrInvalidTransition, screen)
	}

	if err := o.validateLocked(); err != nil {
		o.setErrorLocked("", err)
		return o.snapshotLocked(), err
	}

	if o.run != nil {
		o.run.release()
		o.run = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &runState{
		id:        o.newRunID(),
		logs:      append([]string(nil), InitLines...),
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		ctx:       ctx,
	}
	o.run = run
	o.progress = SeedProgress
	o.result = nil
	o.clearErrorLocked()
	o.transitionLocked(run.id, domain.ScreenProcessing)
	o.emitLocked(Event{RunID: run.id, Type: EventTypeProgress, Progress: o.progress})
	for _, line := range run.logs {
		o.emitLocked(Event{RunID: run.id, Type: EventTypeLog, Message: line})
	}

	runID := run.id
	run.ticker = o.sim.Start(func() { o.tick(runID) })
	o.logger.Info("run started", "run", runID, "url", o.desc.URL, "format", o.desc.Format,
		"segmenter", o.desc.Features.Segmenter, "dubber", o.desc.Features.Dubber)

	go o.execute(ctx, runID, o.desc)
	return o.snapshotLocked(), nil
}

// Reset returns to a fresh session from any screen. A run in flight is
// stopped and its late outcome is discarded.
func (o *Orchestrator) Reset() domain.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		o.logger.Info("run discarded by reset", "run", o.run.id)
		o.run.release()
		o.run = nil
	}
	o.fetchSeq++
	o.loading = false
	o.desc = domain.DefaultJobDescriptor()
	o.media = nil
	o.progress = 0
	o.result = nil
	o.liveErr = nil

	from := o.screens.Current()
	o.screens.Reset()
	if from != domain.ScreenInput {
		o.logger.Info("screen transition", "from", from, "to", domain.ScreenInput)
	}
	o.emitLocked(Event{Type: EventTypeScreen, Screen: domain.ScreenInput})
	return o.snapshotLocked()
}

// execute performs the submission and applies its outcome.
func (o *Orchestrator) execute(ctx context.Context, runID string, desc domain.JobDescriptor) {
	result, err := o.submitter.Submit(ctx, desc)
	o.settle(runID, result, err)
}

// settle stops the ticker first and only then applies the outcome, so a late
// tick cannot overwrite the final progress.
func (o *Orchestrator) settle(runID string, result domain.CompletionResult, err error) {
	o.mu.Lock()
	run := o.run
	if run == nil || run.id != runID {
		o.mu.Unlock()
		o.logger.Debug("stale settlement dropped", "run", runID)
		return
	}
	run.ticker.Stop()
	run.settled = true

	if err != nil {
		o.logger.Warn("run failed", "run", runID, "elapsed", time.Since(run.startedAt), "error", err)
		run.release()
		o.run = nil
		o.progress = 0
		o.setErrorLocked(runID, err)
		o.transitionLocked(runID, domain.ScreenPreview)
		o.mu.Unlock()
		return
	}

	o.logger.Info("run completed", "run", runID, "elapsed", time.Since(run.startedAt), "kind", result.Kind)
	o.progress = 100
	o.result = cloneResult(&result)
	o.clearErrorLocked()
	o.emitLocked(Event{RunID: runID, Type: EventTypeProgress, Progress: o.progress})
	o.emitLocked(Event{RunID: runID, Type: EventTypeResult, Result: cloneResult(&result)})
	o.mu.Unlock()

	if o.completionDelay > 0 {
		timer := time.NewTimer(o.completionDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-run.ctx.Done():
			return
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run != run {
		return
	}
	run.release()
	o.run = nil
	o.transitionLocked(runID, domain.ScreenResults)
}

// tick applies one simulator step to the run identified by runID.
func (o *Orchestrator) tick(runID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run := o.run
	if run == nil || run.id != runID || run.settled {
		return
	}

	if next := o.sim.Advance(o.progress); next != o.progress {
		o.progress = next
		o.emitLocked(Event{RunID: runID, Type: EventTypeProgress, Progress: next})
	}
	if line, ok := o.sim.Line(); ok {
		run.logs = append(run.logs, line)
		o.emitLocked(Event{RunID: runID, Type: EventTypeLog, Message: line})
	}
}

// validateLocked checks the descriptor is submittable.
func (o *Orchestrator) validateLocked() error {
	if strings.TrimSpace(o.desc.URL) == "" {
		return &domain.ValidationError{Field: "url", Message: emptyURLMessage}
	}
	if o.media != nil && !o.media.HasFormat(o.desc.Format) {
		return &domain.ValidationError{Field: "format", Message: fmt.Sprintf("unknown format %q", o.desc.Format)}
	}
	return nil
}

// transitionLocked moves to screen and emits the change.
func (o *Orchestrator) transitionLocked(runID string, to domain.Screen) {
	from := o.screens.Current()
	if err := o.screens.Transition(to); err != nil {
		o.logger.Error("screen transition rejected", "from", from, "to", to, "error", err)
		return
	}
	o.logger.Info("screen transition", "from", from, "to", to)
	o.emitLocked(Event{RunID: runID, Type: EventTypeScreen, Screen: to})
}

// setErrorLocked replaces the live error with the user-facing message of err.
func (o *Orchestrator) setErrorLocked(runID string, err error) {
	o.liveErr = &domain.LiveError{Message: userMessage(err)}
	o.emitLocked(Event{RunID: runID, Type: EventTypeError, Message: o.liveErr.Message})
}

func (o *Orchestrator) clearErrorLocked() {
	o.liveErr = nil
}

func (o *Orchestrator) emitLocked(event Event) {
	if o.onEvent != nil {
		o.onEvent(event)
	}
}

// snapshotLocked copies state so callers never share mutable slices.
func (o *Orchestrator) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		Screen:     o.screens.Current(),
		Descriptor: o.desc,
		Media:      cloneMedia(o.media),
		Progress:   o.progress,
		Result:     cloneResult(o.result),
		Loading:    o.loading,
	}
	if o.liveErr != nil {
		e := *o.liveErr
		snap.Error = &e
	}
	if o.run != nil {
		snap.Run = &domain.JobRun{
			ID:        o.run.id,
			Progress:  o.progress,
			Logs:      append([]string(nil), o.run.logs...),
			StartedAt: o.run.startedAt,
		}
	}
	return snap
}

// userMessage extracts the message shown to the user for err.
func userMessage(err error) string {
	var fetchErr *domain.FetchError
	var subErr *domain.SubmissionError
	var valErr *domain.ValidationError
	switch {
	case errors.As(err, &fetchErr):
		return fetchErr.Message
	case errors.As(err, &subErr):
		return subErr.Message
	case errors.As(err, &valErr):
		return valErr.Message
	default:
		return err.Error()
	}
}

func cloneMedia(m *domain.MediaDescriptor) *domain.MediaDescriptor {
	if m == nil {
		return nil
	}
	out := *m
	out.Formats = append([]domain.Format(nil), m.Formats...)
	return &out
}

func cloneResult(r *domain.CompletionResult) *domain.CompletionResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.Files != nil {
		out.Files = append([]domain.OutputFile{}, r.Files...)
	}
	if r.Download != nil {
		d := *r.Download
		if d.Payload != nil {
			p := *d.Payload
			d.Payload = &p
		}
		out.Download = &d
	}
	return &out
}
