package jobs

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// SeedProgress is shown as soon as a run starts.
	SeedProgress = 10
	// ProgressCeiling is the highest value the simulator ever reports.
	ProgressCeiling = 90

	DefaultTickInterval = 600 * time.Millisecond
	DefaultStep         = 2
	DefaultLogChance    = 0.3
)

// InitLines seed the log of every new run.
var InitLines = []string{
	"[SYSTEM] Initializing secure connection...",
	"[INFO] Resolving processing endpoint...",
	"[INFO] Submitting job descriptor...",
}

// Phases is the vocabulary of synthetic status lines. Nothing parses them.
var Phases = []string{
	"Resolving host...",
	"Fetching media manifest...",
	"Merging streams...",
	"Applying AI dubbing...",
	"Optimizing buffer...",
}

// Simulator produces cosmetic progress while the backend works. It knows
// nothing about the real job.
type Simulator struct {
	interval  time.Duration
	step      int
	ceiling   int
	logChance float64
	phases    []string
	roll      func() float64
	pick      func(n int) int
}

// NewSimulator builds a simulator ticking every interval.
func NewSimulator(interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Simulator{
		interval:  interval,
		step:      DefaultStep,
		ceiling:   ProgressCeiling,
		logChance: DefaultLogChance,
		phases:    Phases,
		roll:      rand.Float64,
		pick:      rand.Intn,
	}
}

// NewSimulatorForTests builds a simulator with deterministic randomness.
func NewSimulatorForTests(interval time.Duration, step int, logChance float64, roll func() float64, pick func(int) int) *Simulator {
	s := NewSimulator(interval)
	s.step = step
	s.logChance = logChance
	if roll != nil {
		s.roll = roll
	}
	if pick != nil {
		s.pick = pick
	}
	return s
}

// Interval returns the tick period.
func (s *Simulator) Interval() time.Duration {
	return s.interval
}

// Advance returns the progress after one tick. The result never decreases
// and never passes the ceiling.
func (s *Simulator) Advance(progress int) int {
	if progress >= s.ceiling {
		return progress
	}
	next := progress + s.step
	if next > s.ceiling {
		next = s.ceiling
	}
	return next
}

// Line returns a synthetic status line for this tick, if one is due.
func (s *Simulator) Line() (string, bool) {
	if len(s.phases) == 0 || s.roll() >= s.logChance {
		return "", false
	}
	return "[PROCESS] " + s.phases[s.pick(len(s.phases))], true
}

// Start runs onTick every interval until the returned ticker is stopped.
func (s *Simulator) Start(onTick func()) *Ticker {
	t := &Ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				select {
				case <-t.stop:
					return
				default:
				}
				onTick()
			}
		}
	}()

	return t
}

// Ticker is the handle of one running simulation loop.
type Ticker struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Stop ends the loop. It is safe to call more than once and on a nil ticker,
// and it does not wait for an in-progress tick.
func (t *Ticker) Stop() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.stop) })
}

// Done is closed once the loop goroutine has exited.
func (t *Ticker) Done() <-chan struct{} {
	if t == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.done
}
