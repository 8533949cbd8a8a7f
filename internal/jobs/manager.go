package jobs

import (
	"errors"
	"fmt"
	"sync"

	"media-toolkit/internal/domain"
)

// ErrJobAlreadyRunning is returned when launching while a run is in flight.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrInvalidTransition is returned for actions not allowed on the current screen.
var ErrInvalidTransition = errors.New("invalid transition")

// Manager tracks the current screen and enforces the allowed edges.
type Manager struct {
	mu      sync.RWMutex
	current domain.Screen
}

// NewManager creates a manager on the input screen.
func NewManager() *Manager {
	return &Manager{current: domain.ScreenInput}
}

// Transition validates and applies a screen change.
func (m *Manager) Transition(to domain.Screen) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !isValidTransition(m.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}

	m.current = to
	return nil
}

// Current returns the current screen.
func (m *Manager) Current() domain.Screen {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Reset returns to the input screen from anywhere.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = domain.ScreenInput
}

// IsProcessing reports whether a run is in flight.
func (m *Manager) IsProcessing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current == domain.ScreenProcessing
}

// isValidTransition enforces the screen state machine edges.
func isValidTransition(from, to domain.Screen) bool {
	switch from {
	case domain.ScreenInput:
		return to == domain.ScreenPreview
	case domain.ScreenPreview:
		return to == domain.ScreenInput || to == domain.ScreenProcessing
	case domain.ScreenProcessing:
		return to == domain.ScreenResults || to == domain.ScreenPreview
	case domain.ScreenResults:
		return to == domain.ScreenInput
	default:
		return false
	}
}
