package orchestrator

import (
	"sync"

	"arlo/internal/memory"
)

// Session tracks the REPL/API session state shared across requests,
// currently the active project.
type Session struct {
	mu     sync.RWMutex
	active *memory.Project
}

// ActiveProjectID returns the active project id, or 0.
func (s *Session) ActiveProjectID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return 0
	}
	return s.active.ID
}

// ActiveProject returns a copy of the active project, or nil.
func (s *Session) ActiveProject() *memory.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	p := *s.active
	return &p
}

// SetActiveProject switches (or clears, with nil) the active project.
func (s *Session) SetActiveProject(p *memory.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = p
}
