package bot

import (
	"sync"
	"time"

	"taskbot/internal/transport"
	"taskbot/internal/workflow"
)

const (
	promptScope  = "prompt"
	promptCancel = "cancel"
)

// promptKey is one operator in one room.
type promptKey struct {
	ChatID   int64
	ThreadID int
	UserID   int64
}

type promptSession struct {
	Variant workflow.Variant
	// Ref is the prompt message carrying the cancel button.
	Ref     transport.MessageRef
	Expires time.Time
}

// promptBook holds operators that were asked for a task template.
type promptBook struct {
	mu       sync.Mutex
	sessions map[promptKey]promptSession
}

func newPromptBook() *promptBook {
	return &promptBook{sessions: map[promptKey]promptSession{}}
}

// put opens or replaces the session for k and returns the replaced one.
func (p *promptBook) put(k promptKey, s promptSession) (promptSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.sessions[k]
	p.sessions[k] = s
	return prev, ok
}

// take removes and returns the live session for k. Expired sessions are
// dropped and reported as absent.
func (p *promptBook) take(k promptKey, now time.Time) (promptSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[k]
	if !ok {
		return promptSession{}, false
	}
	delete(p.sessions, k)
	if now.After(s.Expires) {
		return promptSession{}, false
	}
	return s, true
}

func (p *promptBook) peek(k promptKey, now time.Time) (promptSession, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[k]
	if !ok || now.After(s.Expires) {
		return promptSession{}, false
	}
	return s, true
}

func (p *promptBook) sweep(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for k, s := range p.sessions {
		if now.After(s.Expires) {
			delete(p.sessions, k)
			n++
		}
	}
	return n
}

func (p *promptBook) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
