package auth

import "sync"

// ProcessingGuard de-duplicates reconciliations: a user id is never
// reconciled twice concurrently, and a user id that was the last one
// successfully reconciled is not reconciled again.
type ProcessingGuard struct {
	mu            sync.Mutex
	inFlight      map[string]chan struct{}
	lastProcessed string
}

func NewProcessingGuard() *ProcessingGuard {
	return &ProcessingGuard{inFlight: make(map[string]chan struct{})}
}

// TryBegin marks userID as in flight.  It returns false, and changes
// nothing, when userID is already in flight or equals the last processed
// id.
func (g *ProcessingGuard) TryBegin(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if userID == "" || userID == g.lastProcessed {
		return false
	}
	if _, busy := g.inFlight[userID]; busy {
		return false
	}
	g.inFlight[userID] = make(chan struct{})
	return true
}

// Complete ends the in-flight reconciliation of userID.  Only a
// successful one becomes the last processed id.
func (g *ProcessingGuard) Complete(userID string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.inFlight[userID]; ok {
		close(ch)
		delete(g.inFlight, userID)
	}
	if success {
		g.lastProcessed = userID
	}
}

// Reset forgets everything and releases anyone waiting on Pending.
func (g *ProcessingGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, ch := range g.inFlight {
		close(ch)
		delete(g.inFlight, id)
	}
	g.lastProcessed = ""
}

// Forget clears the last processed id without touching reconciliations
// in flight.
func (g *ProcessingGuard) Forget() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastProcessed = ""
}

// LastProcessed returns the last successfully reconciled user id.
func (g *ProcessingGuard) LastProcessed() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastProcessed
}

// InFlight reports whether userID is currently being reconciled.
func (g *ProcessingGuard) InFlight(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[userID]
	return ok
}

// Pending returns a channel closed when the in-flight reconciliation of
// userID ends, or nil when none is in flight.
func (g *ProcessingGuard) Pending(userID string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.inFlight[userID]; ok {
		return ch
	}
	return nil
}
