package callstate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry indexes live sessions by call ID and by stream ID. A stream maps
// to at most one call and a call to at most one stream.
type Registry struct {
	mu       sync.RWMutex
	calls    map[string]*Session
	streams  map[string]string
	now      func() time.Time
	draining atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		calls:   make(map[string]*Session),
		streams: make(map[string]string),
		now:     time.Now,
	}
}

// Create registers a new ringing session.
func (r *Registry) Create(callID, callee, caller string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[callID]; ok {
		return nil, ErrDuplicateCall
	}
	s := newSession(callID, callee, caller, r.now)
	r.calls[callID] = s
	return s, nil
}

// GetOrCreate returns the session for callID, creating it when absent.
func (r *Registry) GetOrCreate(callID, callee, caller string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.calls[callID]; ok {
		return s, false
	}
	s := newSession(callID, callee, caller, r.now)
	r.calls[callID] = s
	return s, true
}

// Get looks a session up by call ID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.calls[callID]
	return s, ok
}

// GetByStream looks a session up by its bound stream ID.
func (r *Registry) GetByStream(streamID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	callID, ok := r.streams[streamID]
	if !ok {
		return nil, false
	}
	s, ok := r.calls[callID]
	return s, ok
}

// BindStream associates streamID with an existing call. Rebinding a call to
// a new stream drops the old stream's mapping.
func (r *Registry) BindStream(streamID, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.calls[callID]
	if !ok {
		return ErrUnknownCall
	}
	if old := s.StreamID(); old != "" && old != streamID {
		delete(r.streams, old)
	}
	if prev, ok := r.streams[streamID]; ok && prev != callID {
		if other := r.calls[prev]; other != nil {
			other.bind("")
		}
	}
	r.streams[streamID] = callID
	s.bind(streamID)
	return nil
}

// MarkCompleted ends a call normally. Repeated calls keep the first end time.
func (r *Registry) MarkCompleted(callID string) (*Session, error) {
	return r.markEnded(callID, StatusCompleted)
}

// MarkFailed ends a call abnormally.
func (r *Registry) MarkFailed(callID string) (*Session, error) {
	return r.markEnded(callID, StatusFailed)
}

func (r *Registry) markEnded(callID string, status Status) (*Session, error) {
	s, ok := r.Get(callID)
	if !ok {
		return nil, ErrUnknownCall
	}
	s.end(status)
	return s, nil
}

// Remove evicts a call and its stream mapping. Unknown IDs are ignored.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.calls[callID]
	if !ok {
		return
	}
	delete(r.calls, callID)
	if streamID := s.StreamID(); streamID != "" && r.streams[streamID] == callID {
		delete(r.streams, streamID)
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.calls))
	for _, s := range r.calls {
		out = append(out, s)
	}
	return out
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

// WaitForEmpty blocks until no sessions remain or ctx is done.
func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
