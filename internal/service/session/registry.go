package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/care-relay/backend/internal/service/assistant"
)

// Options configure the registry lifecycle policy. Zero values disable
// the corresponding bound.
type Options struct {
	IdleTTL    time.Duration
	MaxEntries int
	Clock      func() time.Time
	Logger     zerolog.Logger
}

type entry struct {
	thread   assistant.Thread
	lastUsed time.Time
}

// Registry maps session ids to assistant threads. Threads are created
// under the registry lock, so a session never gets two handles.
type Registry struct {
	client assistant.Client

	mu      sync.Mutex
	entries map[string]*entry

	idleTTL    time.Duration
	maxEntries int
	now        func() time.Time
	log        zerolog.Logger

	evictRunning bool
}

// NewRegistry returns an empty registry backed by client.
func NewRegistry(client assistant.Client, opts Options) *Registry {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Registry{
		client:     client,
		entries:    make(map[string]*entry),
		idleTTL:    opts.IdleTTL,
		maxEntries: opts.MaxEntries,
		now:        now,
		log:        opts.Logger,
	}
}

// GetOrCreate returns the thread for sessionID, starting one on first use.
func (r *Registry) GetOrCreate(sessionID string) assistant.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if e, ok := r.entries[sessionID]; ok {
		e.lastUsed = now
		return e.thread
	}

	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		r.evictOldestLocked()
	}

	thread := r.client.StartThread()
	r.entries[sessionID] = &entry{thread: thread, lastUsed: now}
	r.log.Debug().Str("session_id", sessionID).Str("thread_id", thread.ID()).Msg("thread started")
	return thread
}

// Evict drops the entry for sessionID and reports whether one existed.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[sessionID]; !ok {
		return false
	}
	delete(r.entries, sessionID)
	return true
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// evictOldestLocked removes the least recently used entry. O(n), only
// reached when the registry is at capacity.
func (r *Registry) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
		found    bool
	)
	for id, e := range r.entries {
		if !found || e.lastUsed.Before(oldest) {
			oldestID, oldest, found = id, e.lastUsed, true
		}
	}
	if found {
		delete(r.entries, oldestID)
		r.log.Debug().Str("session_id", oldestID).Msg("evicted least recently used session")
	}
}

// EvictIdle removes entries unused for at least the idle TTL and returns
// how many were removed.
func (r *Registry) EvictIdle(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, e := range r.entries {
		if now.Sub(e.lastUsed) >= r.idleTTL {
			delete(r.entries, id)
			evicted++
		}
	}
	return evicted
}

// StartEvictionLoop sweeps idle entries every interval until ctx is done.
// It blocks; callers run it on its own goroutine.
func (r *Registry) StartEvictionLoop(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.evictRunning || r.idleTTL <= 0 || interval <= 0 {
		r.mu.Unlock()
		return
	}
	r.evictRunning = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.evictRunning = false
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(r.now()); n > 0 {
				r.log.Info().Int("evicted", n).Int("remaining", r.Len()).Msg("evicted idle sessions")
			}
		}
	}
}
