package subscriber

import (
	"sort"
	"sync"
	"time"

	"badgewatch/internal/snapshot"
)

type entry struct {
	creds         Credentials
	gen           uint64
	snap          snapshot.Snapshot // nil until the first successful check
	errorReported bool

	configuredAt time.Time
	lastCheck    time.Time
	lastSuccess  time.Time
	lastError    string
	checks       int
	failures     int
}

// Registry is the single owner of subscriber state. All methods are safe for
// concurrent use.
//
// Every Configure assigns a new generation. Writers that captured a
// generation before a Configure or Reset are ignored, so a check that was in
// flight during reconfiguration cannot leak into the new state.
type Registry struct {
	mu      sync.RWMutex
	entries map[ID]*entry
	nextGen uint64
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{entries: map[ID]*entry{}, now: time.Now}
}

// Configure stores creds for id, clearing any snapshot and failure flag.
// It returns the new generation.
func (r *Registry) Configure(id ID, creds Credentials) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGen++
	r.entries[id] = &entry{creds: creds, gen: r.nextGen, configuredAt: r.now()}
	return r.nextGen
}

// Reset forgets id. It reports whether anything was removed.
func (r *Registry) Reset(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Credentials returns the stored credentials and current generation.
func (r *Registry) Credentials(id ID) (Credentials, uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Credentials{}, 0, false
	}
	return e.creds, e.gen, true
}

// Snapshot returns a copy of the last recorded snapshot. An empty snapshot
// is returned before the first successful check.
func (r *Registry) Snapshot(id ID) (snap snapshot.Snapshot, recorded, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false, false
	}
	if e.snap == nil {
		return snapshot.Snapshot{}, false, true
	}
	return e.snap.Clone(), true, true
}

// current returns the entry for id if it still belongs to gen.
// Callers must hold mu.
func (r *Registry) current(id ID, gen uint64) *entry {
	e, ok := r.entries[id]
	if !ok || e.gen != gen {
		return nil
	}
	return e
}

// RecordSnapshot replaces the stored snapshot. It reports false, and
// changes nothing, when id is gone or gen is stale.
func (r *Registry) RecordSnapshot(id ID, gen uint64, snap snapshot.Snapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.current(id, gen)
	if e == nil {
		return false
	}
	if snap == nil {
		snap = snapshot.Snapshot{}
	}
	now := r.now()
	e.snap = snap.Clone()
	e.lastCheck = now
	e.lastSuccess = now
	e.lastError = ""
	e.checks++
	return true
}

// RecordFailure notes a failed check for /status.
func (r *Registry) RecordFailure(id ID, gen uint64, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.current(id, gen)
	if e == nil {
		return false
	}
	e.lastCheck = r.now()
	e.checks++
	e.failures++
	if err != nil {
		e.lastError = err.Error()
	}
	return true
}

// MarkErrorReported sets the failure-reported flag for gen.
func (r *Registry) MarkErrorReported(id ID, gen uint64, reported bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.current(id, gen)
	if e == nil {
		return false
	}
	e.errorReported = reported
	return true
}

// WasErrorReported is false for unknown subscribers.
func (r *Registry) WasErrorReported(id ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return ok && e.errorReported
}

// State derives the lifecycle state of id.
func (r *Registry) State(id ID) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return stateOf(r.entries[id])
}

func stateOf(e *entry) State {
	switch {
	case e == nil:
		return Unconfigured
	case e.errorReported:
		return Degraded
	case e.snap == nil:
		return Fresh
	default:
		return Tracking
	}
}

func (r *Registry) Status(id ID) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Status{ID: id}, false
	}
	return Status{
		ID:           id,
		Login:        e.creds.Login,
		State:        stateOf(e),
		Snapshot:     e.snap.Clone(),
		HasSnapshot:  e.snap != nil,
		ConfiguredAt: e.configuredAt,
		LastCheck:    e.lastCheck,
		LastSuccess:  e.lastSuccess,
		LastError:    e.lastError,
		Checks:       e.checks,
		Failures:     e.failures,
	}, true
}

// IDs returns configured subscribers in ascending order.
func (r *Registry) IDs() []ID {
	r.mu.RLock()
	ids := make([]ID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
