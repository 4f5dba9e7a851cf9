package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateID is returned when creating a job whose id already exists.
	ErrDuplicateID = errors.New("job id already exists")
)

type entry struct {
	mu            sync.Mutex
	rec           Record
	stopRequested bool
	ctx           context.Context
	cancel        context.CancelFunc
}

func (e *entry) snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		rec.CompletedAt = &t
	}
	return rec
}

// Tracker owns every job record for the life of the process. Each record has
// its own lock; readers always receive copies.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Create registers a new job in the initializing state and returns the
// worker's handle to it.
func (t *Tracker) Create(id string, total int) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return nil, ErrDuplicateID
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		rec: Record{
			ID:        id,
			Status:    StatusInitializing,
			StartedAt: t.now(),
			Total:     total,
		},
		ctx:    ctx,
		cancel: cancel,
	}
	t.entries[id] = e
	return &Handle{t: t, e: e}, nil
}

// Get returns a copy of the record for id.
func (t *Tracker) Get(id string) (Record, error) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return e.snapshot(), nil
}

// List returns copies of all records, oldest first.
func (t *Tracker) List() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.snapshot())
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// ActiveIDs returns the ids of all non-terminal jobs.
func (t *Tracker) ActiveIDs() []string {
	var ids []string
	for _, rec := range t.List() {
		if !rec.Status.Terminal() {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}

// ActiveCount returns the number of non-terminal jobs.
func (t *Tracker) ActiveCount() int {
	return len(t.ActiveIDs())
}

// RequestStop asks a running job to stop. It reports whether the job was
// moved to stopping.
func (t *Tracker) RequestStop(id string) (bool, error) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return false, ErrNotFound
	}
	return requestStop(e), nil
}

// StopAll asks every initializing, running or processing job to stop and
// returns how many were flipped to stopping.
func (t *Tracker) StopAll() int {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	n := 0
	for _, e := range entries {
		if requestStop(e) {
			n++
		}
	}
	return n
}

func requestStop(e *entry) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.rec.Status {
	case StatusInitializing, StatusRunning, StatusProcessing:
		e.rec.Status = StatusStopping
		e.stopRequested = true
		e.cancel()
		return true
	}
	return false
}
