package risksync

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one entity's current risk view.
type Entry struct {
	Score       float64
	Explanation string
	UpdatedAt   time.Time
}

// Overlay is a client-side cache of fetched risk scores keyed by entity id,
// for consumers that poll the score endpoint and render scores next to
// locally editable state. The server itself persists scores through the
// version-fenced ledger write and never constructs one. Scores are
// overlay-only fields: a merge never touches an entity the user is actively
// editing, so reconciliation cannot clobber in-flight edits.
type Overlay struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Entry
	editing map[uuid.UUID]bool
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{
		entries: make(map[uuid.UUID]Entry),
		editing: make(map[uuid.UUID]bool),
	}
}

// MarkEditing flags an entity as under local edit; merges skip it.
func (o *Overlay) MarkEditing(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editing[id] = true
}

// ClearEditing removes the edit flag.
func (o *Overlay) ClearEditing(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.editing, id)
}

// Merge applies fetched entries, skipping entities under edit. Returns the
// number of entries applied.
func (o *Overlay) Merge(fetched map[uuid.UUID]Entry) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	applied := 0
	for id, e := range fetched {
		if o.editing[id] {
			continue
		}
		o.entries[id] = e
		applied++
	}
	return applied
}

// Get returns the overlay entry for an entity.
func (o *Overlay) Get(id uuid.UUID) (Entry, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.entries[id]
	return e, ok
}

// IDs returns the entity ids currently tracked by the overlay.
func (o *Overlay) IDs() []uuid.UUID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(o.entries))
	for id := range o.entries {
		ids = append(ids, id)
	}
	return ids
}

// Track registers an entity id with a zero entry so the next reconciliation
// fetches it.
func (o *Overlay) Track(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[id]; !ok {
		o.entries[id] = Entry{}
	}
}
