package catalog

import (
	"context"
	"fmt"
	"sync"

	"bookstand/pkg/docstore"
)

// Mirror is the in-memory copy of the books collection. A standing
// subscription replaces its contents wholesale on every remote change,
// whoever made it; nothing else ever mutates the mirror, so a failed
// write cannot corrupt it. Writes go directly to the store and become
// visible only through the next snapshot.
type Mirror struct {
	store docstore.Store

	mu    sync.RWMutex
	books []Book
	ready bool

	unsub docstore.Unsubscribe

	// onChange, when set before Start, is invoked after each snapshot is
	// applied. Render hooks belong to the presentation layer.
	onChange func([]Book)
}

// NewMirror creates a mirror over the given store. It holds no data
// until Start succeeds and the first snapshot arrives.
func NewMirror(store docstore.Store) *Mirror {
	return &Mirror{store: store}
}

// OnChange registers a hook called with a copy of every applied
// snapshot. Must be called before Start.
func (m *Mirror) OnChange(fn func([]Book)) {
	m.onChange = fn
}

// Start opens the standing subscription. The initial snapshot is applied
// before Start returns.
func (m *Mirror) Start(ctx context.Context) error {
	unsub, err := m.store.Subscribe(ctx, Collection, docstore.Query{}, m.apply)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", Collection, err)
	}
	m.unsub = unsub
	return nil
}

// Stop releases the subscription. The last applied snapshot remains
// readable.
func (m *Mirror) Stop() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

func (m *Mirror) apply(docs []docstore.Document) {
	books := make([]Book, 0, len(docs))
	for _, d := range docs {
		books = append(books, FromDocument(d))
	}

	m.mu.Lock()
	m.books = books
	m.ready = true
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(append([]Book(nil), books...))
	}
}

// Ready reports whether at least one snapshot has arrived. An empty
// mirror that is ready means the collection is truly empty, not unloaded.
func (m *Mirror) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Snapshot returns a copy of the current mirror contents.
func (m *Mirror) Snapshot() []Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Book(nil), m.books...)
}

// Get returns the mirrored book with the given id.
func (m *Mirror) Get(id string) (Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.books {
		if b.ID == id {
			return b, true
		}
	}
	return Book{}, false
}

// FindByISBN returns the active entry whose ISBN matches
// case-insensitively, skipping excludeID (the entry being edited).
// Deleted books no longer appear in the mirror, so uniqueness naturally
// applies only among active entries.
func (m *Mirror) FindByISBN(isbn, excludeID string) (Book, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.books {
		if b.ID != excludeID && SameISBN(b.ISBN, isbn) {
			return b, true
		}
	}
	return Book{}, false
}

// Counts reports the mirror size against a filtered view size.
type Counts struct {
	Total int `json:"total"`
	Shown int `json:"shown"`
}

// Counts computes derived counters for a rendered view.
func (m *Mirror) Counts(view []Book) Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Counts{Total: len(m.books), Shown: len(view)}
}
