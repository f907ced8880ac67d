package history

import (
	"context"
	"fmt"
	"sync"

	"bookstand/pkg/docstore"
)

// DefaultPageSize matches the page the trail is read in.
const DefaultPageSize = 35

// Pager accumulates the reverse-chronological trail one page at a time.
// Only the newest page is live: the standing subscription re-fires on
// every insert and replaces the first page, while pages fetched by
// LoadMore stay as fetched (accepted staleness). The cursor always marks
// the oldest fetched entry, so new inserts never shift pages that were
// already loaded.
//
// Entries makes no attempt to merge the live first page with the
// accumulated tail by identity. If enough inserts land between page
// loads, an entry crossing the boundary between the live page and the
// fetched tail can be shown twice or skipped. This is a known
// consistency gap, kept visible rather than papered over.
type Pager struct {
	store    docstore.Store
	pageSize int

	mu       sync.Mutex
	first    []Entry // live newest page
	older    []Entry // accumulated older pages, oldest last
	cursor   docstore.Cursor
	hasMore  bool
	loading  bool
	ready    bool
	unsub    docstore.Unsubscribe
}

// NewPager creates a pager. pageSize <= 0 selects DefaultPageSize.
func NewPager(store docstore.Store, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{store: store, pageSize: pageSize}
}

// Start resets pagination state and live-subscribes to the newest page.
// The first snapshot is applied before Start returns.
func (p *Pager) Start(ctx context.Context) error {
	p.mu.Lock()
	p.first = nil
	p.older = nil
	p.cursor = ""
	p.hasMore = false
	p.loading = false
	p.ready = false
	p.mu.Unlock()

	unsub, err := p.store.Subscribe(ctx, Collection, docstore.Query{
		Descending: true,
		Limit:      p.pageSize,
	}, p.applyFirstPage)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", Collection, err)
	}
	p.mu.Lock()
	p.unsub = unsub
	p.mu.Unlock()
	return nil
}

// Stop releases the live subscription, e.g. when the history view is no
// longer visible. Accumulated state stays readable.
func (p *Pager) Stop() {
	p.mu.Lock()
	unsub := p.unsub
	p.unsub = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (p *Pager) applyFirstPage(docs []docstore.Document) {
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, FromDocument(d))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.first = entries
	p.ready = true
	// Older pages own the cursor once any have been fetched; refreshes
	// of the live page must not move it, or already-fetched pages would
	// shift under concurrent inserts.
	if len(p.older) == 0 && !p.loading {
		if len(docs) > 0 {
			p.cursor = docstore.CursorFor(docs[len(docs)-1])
		} else {
			p.cursor = ""
		}
		p.hasMore = len(docs) == p.pageSize
	}
}

// LoadMore fetches the next page strictly older than the last fetched
// entry and appends it. It is a no-op while a fetch is in flight and
// after the trail is exhausted.
func (p *Pager) LoadMore(ctx context.Context) error {
	p.mu.Lock()
	if p.loading || !p.hasMore {
		p.mu.Unlock()
		return nil
	}
	p.loading = true
	cursor := p.cursor
	p.mu.Unlock()

	res, err := p.store.Query(ctx, Collection, docstore.Query{
		Descending: true,
		Limit:      p.pageSize,
		StartAfter: cursor,
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		// State stays usable; the caller may retry.
		return fmt.Errorf("load history page: %w", err)
	}
	for _, d := range res.Documents {
		p.older = append(p.older, FromDocument(d))
	}
	if len(res.Documents) > 0 {
		p.cursor = res.NextCursor
	}
	p.hasMore = len(res.Documents) == p.pageSize
	return nil
}

// Entries returns the accumulated trail, newest first: the live first
// page followed by the older pages in fetch order.
func (p *Pager) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, 0, len(p.first)+len(p.older))
	out = append(out, p.first...)
	out = append(out, p.older...)
	return out
}

// HasMore reports whether older pages remain.
func (p *Pager) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasMore
}

// Loading reports whether a LoadMore is in flight.
func (p *Pager) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Ready distinguishes "no entries yet delivered" from an empty trail.
func (p *Pager) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}
