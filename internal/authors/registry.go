// Package authors keeps the deduplicated set of author names used for
// autocomplete. Identity is case-insensitive; the first-seen casing is
// preserved for display. The set only ever grows.
package authors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"bookstand/pkg/docstore"
)

// Collection is the remote collection holding author documents.
const Collection = "authors"

// Registry registers new authors and serves a live name cache.
type Registry struct {
	store docstore.Store

	mu    sync.RWMutex
	names []string
	unsub docstore.Unsubscribe
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store docstore.Store) *Registry {
	return &Registry{store: store}
}

// Register adds a name unless it already exists case-insensitively. The
// existence check reads the remote set, not the local cache, so two
// writers racing on different casings at worst insert a duplicate that
// the case-insensitive check then hides.
func (r *Registry) Register(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	res, err := r.store.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		return fmt.Errorf("list authors: %w", err)
	}
	for _, d := range res.Documents {
		if strings.EqualFold(strings.TrimSpace(d.String("name")), name) {
			return nil
		}
	}

	if _, err := r.store.Create(ctx, Collection, map[string]any{"name": name}); err != nil {
		return fmt.Errorf("register author %q: %w", name, err)
	}
	return nil
}

// Start live-subscribes the name cache.
func (r *Registry) Start(ctx context.Context) error {
	unsub, err := r.store.Subscribe(ctx, Collection, docstore.Query{}, r.apply)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", Collection, err)
	}
	r.unsub = unsub
	return nil
}

// Stop releases the subscription.
func (r *Registry) Stop() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

func (r *Registry) apply(docs []docstore.Document) {
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if n := strings.TrimSpace(d.String("name")); n != "" {
			names = append(names, n)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})

	r.mu.Lock()
	r.names = names
	r.mu.Unlock()
}

// Names returns the cached author names sorted case-insensitively.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// Migrate backfills the registry from authors already present on books,
// keeping the casing of the first book that mentions each author.
// Returns how many names were added.
func (r *Registry) Migrate(ctx context.Context) (int, error) {
	books, err := r.store.Query(ctx, "books", docstore.Query{})
	if err != nil {
		return 0, fmt.Errorf("list books: %w", err)
	}
	existing, err := r.store.Query(ctx, Collection, docstore.Query{})
	if err != nil {
		return 0, fmt.Errorf("list authors: %w", err)
	}

	seen := make(map[string]bool)
	for _, d := range existing.Documents {
		seen[strings.ToLower(strings.TrimSpace(d.String("name")))] = true
	}

	added := 0
	for _, d := range books.Documents {
		name := strings.TrimSpace(d.String("author"))
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		if _, err := r.store.Create(ctx, Collection, map[string]any{"name": name}); err != nil {
			return added, fmt.Errorf("migrate author %q: %w", name, err)
		}
		seen[key] = true
		added++
	}
	return added, nil
}
