package history

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstand/pkg/docstore"
)

// record appends n entries named "Book <start>".."Book <start+n-1>".
func record(t *testing.T, store docstore.Store, start, n int) {
	t.Helper()
	rec := NewRecorder(store)
	for i := start; i < start+n; i++ {
		require.NoError(t, rec.Record(context.Background(), Entry{
			Action: ActionAdded,
			Book:   fmt.Sprintf("Book %03d", i),
			Actor:  "Alice",
		}))
	}
}

func TestPagerFirstPageIsLive(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	assert.True(t, p.Ready())
	assert.Empty(t, p.Entries())
	assert.False(t, p.HasMore())

	record(t, store, 0, 3)
	entries := p.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "Book 002", entries[0].Book, "newest first")
	assert.Equal(t, "Book 000", entries[2].Book)
	assert.False(t, p.HasMore(), "a short first page means the trail is exhausted")

	record(t, store, 3, 2)
	entries = p.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, "Book 004", entries[0].Book, "inserts appear without any fetch")
	assert.True(t, p.HasMore(), "a full first page leaves the tail unknown")
}

func TestPagerLoadMoreAppends(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	record(t, store, 0, 12)

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.Len(t, p.Entries(), 5)
	require.True(t, p.HasMore())

	require.NoError(t, p.LoadMore(ctx))
	entries := p.Entries()
	require.Len(t, entries, 10)
	assert.Equal(t, "Book 011", entries[0].Book)
	assert.Equal(t, "Book 002", entries[9].Book)
	require.True(t, p.HasMore())

	require.NoError(t, p.LoadMore(ctx))
	entries = p.Entries()
	require.Len(t, entries, 12)
	assert.Equal(t, "Book 000", entries[11].Book, "oldest entry lands last")
	assert.False(t, p.HasMore(), "short page marks exhaustion")

	require.NoError(t, p.LoadMore(ctx), "exhausted LoadMore is a no-op")
	assert.Len(t, p.Entries(), 12)
}

func TestPagerInsertsDoNotShiftFetchedPages(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	record(t, store, 0, 10)

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	require.NoError(t, p.LoadMore(ctx))
	require.Len(t, p.Entries(), 10)

	// New inserts refresh the live page but leave the fetched tail alone.
	record(t, store, 10, 2)
	entries := p.Entries()
	require.Len(t, entries, 10)
	assert.Equal(t, "Book 011", entries[0].Book)
	assert.Equal(t, "Book 004", entries[5].Book, "tail stays as fetched")
	assert.Equal(t, "Book 000", entries[9].Book)

	// The cursor still marks the oldest fetched entry, so the next fetch
	// comes back empty rather than re-reading shifted rows.
	require.NoError(t, p.LoadMore(ctx))
	assert.Len(t, p.Entries(), 10)
	assert.False(t, p.HasMore())
}

func TestPagerStartResetsState(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	record(t, store, 0, 8)

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.LoadMore(ctx))
	require.Len(t, p.Entries(), 8)
	p.Stop()

	require.NoError(t, p.Start(ctx))
	defer p.Stop()
	assert.Len(t, p.Entries(), 5, "restart goes back to a single live page")
	assert.True(t, p.HasMore())
}

func TestPagerLoadMoreFailureKeepsStateUsable(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	record(t, store, 0, 8)

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	store.InjectFailure(docstore.OpQuery, docstore.ErrUnavailable)
	err := p.LoadMore(ctx)
	require.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.Len(t, p.Entries(), 5)
	assert.True(t, p.HasMore())
	assert.False(t, p.Loading())

	store.ClearFailures()
	require.NoError(t, p.LoadMore(ctx))
	assert.Len(t, p.Entries(), 8)
}

// blockingStore delays Query until released, exposing the in-flight
// window that the single-flight guard has to cover.
type blockingStore struct {
	*docstore.Memory
	enter   chan struct{}
	release chan struct{}
	queries int
	mu      sync.Mutex
}

func (b *blockingStore) Query(ctx context.Context, collection string, q docstore.Query) (docstore.Result, error) {
	b.mu.Lock()
	b.queries++
	b.mu.Unlock()
	b.enter <- struct{}{}
	<-b.release
	return b.Memory.Query(ctx, collection, q)
}

func TestPagerLoadMoreSingleFlight(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	store := &blockingStore{
		Memory:  mem,
		enter:   make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	record(t, mem, 0, 8)

	p := NewPager(store, 5)
	require.NoError(t, p.Start(ctx))
	defer p.Stop()

	done := make(chan error)
	go func() { done <- p.LoadMore(ctx) }()
	<-store.enter
	assert.True(t, p.Loading())

	// Concurrent calls while the fetch is in flight return immediately
	// without issuing another query.
	require.NoError(t, p.LoadMore(ctx))
	require.NoError(t, p.LoadMore(ctx))

	close(store.release)
	require.NoError(t, <-done)
	assert.False(t, p.Loading())
	assert.Len(t, p.Entries(), 8)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.queries)
}
