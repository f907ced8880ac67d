package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstand/pkg/docstore"
)

func TestMirrorAppliesInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	id, err := store.Create(ctx, Collection, Book{Title: "Dune", Author: "Herbert", Stock: 3, Price: 15, ISBN: "111"}.Fields())
	require.NoError(t, err)

	m := NewMirror(store)
	assert.False(t, m.Ready())
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	assert.True(t, m.Ready())
	books := m.Snapshot()
	require.Len(t, books, 1)
	assert.Equal(t, Book{ID: id, Title: "Dune", Author: "Herbert", Stock: 3, Price: 15, ISBN: "111"}, books[0])
}

func TestMirrorReplacedWholesale(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	m := NewMirror(store)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()
	assert.True(t, m.Ready(), "an empty collection still makes the mirror ready")

	id1, err := store.Create(ctx, Collection, Book{Title: "Dune", ISBN: "111"}.Fields())
	require.NoError(t, err)
	id2, err := store.Create(ctx, Collection, Book{Title: "Emma", ISBN: "222"}.Fields())
	require.NoError(t, err)
	require.Len(t, m.Snapshot(), 2)

	require.NoError(t, store.Delete(ctx, Collection, id1))
	books := m.Snapshot()
	require.Len(t, books, 1)
	assert.Equal(t, id2, books[0].ID)

	require.NoError(t, store.Update(ctx, Collection, id2, map[string]any{"stock": 9}))
	got, ok := m.Get(id2)
	require.True(t, ok)
	assert.Equal(t, 9, got.Stock)
}

func TestMirrorUnchangedByFailedWrite(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	id, err := store.Create(ctx, Collection, Book{Title: "Dune", Stock: 3}.Fields())
	require.NoError(t, err)

	m := NewMirror(store)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	store.InjectFailure(docstore.OpUpdate, errors.New("backend down"))
	require.Error(t, store.Update(ctx, Collection, id, map[string]any{"stock": 0}))

	got, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, 3, got.Stock, "rejected writes never reach the mirror")
}

func TestMirrorFindByISBN(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	id1, err := store.Create(ctx, Collection, Book{Title: "Dune", ISBN: "978-0441013593"}.Fields())
	require.NoError(t, err)

	m := NewMirror(store)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	_, found := m.FindByISBN(" 978-0441013593 ", "")
	assert.True(t, found, "match ignores case and surrounding whitespace")

	_, found = m.FindByISBN("978-0441013593", id1)
	assert.False(t, found, "the entry under edit does not collide with itself")

	_, found = m.FindByISBN("978-0000000000", "")
	assert.False(t, found)
}

func TestMirrorOnChange(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	var seen [][]Book
	m := NewMirror(store)
	m.OnChange(func(books []Book) { seen = append(seen, books) })
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Len(t, seen, 1)

	_, err := store.Create(ctx, Collection, Book{Title: "Dune"}.Fields())
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Len(t, seen[1], 1)
}

func TestMirrorCounts(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	for _, title := range []string{"Dune", "Emma", "Ulysses"} {
		_, err := store.Create(ctx, Collection, Book{Title: title}.Fields())
		require.NoError(t, err)
	}

	m := NewMirror(store)
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	shown := View{Search: "dune"}.Apply(m.Snapshot())
	assert.Equal(t, Counts{Total: 3, Shown: 1}, m.Counts(shown))
}
