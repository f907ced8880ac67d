package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sample() []Book {
	return []Book{
		{ID: "1", Title: "zen and the art", Author: "Pirsig", Stock: 2, Price: 12.50, ISBN: "111"},
		{ID: "2", Title: "Emma", Author: "austen", Stock: 0, Price: 8.00, ISBN: "222"},
		{ID: "3", Title: "Dune", Author: "Herbert", Stock: 7, Price: 15.00, ISBN: "ABC-1"},
		{ID: "4", Title: "dune messiah", Author: "Herbert", Stock: 1, Price: 9.99, ISBN: "abc-2"},
	}
}

func titles(books []Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestViewSort(t *testing.T) {
	tests := []struct {
		name string
		sort SortSpec
		want []string
	}{
		{
			name: "title ascending ignores case",
			sort: SortSpec{By: "title", Order: Ascending},
			want: []string{"Dune", "dune messiah", "Emma", "zen and the art"},
		},
		{
			name: "title descending",
			sort: SortSpec{By: "title", Order: Descending},
			want: []string{"zen and the art", "Emma", "dune messiah", "Dune"},
		},
		{
			name: "stock ascending",
			sort: SortSpec{By: "stock", Order: Ascending},
			want: []string{"Emma", "dune messiah", "zen and the art", "Dune"},
		},
		{
			name: "price descending",
			sort: SortSpec{By: "price", Order: Descending},
			want: []string{"Dune", "zen and the art", "dune messiah", "Emma"},
		},
		{
			name: "author ties keep insertion order",
			sort: SortSpec{By: "author", Order: Ascending},
			want: []string{"Emma", "Dune", "dune messiah", "zen and the art"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := View{Sort: tt.sort}.Apply(sample())
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestViewFilter(t *testing.T) {
	min := 9.0
	max := 13.0
	tests := []struct {
		name string
		view View
		want []string
	}{
		{
			name: "search matches title case-insensitively",
			view: View{Search: "DUNE"},
			want: []string{"Dune", "dune messiah"},
		},
		{
			name: "search matches author",
			view: View{Search: "austen"},
			want: []string{"Emma"},
		},
		{
			name: "search matches isbn",
			view: View{Search: "abc"},
			want: []string{"Dune", "dune messiah"},
		},
		{
			name: "search trims whitespace",
			view: View{Search: "  emma  "},
			want: []string{"Emma"},
		},
		{
			name: "price bounds are inclusive",
			view: View{MinPrice: &min, MaxPrice: &max},
			want: []string{"zen and the art", "dune messiah"},
		},
		{
			name: "search and price conjoin",
			view: View{Search: "dune", MinPrice: &min},
			want: []string{"Dune", "dune messiah"},
		},
		{
			name: "no match yields empty",
			view: View{Search: "tolstoy"},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := View{Sort: tt.view.Sort, Search: tt.view.Search, MinPrice: tt.view.MinPrice, MaxPrice: tt.view.MaxPrice}.Apply(sample())
			assert.Equal(t, tt.want, titles(got))
		})
	}
}

func TestViewDoesNotMutateInput(t *testing.T) {
	books := sample()
	View{Sort: SortSpec{By: "price", Order: Descending}, Search: "dune"}.Apply(books)
	assert.Equal(t, sample(), books)
}

func TestSortSpecValidate(t *testing.T) {
	assert.NoError(t, SortSpec{By: "title", Order: Ascending}.Validate())
	assert.NoError(t, SortSpec{}.Validate())
	assert.Error(t, SortSpec{By: "publisher"}.Validate())
	assert.Error(t, SortSpec{By: "title", Order: "sideways"}.Validate())
}

func genBook(t *rapid.T) Book {
	return Book{
		ID:     rapid.StringMatching(`[a-z0-9]{4}`).Draw(t, "id"),
		Title:  rapid.StringN(0, 12, 12).Draw(t, "title"),
		Author: rapid.StringN(0, 8, 8).Draw(t, "author"),
		Stock:  rapid.IntRange(0, 100).Draw(t, "stock"),
		Price:  float64(rapid.IntRange(0, 10000).Draw(t, "cents")) / 100,
		ISBN:   rapid.StringMatching(`[0-9]{3,8}`).Draw(t, "isbn"),
	}
}

func TestViewSortProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		books := make([]Book, n)
		for i := range books {
			books[i] = genBook(t)
		}
		by := rapid.SampledFrom([]string{"title", "author", "stock", "price", "isbn"}).Draw(t, "by")
		order := rapid.SampledFrom([]Direction{Ascending, Descending}).Draw(t, "order")
		view := View{Sort: SortSpec{By: by, Order: order}}

		once := view.Apply(books)
		require.Len(t, once, n, "sorting alone never drops entries")

		twice := view.Apply(once)
		require.Equal(t, once, twice, "sorting is idempotent")

		less := fieldLess(by)
		for i := 1; i < len(once); i++ {
			a, b := once[i-1], once[i]
			if order == Descending {
				a, b = b, a
			}
			require.False(t, less(b, a), "output is ordered at %d", i)
		}
	})
}

func TestViewFilterProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(t, "n")
		books := make([]Book, n)
		for i := range books {
			books[i] = genBook(t)
		}
		needle := rapid.StringN(0, 4, 4).Draw(t, "needle")
		view := View{Search: needle}

		got := view.Apply(books)
		require.LessOrEqual(t, len(got), len(books), "filtering never adds entries")

		needleLow := strings.ToLower(strings.TrimSpace(needle))
		for _, b := range got {
			if needleLow == "" {
				continue
			}
			matches := strings.Contains(strings.ToLower(b.Title), needleLow) ||
				strings.Contains(strings.ToLower(b.Author), needleLow) ||
				strings.Contains(strings.ToLower(b.ISBN), needleLow)
			require.True(t, matches, "every kept entry matches the needle")
		}
	})
}
