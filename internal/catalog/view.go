package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Direction orders a sorted column.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// SortSpec names a sortable column and its direction. Valid columns are
// title, author, stock, price and isbn.
type SortSpec struct {
	By    string    `json:"by"`
	Order Direction `json:"order"`
}

// Validate rejects unknown columns and directions.
func (s SortSpec) Validate() error {
	switch s.By {
	case "", "title", "author", "stock", "price", "isbn":
	default:
		return fmt.Errorf("unknown sort column %q", s.By)
	}
	switch s.Order {
	case "", Ascending, Descending:
	default:
		return fmt.Errorf("unknown sort direction %q", s.Order)
	}
	return nil
}

// View is pure presentation state: a sort spec, a free-text needle and an
// inclusive price range with nullable bounds. It is owned by the caller
// and applied against mirror snapshots; it never reaches the remote
// store and never mutates the mirror.
type View struct {
	Sort     SortSpec
	Search   string
	MinPrice *float64
	MaxPrice *float64
}

// Apply sorts and then filters a snapshot, returning a new slice. The
// sort is stable (ties keep their relative order) and idempotent;
// strings compare case-insensitively, numbers natively. Filtering is the
// conjunction of the substring match over title/author/isbn and the
// price range.
func (v View) Apply(books []Book) []Book {
	out := append([]Book(nil), books...)
	if v.Sort.By != "" {
		less := fieldLess(v.Sort.By)
		sort.SliceStable(out, func(i, j int) bool {
			if v.Sort.Order == Descending {
				return less(out[j], out[i])
			}
			return less(out[i], out[j])
		})
	}
	return v.filter(out)
}

func (v View) filter(books []Book) []Book {
	needle := strings.ToLower(strings.TrimSpace(v.Search))
	out := books[:0]
	for _, b := range books {
		if needle != "" &&
			!strings.Contains(strings.ToLower(b.Title), needle) &&
			!strings.Contains(strings.ToLower(b.Author), needle) &&
			!strings.Contains(strings.ToLower(b.ISBN), needle) {
			continue
		}
		if v.MinPrice != nil && b.Price < *v.MinPrice {
			continue
		}
		if v.MaxPrice != nil && b.Price > *v.MaxPrice {
			continue
		}
		out = append(out, b)
	}
	return out
}

func fieldLess(by string) func(a, b Book) bool {
	switch by {
	case "author":
		return func(a, b Book) bool {
			return strings.ToLower(a.Author) < strings.ToLower(b.Author)
		}
	case "stock":
		return func(a, b Book) bool { return a.Stock < b.Stock }
	case "price":
		return func(a, b Book) bool { return a.Price < b.Price }
	case "isbn":
		return func(a, b Book) bool {
			return strings.ToLower(a.ISBN) < strings.ToLower(b.ISBN)
		}
	default:
		return func(a, b Book) bool {
			return strings.ToLower(a.Title) < strings.ToLower(b.Title)
		}
	}
}
