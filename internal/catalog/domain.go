// Package catalog maintains a live local mirror of the remote books
// collection and pure sort/filter views over it.
package catalog

import (
	"strings"

	"bookstand/pkg/docstore"
)

// Collection is the remote collection holding catalog entries.
const Collection = "books"

// Book is a single catalog entry. The remote store owns the record; the
// mirror only ever holds copies delivered by subscription snapshots.
type Book struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
	Stock  int     `json:"stock"`
	Price  float64 `json:"price"`
	ISBN   string  `json:"isbn"`
}

// Fields renders the mutable part of a book as a document body.
func (b Book) Fields() map[string]any {
	return map[string]any{
		"title":  b.Title,
		"author": b.Author,
		"stock":  b.Stock,
		"price":  b.Price,
		"isbn":   b.ISBN,
	}
}

// FromDocument decodes a catalog document.
func FromDocument(d docstore.Document) Book {
	return Book{
		ID:     d.ID,
		Title:  d.String("title"),
		Author: d.String("author"),
		Stock:  d.Int("stock"),
		Price:  d.Float("price"),
		ISBN:   d.String("isbn"),
	}
}

// SameISBN compares ISBNs case-insensitively, the identity used for the
// uniqueness rule among active entries.
func SameISBN(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
