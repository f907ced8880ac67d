// Package inventory implements the business mutations on the catalog:
// add, edit, sell and delete. Every operation is a two-step sequence, a
// catalog write followed by a history append. The two writes are not
// transactional: a crash between them leaves the catalog changed with no
// audit record. That window is an accepted tradeoff, and history is
// best-effort audit, not a ledger of record.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bookstand/internal/authors"
	"bookstand/internal/catalog"
	"bookstand/internal/history"
	"bookstand/pkg/docstore"
)

// Actor identifies who performed a mutation, denormalized into history
// entries at write time.
type Actor struct {
	Name  string
	Email string
}

// DisplayName is the value recorded in the audit trail.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Email != "" {
		return a.Email
	}
	return "Unknown User"
}

// ValidationError is a pre-flight rejection. It is raised before any
// remote call is attempted and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BookInput carries the caller-supplied fields of an add or edit.
type BookInput struct {
	Title  string
	Author string
	Stock  int
	Price  float64
	ISBN   string
}

func (in *BookInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
}

func (in BookInput) validate() error {
	if in.Title == "" {
		return &ValidationError{Field: "title", Reason: "title is required"}
	}
	if in.Author == "" {
		return &ValidationError{Field: "author", Reason: "author is required"}
	}
	if in.Stock < 0 {
		return &ValidationError{Field: "stock", Reason: "stock must be a non-negative integer"}
	}
	if in.Price < 0 {
		return &ValidationError{Field: "price", Reason: "price must not be negative"}
	}
	if in.ISBN == "" {
		return &ValidationError{Field: "isbn", Reason: "ISBN is required"}
	}
	return nil
}

// Service wires the mutations to the store, the mirror (for uniqueness
// checks against active entries), the audit recorder and the author
// registry.
type Service struct {
	store    docstore.Store
	mirror   *catalog.Mirror
	recorder *history.Recorder
	authors  *authors.Registry

	mutations metric.Int64Counter
}

// NewService creates the mutation service.
func NewService(store docstore.Store, mirror *catalog.Mirror, recorder *history.Recorder, registry *authors.Registry) *Service {
	meter := otel.Meter("bookstand/inventory")
	mutations, _ := meter.Int64Counter("bookstand.mutations",
		metric.WithDescription("Catalog mutations by action and outcome"))
	return &Service{
		store:     store,
		mirror:    mirror,
		recorder:  recorder,
		authors:   registry,
		mutations: mutations,
	}
}

func (s *Service) count(ctx context.Context, action string, err error) {
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("ok", err == nil),
	))
}

// Add validates and creates a catalog entry, registers its author and
// records the addition. Returns the new entry's id. The mirror does not
// reflect the entry until the next subscription snapshot.
func (s *Service) Add(ctx context.Context, actor Actor, in BookInput) (id string, err error) {
	defer func() { s.count(ctx, history.ActionAdded, err) }()

	in.normalize()
	if err := in.validate(); err != nil {
		return "", err
	}
	if dup, ok := s.mirror.FindByISBN(in.ISBN, ""); ok {
		return "", &ValidationError{
			Field:  "isbn",
			Reason: fmt.Sprintf("a book with ISBN %q already exists", dup.ISBN),
		}
	}

	book := catalog.Book{
		Title:  in.Title,
		Author: in.Author,
		Stock:  in.Stock,
		Price:  in.Price,
		ISBN:   in.ISBN,
	}
	id, err = s.store.Create(ctx, catalog.Collection, book.Fields())
	if err != nil {
		return "", fmt.Errorf("create book: %w", err)
	}

	if err := s.authors.Register(ctx, in.Author); err != nil {
		return id, err
	}

	qty := in.Stock
	err = s.recorder.Record(ctx, history.Entry{
		Action:   history.ActionAdded,
		Book:     in.Title,
		Actor:    actor.DisplayName(),
		Quantity: &qty,
		Notes:    "ISBN: " + in.ISBN,
	})
	return id, err
}

// Edit validates and updates an existing entry, diffing against the
// mirrored original for the audit notes. ISBN uniqueness excludes the
// entry itself. There is no version check: concurrent edits resolve
// last-write-wins.
func (s *Service) Edit(ctx context.Context, actor Actor, id string, in BookInput) (err error) {
	defer func() { s.count(ctx, history.ActionEdited, err) }()

	orig, ok := s.mirror.Get(id)
	if !ok {
		return fmt.Errorf("edit book %s: %w", id, docstore.ErrNotFound)
	}

	in.normalize()
	if err := in.validate(); err != nil {
		return err
	}
	if dup, ok := s.mirror.FindByISBN(in.ISBN, id); ok {
		return &ValidationError{
			Field:  "isbn",
			Reason: fmt.Sprintf("a book with ISBN %q already exists", dup.ISBN),
		}
	}

	updated := catalog.Book{
		Title:  in.Title,
		Author: in.Author,
		Stock:  in.Stock,
		Price:  in.Price,
		ISBN:   in.ISBN,
	}
	if err := s.store.Update(ctx, catalog.Collection, id, updated.Fields()); err != nil {
		return fmt.Errorf("update book: %w", err)
	}

	if err := s.authors.Register(ctx, in.Author); err != nil {
		return err
	}

	return s.recorder.Record(ctx, history.Entry{
		Action: history.ActionEdited,
		Book:   orig.Title,
		Actor:  actor.DisplayName(),
		Notes:  diffNotes(orig, updated),
	})
}

// Sell decrements stock by a positive quantity not exceeding the current
// stock, read fresh from the store. The decrement is read-then-write,
// not atomic: two concurrent sellers can lose an update
// (last-write-wins, as with edits).
func (s *Service) Sell(ctx context.Context, actor Actor, id string, quantity int, notes string) (err error) {
	defer func() { s.count(ctx, history.ActionSold, err) }()

	if quantity < 1 {
		return &ValidationError{Field: "quantity", Reason: "quantity must be a positive integer"}
	}

	doc, err := s.store.Get(ctx, catalog.Collection, id)
	if err != nil {
		return fmt.Errorf("read book %s: %w", id, err)
	}
	book := catalog.FromDocument(doc)
	if quantity > book.Stock {
		return &ValidationError{
			Field:  "quantity",
			Reason: fmt.Sprintf("cannot sell %d, only %d in stock", quantity, book.Stock),
		}
	}

	if err := s.store.Update(ctx, catalog.Collection, id, map[string]any{
		"stock": book.Stock - quantity,
	}); err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	qty := quantity
	return s.recorder.Record(ctx, history.Entry{
		Action:   history.ActionSold,
		Book:     book.Title,
		Actor:    actor.DisplayName(),
		Quantity: &qty,
		Notes:    strings.TrimSpace(notes),
	})
}

// Delete removes an entry and records the deletion, keeping only the
// denormalized title since the entry itself is gone.
func (s *Service) Delete(ctx context.Context, actor Actor, id string) (err error) {
	defer func() { s.count(ctx, history.ActionDeleted, err) }()

	title := ""
	if book, ok := s.mirror.Get(id); ok {
		title = book.Title
	} else if doc, err := s.store.Get(ctx, catalog.Collection, id); err == nil {
		title = doc.String("title")
	}

	if err := s.store.Delete(ctx, catalog.Collection, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("delete book %s: %w", id, err)
		}
		return fmt.Errorf("delete book: %w", err)
	}

	return s.recorder.Record(ctx, history.Entry{
		Action: history.ActionDeleted,
		Book:   title,
		Actor:  actor.DisplayName(),
	})
}

// diffNotes renders a field-level diff for the audit trail.
func diffNotes(orig, updated catalog.Book) string {
	var changes []string
	if orig.Title != updated.Title {
		changes = append(changes, fmt.Sprintf("Title: %q -> %q", orig.Title, updated.Title))
	}
	if orig.Author != updated.Author {
		changes = append(changes, fmt.Sprintf("Author: %q -> %q", orig.Author, updated.Author))
	}
	if orig.Stock != updated.Stock {
		changes = append(changes, fmt.Sprintf("Stock: %d -> %d", orig.Stock, updated.Stock))
	}
	if orig.Price != updated.Price {
		changes = append(changes, fmt.Sprintf("Price: %s -> %s", formatPrice(orig.Price), formatPrice(updated.Price)))
	}
	if orig.ISBN != updated.ISBN {
		changes = append(changes, fmt.Sprintf("ISBN: %q -> %q", orig.ISBN, updated.ISBN))
	}
	if len(changes) == 0 {
		return "No changes detected"
	}
	return strings.Join(changes, ", ")
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
