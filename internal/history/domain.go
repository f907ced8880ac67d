// Package history keeps the append-only audit trail: a live first page,
// cursor-based lazy loading of older pages, and the retention sweep.
package history

import (
	"context"
	"fmt"
	"time"

	"bookstand/pkg/docstore"
)

// Collection is the remote collection holding audit entries.
const Collection = "history"

// Actions recorded in the trail.
const (
	ActionAdded   = "Added Book"
	ActionEdited  = "Edited Book"
	ActionSold    = "Sold Book"
	ActionDeleted = "Deleted Book"
)

// Entry is one audit record. Book and Actor are snapshots taken at write
// time, so an entry stays readable after the book it describes is edited
// or deleted. Entries are never updated; they only leave the store
// through the retention sweep.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Book      string    `json:"book"`
	Actor     string    `json:"actor"`
	Quantity  *int      `json:"quantity,omitempty"`
	Notes     string    `json:"notes"`
	Timestamp time.Time `json:"timestamp"`
}

// FromDocument decodes an audit document.
func FromDocument(d docstore.Document) Entry {
	e := Entry{
		ID:        d.ID,
		Action:    d.String("action"),
		Book:      d.String("book"),
		Actor:     d.String("actor"),
		Notes:     d.String("notes"),
		Timestamp: d.CreatedAt,
	}
	if _, ok := d.Fields["quantity"]; ok {
		q := d.Int("quantity")
		e.Quantity = &q
	}
	return e
}

// Recorder appends entries to the trail. The timestamp is assigned by
// the store on insert, not taken from the entry.
type Recorder struct {
	store docstore.Store
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(store docstore.Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	fields := map[string]any{
		"action": e.Action,
		"book":   e.Book,
		"actor":  e.Actor,
		"notes":  e.Notes,
	}
	if e.Quantity != nil {
		fields["quantity"] = *e.Quantity
	}
	if _, err := r.store.Create(ctx, Collection, fields); err != nil {
		return fmt.Errorf("record history entry: %w", err)
	}
	return nil
}
