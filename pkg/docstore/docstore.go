// Package docstore abstracts a document-oriented remote database: named
// collections of schemaless documents with server-assigned identifiers and
// creation timestamps, standing snapshot subscriptions, cursor-based
// queries and atomic batch deletes.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Document is a single record in a collection. Fields holds the document
// body; ID and CreatedAt are assigned by the store on creation and never
// change afterwards. CreatedAt is monotonically non-decreasing in
// insertion order within a collection.
type Document struct {
	ID        string         `json:"id" db:"id"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	Fields    map[string]any `json:"fields" db:"body"`
}

// String returns the string value of a field, or "" when absent or not a
// string.
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Float returns the numeric value of a field. JSON decoding yields
// float64 for all numbers; integer values stored directly are widened.
func (d Document) Float(key string) float64 {
	switch v := d.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns the integer value of a field.
func (d Document) Int(key string) int {
	return int(d.Float(key))
}

// Query selects an ordered slice of a collection. The zero value matches
// the whole collection in ascending creation order.
type Query struct {
	// Descending orders by creation time descending (newest first).
	Descending bool
	// CreatedAtMax, when non-zero, keeps only documents created at or
	// before the given instant.
	CreatedAtMax time.Time
	// Limit caps the number of returned documents; zero means no cap.
	Limit int
	// StartAfter resumes strictly after a previously returned cursor.
	StartAfter Cursor
}

// Result is one page of a query.
type Result struct {
	Documents []Document
	// NextCursor marks the last returned document; empty when the page
	// was empty.
	NextCursor Cursor
}

// Cursor is an opaque pagination marker. Cursors are keyset-based: they
// identify a position by (creation time, id), so concurrent inserts never
// shift pages that were already fetched.
type Cursor string

// CursorFor returns the cursor marking a document's position, the same
// marker Query returns as NextCursor for a page ending at it.
func CursorFor(d Document) Cursor {
	return encodeCursor(d)
}

type cursorData struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
}

func encodeCursor(d Document) Cursor {
	raw, err := json.Marshal(cursorData{CreatedAt: d.CreatedAt, ID: d.ID})
	if err != nil {
		return ""
	}
	return Cursor(base64.URLEncoding.EncodeToString(raw))
}

func decodeCursor(c Cursor) (cursorData, error) {
	if c == "" {
		return cursorData{}, nil
	}
	raw, err := base64.URLEncoding.DecodeString(string(c))
	if err != nil {
		return cursorData{}, fmt.Errorf("decode cursor: %w", err)
	}
	var data cursorData
	if err := json.Unmarshal(raw, &data); err != nil {
		return cursorData{}, fmt.Errorf("decode cursor: %w", err)
	}
	return data, nil
}

// Unsubscribe releases a standing subscription. Calling it more than once
// is harmless.
type Unsubscribe func()

// SnapshotFunc receives the full current result of the subscribed query,
// not a diff. It is invoked once immediately on subscription and again
// after every change to the collection. Callbacks must not write back
// into the store; they run on the store's delivery path.
type SnapshotFunc func(docs []Document)

// Store is the remote database boundary. All operations are safe for
// concurrent use. Writes report success or failure, but observing the
// effect of a write goes through subscriptions: a resolved write does not
// imply subscribers have been notified yet.
type Store interface {
	// Subscribe establishes a standing subscription on a collection,
	// scoped by the query. The callback fires with the complete current
	// snapshot on every change until unsubscribed.
	Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Unsubscribe, error)

	// Get reads a single document. Returns ErrNotFound when absent.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Query returns one ordered page of a collection.
	Query(ctx context.Context, collection string, q Query) (Result, error)

	// Create inserts a new document and returns its assigned id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Update merges partial fields into an existing document. Returns
	// ErrNotFound when the document is gone.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document. Returns ErrNotFound when absent.
	Delete(ctx context.Context, collection, id string) error

	// BatchDelete removes the given documents atomically: either every
	// existing listed document is deleted, or none are.
	BatchDelete(ctx context.Context, collection string, ids []string) error
}
