package docstore

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGet         Op = "get"
	OpQuery       Op = "query"
	OpCreate      Op = "create"
	OpUpdate      Op = "update"
	OpDelete      Op = "delete"
	OpBatchDelete Op = "batch_delete"
)

// Memory is an in-process Store with the same semantics as the Postgres
// implementation. Snapshot delivery is synchronous: by the time a write
// returns, every subscriber has observed it. Failure injection lets tests
// drive the remote-error paths without a real backend.
type Memory struct {
	mu       sync.Mutex
	docs     map[string][]Document // collection -> insertion order
	lastTS   time.Time
	subs     map[int]*memorySub
	nextSub  int
	failures map[Op]error

	// deliverMu serializes snapshot fan-out so subscribers observe
	// changes in commit order.
	deliverMu sync.Mutex
}

type memorySub struct {
	collection string
	query      Query
	fn         SnapshotFunc
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs:     make(map[string][]Document),
		subs:     make(map[int]*memorySub),
		failures: make(map[Op]error),
	}
}

// InjectFailure makes every subsequent call of the given operation fail
// with err until ClearFailures is called.
func (m *Memory) InjectFailure(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// ClearFailures removes all injected failures.
func (m *Memory) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = make(map[Op]error)
}

func (m *Memory) failure(op Op) error {
	return m.failures[op]
}

// serverNow hands out timestamps that never go backwards, even when the
// wall clock resolution cannot separate two inserts.
func (m *Memory) serverNow() time.Time {
	now := time.Now().UTC()
	if !now.After(m.lastTS) {
		now = m.lastTS.Add(time.Microsecond)
	}
	m.lastTS = now
	return now
}

func (m *Memory) Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &memorySub{collection: collection, query: q, fn: fn}
	initial := m.evaluate(collection, q)
	m.mu.Unlock()

	m.deliverMu.Lock()
	fn(initial)
	m.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpGet); err != nil {
		return Document{}, err
	}
	for _, d := range m.docs[collection] {
		if d.ID == id {
			return cloneDoc(d), nil
		}
	}
	return Document{}, ErrNotFound
}

func (m *Memory) Query(ctx context.Context, collection string, q Query) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpQuery); err != nil {
		return Result{}, err
	}
	docs := m.evaluate(collection, q)
	res := Result{Documents: docs}
	if len(docs) > 0 {
		res.NextCursor = encodeCursor(docs[len(docs)-1])
	}
	return res, nil
}

func (m *Memory) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	m.mu.Lock()
	if err := m.failure(OpCreate); err != nil {
		m.mu.Unlock()
		return "", err
	}
	doc := Document{
		ID:        uuid.NewString(),
		CreatedAt: m.serverNow(),
		Fields:    maps.Clone(fields),
	}
	m.docs[collection] = append(m.docs[collection], doc)
	m.mu.Unlock()

	m.notify(collection)
	return doc.ID, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	if err := m.failure(OpUpdate); err != nil {
		m.mu.Unlock()
		return err
	}
	updated := false
	for i, d := range m.docs[collection] {
		if d.ID == id {
			merged := maps.Clone(d.Fields)
			maps.Copy(merged, fields)
			m.docs[collection][i].Fields = merged
			updated = true
			break
		}
	}
	m.mu.Unlock()

	if !updated {
		return ErrNotFound
	}
	m.notify(collection)
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	if err := m.failure(OpDelete); err != nil {
		m.mu.Unlock()
		return err
	}
	deleted := false
	docs := m.docs[collection]
	for i, d := range docs {
		if d.ID == id {
			m.docs[collection] = append(docs[:i:i], docs[i+1:]...)
			deleted = true
			break
		}
	}
	m.mu.Unlock()

	if !deleted {
		return ErrNotFound
	}
	m.notify(collection)
	return nil
}

func (m *Memory) BatchDelete(ctx context.Context, collection string, ids []string) error {
	m.mu.Lock()
	if err := m.failure(OpBatchDelete); err != nil {
		m.mu.Unlock()
		return err
	}
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
	}
	kept := m.docs[collection][:0:0]
	for _, d := range m.docs[collection] {
		if !doomed[d.ID] {
			kept = append(kept, d)
		}
	}
	m.docs[collection] = kept
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// notify re-evaluates every subscription on the collection and delivers
// fresh snapshots, outside the state lock but serialized in commit order.
func (m *Memory) notify(collection string) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	type delivery struct {
		fn   SnapshotFunc
		docs []Document
	}
	var pending []delivery
	for _, sub := range m.subs {
		if sub.collection == collection {
			pending = append(pending, delivery{sub.fn, m.evaluate(collection, sub.query)})
		}
	}
	m.mu.Unlock()

	for _, d := range pending {
		d.fn(d.docs)
	}
}

// evaluate runs a query against current state. Caller holds mu.
func (m *Memory) evaluate(collection string, q Query) []Document {
	var out []Document
	for _, d := range m.docs[collection] {
		if !q.CreatedAtMax.IsZero() && d.CreatedAt.After(q.CreatedAtMax) {
			continue
		}
		out = append(out, cloneDoc(d))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if q.Descending {
				return out[i].ID > out[j].ID
			}
			return out[i].ID < out[j].ID
		}
		if q.Descending {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.StartAfter != "" {
		if pos, err := decodeCursor(q.StartAfter); err == nil {
			cut := 0
			for i, d := range out {
				if afterCursor(d, pos, q.Descending) {
					cut = i
					break
				}
				cut = i + 1
			}
			out = out[cut:]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// afterCursor reports whether d sorts strictly after the cursor position
// in the query's order.
func afterCursor(d Document, pos cursorData, descending bool) bool {
	if d.CreatedAt.Equal(pos.CreatedAt) {
		if descending {
			return d.ID < pos.ID
		}
		return d.ID > pos.ID
	}
	if descending {
		return d.CreatedAt.Before(pos.CreatedAt)
	}
	return d.CreatedAt.After(pos.CreatedAt)
}

func cloneDoc(d Document) Document {
	d.Fields = maps.Clone(d.Fields)
	return d
}
