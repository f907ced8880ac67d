package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const notifyChannel = "bookstand_docs"

// Postgres implements Store on a single JSONB documents table. Change
// notifications ride LISTEN/NOTIFY: every committed write notifies the
// collection name, and the listener re-queries each affected
// subscription and fans out the fresh snapshot. Writes go through a
// circuit breaker; an open breaker surfaces as ErrUnavailable.
type Postgres struct {
	db      *sqlx.DB
	tracer  trace.Tracer
	breaker *gobreaker.CircuitBreaker

	listener *pq.Listener
	done     chan struct{}

	mu      sync.Mutex
	subs    map[int]*pgSub
	nextSub int

	deliverMu sync.Mutex
}

type pgSub struct {
	collection string
	query      Query
	fn         SnapshotFunc
}

// NewPostgres wraps an open connection pool. The dsn is used for the
// dedicated LISTEN connection. Callers own db and should call Close on
// the returned store before closing it.
func NewPostgres(db *sqlx.DB, dsn string) *Postgres {
	p := &Postgres{
		db:     db,
		tracer: otel.Tracer("bookstand/docstore"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "docstore-writes",
			// A missing document is an answer, not a backend failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
		done: make(chan struct{}),
		subs: make(map[int]*pgSub),
	}
	p.listener = pq.NewListener(dsn, time.Second, 30*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("docstore: listener event %v: %v", ev, err)
		}
	})
	if err := p.listener.Listen(notifyChannel); err != nil {
		log.Printf("docstore: listen %s: %v", notifyChannel, err)
	}
	go p.listenLoop()
	return p
}

// Migrate creates the documents table and its pagination index.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id UUID NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS documents_pagination_idx
			ON documents (collection, created_at, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate documents table: %w", err)
	}
	return nil
}

// Close stops snapshot delivery and releases the LISTEN connection.
func (p *Postgres) Close() error {
	close(p.done)
	return p.listener.Close()
}

func (p *Postgres) listenLoop() {
	for {
		select {
		case <-p.done:
			return
		case n := <-p.listener.Notify:
			if n == nil {
				// Connection re-established; notifications may have
				// been lost, resync every subscription.
				p.refresh("")
				continue
			}
			p.refresh(n.Extra)
		case <-time.After(90 * time.Second):
			go p.listener.Ping()
		}
	}
}

// refresh re-evaluates subscriptions for a collection ("" means all) and
// delivers snapshots in notification order.
func (p *Postgres) refresh(collection string) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	var pending []*pgSub
	for _, sub := range p.subs {
		if collection == "" || sub.collection == collection {
			pending = append(pending, sub)
		}
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, sub := range pending {
		res, err := p.Query(ctx, sub.collection, sub.query)
		if err != nil {
			log.Printf("docstore: refresh %s: %v", sub.collection, err)
			continue
		}
		sub.fn(res.Documents)
	}
}

func (p *Postgres) Subscribe(ctx context.Context, collection string, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	res, err := p.Query(ctx, collection, q)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = &pgSub{collection: collection, query: q, fn: fn}
	p.mu.Unlock()

	p.deliverMu.Lock()
	fn(res.Documents)
	p.deliverMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}, nil
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (Document, error) {
	ctx, span := p.tracer.Start(ctx, "docstore.get",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	var row struct {
		ID        string    `db:"id"`
		Body      []byte    `db:"body"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := p.db.GetContext(ctx, &row, `
		SELECT id, body, created_at FROM documents
		WHERE collection = $1 AND id = $2
	`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return rowToDocument(row.ID, row.Body, row.CreatedAt)
}

func (p *Postgres) Query(ctx context.Context, collection string, q Query) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "docstore.query",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.Bool("descending", q.Descending),
			attribute.Int("limit", q.Limit),
		))
	defer span.End()

	query := `SELECT id, body, created_at FROM documents WHERE collection = $1`
	args := []any{collection}

	if !q.CreatedAtMax.IsZero() {
		args = append(args, q.CreatedAtMax)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if q.StartAfter != "" {
		pos, err := decodeCursor(q.StartAfter)
		if err != nil {
			return Result{}, err
		}
		args = append(args, pos.CreatedAt, pos.ID)
		op := ">"
		if q.Descending {
			op = "<"
		}
		query += fmt.Sprintf(" AND (created_at, id) %s ($%d, $%d)", op, len(args)-1, len(args))
	}
	if q.Descending {
		query += " ORDER BY created_at DESC, id DESC"
	} else {
		query += " ORDER BY created_at ASC, id ASC"
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id        string
			body      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &body, &createdAt); err != nil {
			return Result{}, fmt.Errorf("scan document: %w", err)
		}
		doc, err := rowToDocument(id, body, createdAt)
		if err != nil {
			return Result{}, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate documents: %w", err)
	}

	span.SetAttributes(attribute.Int("documents.returned", len(docs)))
	res := Result{Documents: docs}
	if len(docs) > 0 {
		res.NextCursor = encodeCursor(docs[len(docs)-1])
	}
	return res, nil
}

func (p *Postgres) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ctx, span := p.tracer.Start(ctx, "docstore.create",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	id := uuid.NewString()

	err = p.write(ctx, collection, func(tx *sqlx.Tx) error {
		// GREATEST against the newest existing row keeps creation
		// timestamps non-decreasing in insertion order even when the
		// clock steps backwards.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (collection, id, body, created_at)
			SELECT $1, $2, $3, GREATEST(
				clock_timestamp(),
				COALESCE((SELECT MAX(created_at) FROM documents WHERE collection = $1), 'epoch'::timestamptz)
			)
		`, collection, id, body)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	ctx, span := p.tracer.Start(ctx, "docstore.update",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	return p.write(ctx, collection, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET body = body || $3::jsonb
			WHERE collection = $1 AND id = $2
		`, collection, id, patch)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	ctx, span := p.tracer.Start(ctx, "docstore.delete",
		trace.WithAttributes(attribute.String("collection", collection)))
	defer span.End()

	return p.write(ctx, collection, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE collection = $1 AND id = $2
		`, collection, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (p *Postgres) BatchDelete(ctx context.Context, collection string, ids []string) error {
	ctx, span := p.tracer.Start(ctx, "docstore.batch_delete",
		trace.WithAttributes(
			attribute.String("collection", collection),
			attribute.Int("batch.size", len(ids)),
		))
	defer span.End()

	return p.write(ctx, collection, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM documents WHERE collection = $1 AND id = ANY($2)
		`, collection, pq.Array(ids))
		return err
	})
}

// write runs fn in a transaction behind the breaker and notifies the
// collection channel on commit.
func (p *Postgres) write(ctx context.Context, collection string, fn func(tx *sqlx.Tx) error) error {
	_, err := p.breaker.Execute(func() (any, error) {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, collection); err != nil {
			return nil, fmt.Errorf("notify: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func rowToDocument(id string, body []byte, createdAt time.Time) (Document, error) {
	fields := make(map[string]any)
	if err := json.Unmarshal(body, &fields); err != nil {
		return Document{}, fmt.Errorf("unmarshal document %s: %w", id, err)
	}
	return Document{ID: id, CreatedAt: createdAt, Fields: fields}, nil
}
