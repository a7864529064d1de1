// Package pgstore persists documents as JSONB rows in PostgreSQL and drives
// live queries from a Redis change feed.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/platform/db"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		namespace TEXT NOT NULL,
		identity TEXT NOT NULL,
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		seq BIGSERIAL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (namespace, identity, collection, id)
	)`,
	`CREATE INDEX IF NOT EXISTS documents_collection_seq_idx ON documents (namespace, identity, collection, seq)`,
}

// Store implements docstore.Store on a pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	feed   *ChangeFeed
	logger *slog.Logger
}

var _ docstore.Store = (*Store)(nil)

// New constructs a Store. feed must be started by the caller when backed by Redis.
func New(pool *pgxpool.Pool, feed *ChangeFeed, logger *slog.Logger) *Store {
	if feed == nil {
		feed = NewChangeFeed(nil, "", logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, feed: feed, logger: logger}
}

// EnsureSchema creates the documents table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore: ensure schema: %w", err)
		}
	}
	return nil
}

// NewID returns a random document id.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// Subscribe loads the collection now and again after every change signal.
func (s *Store) Subscribe(ctx context.Context, ref docstore.CollectionRef, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, errors.New("pgstore: snapshot callback required")
	}
	subCtx, cancel := context.WithCancel(ctx)
	changes, stopListening := s.feed.Listen(ref.Path())
	var stopped atomic.Bool

	emit := func() {
		docs, err := s.load(subCtx, ref)
		if stopped.Load() {
			return
		}
		if err != nil {
			if subCtx.Err() != nil {
				return
			}
			s.logger.Warn("pgstore: load snapshot", slog.String("collection", ref.Path()), slog.Any("error", err))
			if onError != nil {
				onError(err)
			}
			return
		}
		onSnapshot(docs)
	}

	go func() {
		defer stopListening()
		emit()
		for {
			select {
			case <-subCtx.Done():
				return
			case <-changes:
				emit()
			}
		}
	}()

	return func() {
		if stopped.CompareAndSwap(false, true) {
			cancel()
		}
	}, nil
}

func (s *Store) load(ctx context.Context, ref docstore.CollectionRef) ([]docstore.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, data FROM documents WHERE namespace = $1 AND identity = $2 AND collection = $3 ORDER BY seq`,
		ref.Scope.Namespace, ref.Scope.Identity, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query %s: %w", ref.Path(), err)
	}
	defer rows.Close()
	docs := []docstore.Document{}
	for rows.Next() {
		var doc docstore.Document
		var data []byte
		if err := rows.Scan(&doc.ID, &data); err != nil {
			return nil, fmt.Errorf("pgstore: scan %s: %w", ref.Path(), err)
		}
		doc.Data = json.RawMessage(data)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: rows %s: %w", ref.Path(), err)
	}
	return docs, nil
}

// Insert implements docstore.Store.
func (s *Store) Insert(ctx context.Context, ref docstore.CollectionRef, data json.RawMessage) (string, error) {
	id := s.NewID()
	b := s.NewBatch()
	b.Set(ref.Doc(id), data)
	if err := b.Commit(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// Replace implements docstore.Store.
func (s *Store) Replace(ctx context.Context, ref docstore.DocRef, data json.RawMessage) error {
	b := s.NewBatch()
	b.Set(ref, data)
	return b.Commit(ctx)
}

// Patch implements docstore.Store.
func (s *Store) Patch(ctx context.Context, ref docstore.DocRef, fields map[string]any) error {
	b := s.NewBatch()
	b.Update(ref, fields)
	return b.Commit(ctx)
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, ref docstore.DocRef) error {
	b := &batch{store: s}
	b.ops = append(b.ops, op{kind: opDelete, ref: ref})
	return b.Commit(ctx)
}

// NewBatch implements docstore.Store.
func (s *Store) NewBatch() docstore.Batch {
	return &batch{store: s}
}

type opKind int

const (
	opSet opKind = iota
	opUpdate
	opRequire
	opDelete
)

type op struct {
	kind     opKind
	ref      docstore.DocRef
	data     json.RawMessage
	fields   map[string]any
	field    string
	expected any
}

type batch struct {
	store     *Store
	ops       []op
	committed bool
}

func (b *batch) Set(ref docstore.DocRef, data json.RawMessage) {
	b.ops = append(b.ops, op{kind: opSet, ref: ref, data: data})
}

func (b *batch) Update(ref docstore.DocRef, fields map[string]any) {
	b.ops = append(b.ops, op{kind: opUpdate, ref: ref, fields: fields})
}

func (b *batch) Require(ref docstore.DocRef, field string, expected any) {
	b.ops = append(b.ops, op{kind: opRequire, ref: ref, field: field, expected: expected})
}

// Commit runs every operation in one repeatable-read transaction.
func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return docstore.ErrBatchCommitted
	}
	b.committed = true

	var touched []string
	seen := map[string]bool{}
	err := db.WithTx(ctx, b.store.pool, func(tx pgx.Tx) error {
		for _, o := range b.ops {
			if err := o.ref.Collection.Validate(); err != nil || o.ref.ID == "" {
				return fmt.Errorf("pgstore: invalid ref %q: %w", o.ref.Path(), docstore.ErrInvalidScope)
			}
			if err := applyOp(ctx, tx, o); err != nil {
				return err
			}
			if path := o.ref.Collection.Path(); o.kind != opRequire && !seen[path] {
				seen[path] = true
				touched = append(touched, path)
			}
		}
		return nil
	})
	if err != nil {
		return translateError(err)
	}
	if err := b.store.feed.Publish(context.WithoutCancel(ctx), touched...); err != nil {
		b.store.logger.Warn("pgstore: publish change", slog.Any("paths", touched), slog.Any("error", err))
	}
	return nil
}

func applyOp(ctx context.Context, tx pgx.Tx, o op) error {
	scope := o.ref.Collection.Scope
	args := []any{scope.Namespace, scope.Identity, o.ref.Collection.Name, o.ref.ID}
	switch o.kind {
	case opSet:
		_, err := tx.Exec(ctx, `INSERT INTO documents (namespace, identity, collection, id, data) VALUES ($1, $2, $3, $4, $5::jsonb)
			ON CONFLICT (namespace, identity, collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
			append(args, string(o.data))...)
		return err
	case opUpdate:
		patch, err := json.Marshal(o.fields)
		if err != nil {
			return fmt.Errorf("pgstore: encode patch: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE documents SET data = data || $5::jsonb, updated_at = NOW()
			WHERE namespace = $1 AND identity = $2 AND collection = $3 AND id = $4`, append(args, string(patch))...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("pgstore: update %s: %w", o.ref.Path(), docstore.ErrDocumentNotFound)
		}
		return nil
	case opRequire:
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT COALESCE(data -> $5::text, 'null'::jsonb) FROM documents
			WHERE namespace = $1 AND identity = $2 AND collection = $3 AND id = $4 FOR UPDATE`, append(args, o.field)...).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("pgstore: require %s: %w", o.ref.Path(), docstore.ErrDocumentNotFound)
		}
		if err != nil {
			return err
		}
		equal, err := docstore.RawEquals(raw, o.expected)
		if err != nil {
			return err
		}
		if !equal {
			return fmt.Errorf("pgstore: %s.%s changed: %w", o.ref.Path(), o.field, docstore.ErrPrecondition)
		}
		return nil
	case opDelete:
		_, err := tx.Exec(ctx, `DELETE FROM documents WHERE namespace = $1 AND identity = $2 AND collection = $3 AND id = $4`, args...)
		return err
	}
	return fmt.Errorf("pgstore: unknown op %d", o.kind)
}

func translateError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("pgstore: %s: %w", pgErr.Message, docstore.ErrConflict)
		}
	}
	return err
}
