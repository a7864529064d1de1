// Package memstore is an in-process docstore.Store used by tests and by
// STORE_DRIVER=memory. Writes notify subscribers synchronously.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rxoptima/rxoptima/internal/docstore"
)

// Store keeps collections in memory.
type Store struct {
	mu            sync.Mutex
	collections   map[string]*collection
	subs          map[string][]*subscription
	nextSub       uint64
	failCommit    error
	failSubscribe error

	notifyMu sync.Mutex
}

type collection struct {
	order []string
	docs  map[string]json.RawMessage
}

type subscription struct {
	id         uint64
	path       string
	onSnapshot docstore.SnapshotFunc
	onError    docstore.ErrorFunc
	active     bool
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		subs:        make(map[string][]*subscription),
	}
}

// FailNextCommit makes the next write (batch or single document) fail with err.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// FailNextSubscribe makes the next Subscribe report err instead of a snapshot.
// The subscription stays registered and receives later changes.
func (s *Store) FailNextSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubscribe = err
}

// EmitError reports err to every subscriber of ref.
func (s *Store) EmitError(ref docstore.CollectionRef, err error) {
	s.mu.Lock()
	subs := append([]*subscription(nil), s.subs[ref.Path()]...)
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, sub := range subs {
		if s.isActive(sub) && sub.onError != nil {
			sub.onError(err)
		}
	}
}

// Get returns a stored document.
func (s *Store) Get(ref docstore.DocRef) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[ref.Collection.Path()]
	if !ok {
		return nil, false
	}
	data, ok := col.docs[ref.ID]
	return data, ok
}

// Count returns the number of documents in ref.
func (s *Store) Count(ref docstore.CollectionRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[ref.Path()]
	if !ok {
		return 0
	}
	return len(col.order)
}

// Subscribers returns the number of active subscriptions on ref.
func (s *Store) Subscribers(ref docstore.CollectionRef) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[ref.Path()])
}

// NewID returns a random document id.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(_ context.Context, ref docstore.CollectionRef, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, errors.New("memstore: snapshot callback required")
	}
	path := ref.Path()

	s.mu.Lock()
	s.nextSub++
	sub := &subscription{id: s.nextSub, path: path, onSnapshot: onSnapshot, onError: onError, active: true}
	s.subs[path] = append(s.subs[path], sub)
	failErr := s.failSubscribe
	s.failSubscribe = nil
	snapshot := s.snapshotLocked(path)
	s.mu.Unlock()

	s.notifyMu.Lock()
	if failErr != nil {
		if onError != nil {
			onError(failErr)
		}
	} else {
		onSnapshot(snapshot)
	}
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !sub.active {
			return
		}
		sub.active = false
		list := s.subs[path]
		for i, candidate := range list {
			if candidate.id == sub.id {
				s.subs[path] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}, nil
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

func (s *Store) snapshotLocked(path string) []docstore.Document {
	col, ok := s.collections[path]
	if !ok {
		return []docstore.Document{}
	}
	out := make([]docstore.Document, 0, len(col.order))
	for _, id := range col.order {
		data := col.docs[id]
		out = append(out, docstore.Document{ID: id, Data: append(json.RawMessage(nil), data...)})
	}
	return out
}

func (s *Store) isActive(sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sub.active
}

func (s *Store) notify(paths []string) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, path := range paths {
		s.mu.Lock()
		subs := append([]*subscription(nil), s.subs[path]...)
		snapshot := s.snapshotLocked(path)
		s.mu.Unlock()
		for _, sub := range subs {
			if s.isActive(sub) {
				sub.onSnapshot(snapshot)
			}
		}
	}
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
	b.ops = append(b.ops, op{kind: opSet, ref: ref, data: append(json.RawMessage(nil), data...)})
}

func (b *batch) Update(ref docstore.DocRef, fields map[string]any) {
	b.ops = append(b.ops, op{kind: opUpdate, ref: ref, fields: fields})
}

func (b *batch) Require(ref docstore.DocRef, field string, expected any) {
	b.ops = append(b.ops, op{kind: opRequire, ref: ref, field: field, expected: expected})
}

// Commit validates every operation against a staged copy and applies the
// result only when all of them succeed.
func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return docstore.ErrBatchCommitted
	}
	b.committed = true
	if err := ctx.Err(); err != nil {
		return err
	}

	s := b.store
	s.mu.Lock()
	if err := s.failCommit; err != nil {
		s.failCommit = nil
		s.mu.Unlock()
		return err
	}

	staged := map[string]map[string]json.RawMessage{}
	deleted := map[string]map[string]bool{}
	lookup := func(ref docstore.DocRef) (json.RawMessage, bool) {
		path := ref.Collection.Path()
		if deleted[path][ref.ID] {
			return nil, false
		}
		if docs, ok := staged[path]; ok {
			if data, ok := docs[ref.ID]; ok {
				return data, true
			}
		}
		if col, ok := s.collections[path]; ok {
			data, ok := col.docs[ref.ID]
			return data, ok
		}
		return nil, false
	}
	stage := func(ref docstore.DocRef, data json.RawMessage) {
		path := ref.Collection.Path()
		if staged[path] == nil {
			staged[path] = map[string]json.RawMessage{}
		}
		staged[path][ref.ID] = data
		if deleted[path] != nil {
			delete(deleted[path], ref.ID)
		}
	}

	var touched []string
	seen := map[string]bool{}
	for _, o := range b.ops {
		if err := o.ref.Collection.Validate(); err != nil || o.ref.ID == "" {
			s.mu.Unlock()
			return fmt.Errorf("memstore: invalid ref %q: %w", o.ref.Path(), docstore.ErrInvalidScope)
		}
		path := o.ref.Collection.Path()
		switch o.kind {
		case opSet:
			stage(o.ref, o.data)
		case opUpdate:
			current, ok := lookup(o.ref)
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("memstore: update %s: %w", o.ref.Path(), docstore.ErrDocumentNotFound)
			}
			merged, err := docstore.MergeFields(current, o.fields)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			stage(o.ref, merged)
		case opRequire:
			current, ok := lookup(o.ref)
			if !ok {
				s.mu.Unlock()
				return fmt.Errorf("memstore: require %s: %w", o.ref.Path(), docstore.ErrDocumentNotFound)
			}
			equal, err := docstore.FieldEquals(current, o.field, o.expected)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			if !equal {
				s.mu.Unlock()
				return fmt.Errorf("memstore: %s.%s changed: %w", o.ref.Path(), o.field, docstore.ErrPrecondition)
			}
			continue
		case opDelete:
			if deleted[path] == nil {
				deleted[path] = map[string]bool{}
			}
			deleted[path][o.ref.ID] = true
			if staged[path] != nil {
				delete(staged[path], o.ref.ID)
			}
		}
		if !seen[path] {
			seen[path] = true
			touched = append(touched, path)
		}
	}

	for path, docs := range staged {
		col := s.collections[path]
		if col == nil {
			col = &collection{docs: map[string]json.RawMessage{}}
			s.collections[path] = col
		}
		for id, data := range docs {
			if _, exists := col.docs[id]; !exists {
				col.order = append(col.order, id)
			}
			col.docs[id] = data
		}
	}
	for path, ids := range deleted {
		col := s.collections[path]
		if col == nil {
			continue
		}
		for id := range ids {
			if _, exists := col.docs[id]; !exists {
				continue
			}
			delete(col.docs, id)
			for i, candidate := range col.order {
				if candidate == id {
					col.order = append(col.order[:i], col.order[i+1:]...)
					break
				}
			}
		}
	}
	s.mu.Unlock()

	s.notify(touched)
	return nil
}
