// Package docstore defines the per-identity document store contract used by
// every pharmacy collection, plus typed helpers on top of it.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrDocumentNotFound is returned when an update targets a missing document.
	ErrDocumentNotFound = errors.New("docstore: document not found")
	// ErrPrecondition is returned when a batch precondition no longer holds.
	ErrPrecondition = errors.New("docstore: precondition failed")
	// ErrConflict is returned when a concurrent writer invalidated a batch.
	ErrConflict = errors.New("docstore: concurrent modification")
	// ErrBatchCommitted is returned when a batch is reused after Commit.
	ErrBatchCommitted = errors.New("docstore: batch already committed")
	// ErrInvalidScope is returned for refs without namespace or identity.
	ErrInvalidScope = errors.New("docstore: scope requires namespace and identity")
)

// Scope partitions data by application namespace and identity.
type Scope struct {
	Namespace string
	Identity  string
}

// Valid reports whether both parts are present.
func (s Scope) Valid() bool {
	return s.Namespace != "" && s.Identity != ""
}

// Collection returns a reference to the named collection within the scope.
func (s Scope) Collection(name string) CollectionRef {
	return CollectionRef{Scope: s, Name: name}
}

// CollectionRef addresses one collection.
type CollectionRef struct {
	Scope Scope
	Name  string
}

// Path renders <namespace>/users/<identity>/<name>.
func (c CollectionRef) Path() string {
	return strings.Join([]string{c.Scope.Namespace, "users", c.Scope.Identity, c.Name}, "/")
}

// Doc returns a reference to a document in the collection.
func (c CollectionRef) Doc(id string) DocRef {
	return DocRef{Collection: c, ID: id}
}

// Validate checks that the ref can address stored data.
func (c CollectionRef) Validate() error {
	if !c.Scope.Valid() || c.Name == "" {
		return ErrInvalidScope
	}
	return nil
}

// DocRef addresses one document.
type DocRef struct {
	Collection CollectionRef
	ID         string
}

// Path renders the collection path followed by the document id.
func (d DocRef) Path() string {
	return d.Collection.Path() + "/" + d.ID
}

// Document is a stored record.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// SnapshotFunc receives the full ordered contents of a collection.
type SnapshotFunc func([]Document)

// ErrorFunc receives subscription failures. The subscription stays open.
type ErrorFunc func(error)

// Store is a per-identity document store with live queries and atomic batches.
type Store interface {
	// Subscribe delivers the current snapshot and every later change.
	Subscribe(ctx context.Context, ref CollectionRef, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
	Insert(ctx context.Context, ref CollectionRef, data json.RawMessage) (string, error)
	// Replace writes every field of the document, creating it when absent.
	Replace(ctx context.Context, ref DocRef, data json.RawMessage) error
	// Patch merges top-level fields into an existing document.
	Patch(ctx context.Context, ref DocRef, fields map[string]any) error
	Delete(ctx context.Context, ref DocRef) error
	NewBatch() Batch
	NewID() string
}

// Batch groups writes that commit atomically: all apply or none do.
type Batch interface {
	Set(ref DocRef, data json.RawMessage)
	// Update merges fields into an existing document; a missing document fails the batch.
	Update(ref DocRef, fields map[string]any)
	// Require fails the batch unless field currently equals expected.
	Require(ref DocRef, field string, expected any)
	Commit(ctx context.Context) error
}
