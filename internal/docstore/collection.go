package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Identifiable is implemented by values that carry their document id.
// The id is kept out of the stored payload and restored on decode.
type Identifiable interface {
	SetID(id string)
}

// Option configures a Collection.
type Option[T any] func(*Collection[T])

// OrderBy sorts snapshots by key, newest first. Without it, snapshots keep
// store order.
func OrderBy[T any](key func(T) time.Time) Option[T] {
	return func(c *Collection[T]) {
		c.orderBy = key
	}
}

// Collection is a typed view over one scoped collection.
type Collection[T any] struct {
	store   Store
	ref     CollectionRef
	orderBy func(T) time.Time
}

// NewCollection binds name within scope to the element type T.
func NewCollection[T any](store Store, scope Scope, name string, opts ...Option[T]) *Collection[T] {
	c := &Collection[T]{store: store, ref: scope.Collection(name)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ref returns the underlying collection reference.
func (c *Collection[T]) Ref() CollectionRef { return c.ref }

// Doc returns the document reference for id.
func (c *Collection[T]) Doc(id string) DocRef { return c.ref.Doc(id) }

// Encode serialises a value for storage.
func (c *Collection[T]) Encode(v T) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode %s: %w", c.ref.Name, err)
	}
	return data, nil
}

// Insert stores v under a new id.
func (c *Collection[T]) Insert(ctx context.Context, v T) (string, error) {
	data, err := c.Encode(v)
	if err != nil {
		return "", err
	}
	return c.store.Insert(ctx, c.ref, data)
}

// Replace overwrites the document id with v.
func (c *Collection[T]) Replace(ctx context.Context, id string, v T) error {
	data, err := c.Encode(v)
	if err != nil {
		return err
	}
	return c.store.Replace(ctx, c.ref.Doc(id), data)
}

// Delete removes the document id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.store.Delete(ctx, c.ref.Doc(id))
}

// Decode converts stored documents into ordered values.
func (c *Collection[T]) Decode(docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var v T
		if err := json.Unmarshal(doc.Data, &v); err != nil {
			return nil, fmt.Errorf("docstore: decode %s/%s: %w", c.ref.Name, doc.ID, err)
		}
		if idf, ok := any(&v).(Identifiable); ok {
			idf.SetID(doc.ID)
		}
		out = append(out, v)
	}
	if c.orderBy != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return c.orderBy(out[i]).After(c.orderBy(out[j]))
		})
	}
	return out, nil
}

// Subscribe delivers decoded snapshots. Undecodable snapshots are reported
// through onError and the previous snapshot stays current for the caller.
func (c *Collection[T]) Subscribe(ctx context.Context, onSnapshot func([]T), onError ErrorFunc) (Unsubscribe, error) {
	return c.store.Subscribe(ctx, c.ref, func(docs []Document) {
		values, err := c.Decode(docs)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onSnapshot(values)
	}, onError)
}

// Load returns one snapshot by subscribing until the first delivery.
func (c *Collection[T]) Load(ctx context.Context) ([]T, error) {
	type result struct {
		values []T
		err    error
	}
	ch := make(chan result, 1)
	deliver := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}
	unsub, err := c.Subscribe(ctx, func(values []T) {
		deliver(result{values: values})
	}, func(err error) {
		deliver(result{err: err})
	})
	if err != nil {
		return nil, err
	}
	defer unsub()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.values, r.err
	}
}
