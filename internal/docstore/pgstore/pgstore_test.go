package pgstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/platform/db"
)

func newTestStore(t *testing.T) (*Store, docstore.Scope) {
	t.Helper()
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, db.Options{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store := New(pool, nil, nil)
	require.NoError(t, store.EnsureSchema(ctx))
	return store, docstore.Scope{Namespace: "pgstore-test", Identity: uuid.NewString()}
}

func TestPGStoreBatchAtomicity(t *testing.T) {
	store, scope := newTestStore(t)
	ctx := context.Background()
	inv := scope.Collection("inventory")
	require.NoError(t, store.Replace(ctx, inv.Doc("a"), json.RawMessage(`{"quantityInStock":5}`)))

	b := store.NewBatch()
	b.Set(scope.Collection("sales").Doc("s1"), json.RawMessage(`{"totalAmount":"1"}`))
	b.Update(inv.Doc("a"), map[string]any{"quantityInStock": 4})
	b.Update(inv.Doc("ghost"), map[string]any{"quantityInStock": 1})
	require.ErrorIs(t, b.Commit(ctx), docstore.ErrDocumentNotFound)

	docs, err := store.load(ctx, inv)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.JSONEq(t, `{"quantityInStock":5}`, string(docs[0].Data))

	b = store.NewBatch()
	b.Require(inv.Doc("a"), "quantityInStock", 4)
	require.ErrorIs(t, b.Commit(ctx), docstore.ErrPrecondition)
}

func TestPGStoreSubscribeSeesWrites(t *testing.T) {
	store, scope := newTestStore(t)
	ctx := context.Background()
	ref := scope.Collection("sales")

	snapshots := make(chan []docstore.Document, 8)
	unsub, err := store.Subscribe(ctx, ref, func(docs []docstore.Document) { snapshots <- docs }, nil)
	require.NoError(t, err)
	defer unsub()

	first := <-snapshots
	require.Empty(t, first)

	_, err = store.Insert(ctx, ref, json.RawMessage(`{"totalAmount":"10"}`))
	require.NoError(t, err)

	select {
	case docs := <-snapshots:
		require.Len(t, docs, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("snapshot not delivered after insert")
	}
}
