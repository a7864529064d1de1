package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/memstore"
	"github.com/rxoptima/rxoptima/internal/identity"
	"github.com/rxoptima/rxoptima/internal/inventory"
)

func TestSeedIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	accounts := identity.NewMemoryAccountRepository()
	now := time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC)

	first, err := seedAccount(ctx, accounts, "pharmacist@rxoptima.local", "rxoptima123")
	require.NoError(t, err)
	again, err := seedAccount(ctx, accounts, "pharmacist@rxoptima.local", "rxoptima123")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	for i := 0; i < 2; i++ {
		n, err := seedInventory(ctx, store, "rxoptima-app", first.ID, now)
		require.NoError(t, err)
		require.Equal(t, len(demoItems), n)
	}

	scope := docstore.Scope{Namespace: "rxoptima-app", Identity: first.ID}
	require.Equal(t, len(demoItems), store.Count(scope.Collection(inventory.CollectionName)))

	items, err := inventory.NewCollection(store, scope).Load(ctx)
	require.NoError(t, err)
	expired := 0
	for _, item := range items {
		if inventory.IsExpired(item, now) {
			expired++
		}
	}
	require.Equal(t, 1, expired)
}
