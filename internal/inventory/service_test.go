package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/memstore"
	"github.com/rxoptima/rxoptima/internal/shared"
)

type staticScope struct {
	scope docstore.Scope
	err   error
}

func (s staticScope) Scope() (docstore.Scope, error) { return s.scope, s.err }

var testScope = docstore.Scope{Namespace: "rxoptima-app", Identity: "u1"}

func validItem() Item {
	return Item{
		Name:            "Paracetamol",
		GenericName:     "Acetaminophen",
		BatchNumber:     "12345",
		ExpiryDate:      time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		QuantityInStock: 40,
		UnitPrice:       decimal.RequireFromString("150.50"),
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	store := memstore.New()
	notices := shared.NewNoticeBoard(10)
	svc := NewService(store, staticScope{scope: testScope}, notices, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, validItem())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 1, store.Count(testScope.Collection(CollectionName)))
	require.Equal(t, "Drug added successfully!", notices.Pop().Message)

	update := validItem()
	update.QuantityInStock = 7
	update.ID = "ignored"
	updated, err := svc.Update(ctx, created.ID, update)
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID)

	raw, ok := store.Get(testScope.Collection(CollectionName).Doc(created.ID))
	require.True(t, ok)
	require.Contains(t, string(raw), `"quantityInStock":7`)
	require.NotContains(t, string(raw), "ignored")

	require.NoError(t, svc.Delete(ctx, created.ID))
	require.Equal(t, 0, store.Count(testScope.Collection(CollectionName)))
}

func TestValidationRejectsWithoutWriting(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, staticScope{scope: testScope}, shared.NewNoticeBoard(10), nil)
	ctx := context.Background()

	negative := validItem()
	negative.QuantityInStock = -1
	_, err := svc.Create(ctx, negative)
	var vErr *shared.ValidationError
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "Quantity and Price cannot be negative.", vErr.Message)

	negPrice := validItem()
	negPrice.UnitPrice = decimal.NewFromInt(-1)
	_, err = svc.Create(ctx, negPrice)
	require.ErrorIs(t, err, shared.ErrValidation)

	missing := validItem()
	missing.Name = ""
	_, err = svc.Create(ctx, missing)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "name", vErr.Field)
	require.Equal(t, "Name, Batch Number, and Expiry Date are required.", vErr.Message)

	noExpiry := validItem()
	noExpiry.ExpiryDate = time.Time{}
	_, err = svc.Create(ctx, noExpiry)
	require.ErrorIs(t, err, shared.ErrValidation)

	badBatch := validItem()
	badBatch.BatchNumber = "12a"
	_, err = svc.Create(ctx, badBatch)
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "batchNumber", vErr.Field)

	require.Equal(t, 0, store.Count(testScope.Collection(CollectionName)))
}

func TestServiceRequiresIdentity(t *testing.T) {
	store := memstore.New()
	notices := shared.NewNoticeBoard(10)
	svc := NewService(store, staticScope{err: shared.NoSession()}, notices, nil)

	_, err := svc.Create(context.Background(), validItem())
	require.ErrorIs(t, err, shared.ErrAuth)
	require.Equal(t, "Authentication error. Please refresh.", notices.Pop().Message)
}

func TestStoreFailureBecomesCommitFailure(t *testing.T) {
	store := memstore.New()
	notices := shared.NewNoticeBoard(10)
	svc := NewService(store, staticScope{scope: testScope}, notices, nil)
	store.FailNextCommit(errors.New("offline"))

	_, err := svc.Create(context.Background(), validItem())
	require.ErrorIs(t, err, shared.ErrCommitFailed)
	require.Equal(t, "Error adding drug: offline", notices.Pop().Message)
}

func TestSanitizeBatchNumber(t *testing.T) {
	got, ok := SanitizeBatchNumber("B-12 3")
	require.True(t, ok)
	require.Equal(t, "123", got)

	_, ok = SanitizeBatchNumber("123456")
	require.False(t, ok)

	got, ok = SanitizeBatchNumber("abc")
	require.True(t, ok)
	require.Equal(t, "", got)
}
