package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/shared"
)

func newProvider(t *testing.T, maxAttempts int) (*PasswordProvider, *MemoryAccountRepository, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := NewMemoryAccountRepository()
	_, err := CreateAccount(context.Background(), repo, "Pharmacist@RxOptima.test", "secret123")
	require.NoError(t, err)
	provider := NewPasswordProvider(repo, client, PasswordConfig{Station: "front", TTL: time.Hour, MaxAttempts: maxAttempts, Lockout: time.Minute}, nil)
	return provider, repo, mr, client
}

func TestSignInNotifiesAndPersists(t *testing.T) {
	provider, _, mr, client := newProvider(t, 5)
	ctx := context.Background()

	var seen []*Identity
	unsub := provider.OnIdentityChange(func(id *Identity) { seen = append(seen, id) })
	defer unsub()
	require.Len(t, seen, 1)
	require.Nil(t, seen[0])

	id, err := provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "secret123")
	require.NoError(t, err)
	require.Equal(t, "pharmacist@rxoptima.test", id.Email)
	require.Len(t, seen, 2)
	require.Equal(t, id.ID, seen[1].ID)
	require.True(t, mr.Exists("identity:front"))

	restored := NewPasswordProvider(provider.accounts, client, PasswordConfig{Station: "front"}, nil)
	require.NoError(t, restored.Restore(ctx))
	require.NotNil(t, restored.Current())
	require.Equal(t, id.ID, restored.Current().ID)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	provider, _, _, _ := newProvider(t, 5)
	ctx := context.Background()

	_, err := provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "wrong")
	var authErr *shared.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, shared.AuthInvalidCredentials, authErr.Reason)

	_, err = provider.SignInWithPassword(ctx, "nobody@rxoptima.test", "secret123")
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, shared.AuthInvalidCredentials, authErr.Reason)
	require.Nil(t, provider.Current())
}

func TestSignInLocksOutAfterRepeatedFailures(t *testing.T) {
	provider, _, mr, _ := newProvider(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "wrong")
		require.ErrorIs(t, err, shared.ErrAuth)
	}
	_, err := provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "secret123")
	var authErr *shared.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, shared.AuthTooManyAttempts, authErr.Reason)

	mr.FastForward(2 * time.Minute)
	_, err = provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "secret123")
	require.NoError(t, err)
}

func TestSignOutNotifiesEvenWhenRedisFails(t *testing.T) {
	provider, _, mr, _ := newProvider(t, 5)
	ctx := context.Background()
	_, err := provider.SignInWithPassword(ctx, "pharmacist@rxoptima.test", "secret123")
	require.NoError(t, err)

	var last *Identity
	notified := 0
	provider.OnIdentityChange(func(id *Identity) { last = id; notified++ })

	mr.Close()
	err = provider.SignOut(ctx)
	require.Error(t, err)
	require.Equal(t, 2, notified)
	require.Nil(t, last)
	require.Nil(t, provider.Current())
}

func TestCreateAccountRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	_, err := CreateAccount(ctx, repo, "a@b.test", "123")
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = CreateAccount(ctx, repo, "a@b.test", "secret123")
	require.NoError(t, err)
	_, err = CreateAccount(ctx, repo, "A@B.test", "secret123")
	require.ErrorIs(t, err, ErrDuplicateAccount)
}
