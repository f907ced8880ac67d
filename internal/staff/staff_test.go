package staff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstand/pkg/docstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(docstore.NewMemory(), []byte("test-secret"), time.Minute)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	member, err := svc.Register(ctx, "Alice", " Alice@Example.COM ", RoleAdmin, "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", member.Email, "emails normalize to lowercase")
	assert.NotEmpty(t, member.ID)

	got, token, err := svc.Authenticate(ctx, "ALICE@example.com", "hunter2hunter2")
	require.NoError(t, err)
	assert.Equal(t, member, got)
	require.NotEmpty(t, token)

	verified, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, member, verified)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, "Alice", "alice@example.com", RoleVolunteer, "hunter2hunter2")
	require.NoError(t, err)

	_, _, err = svc.Authenticate(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Authenticate(ctx, "nobody@example.com", "hunter2hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials, "unknown accounts fail the same way")
}

func TestAuthenticateRateLimits(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var limited bool
	for i := 0; i < 10; i++ {
		_, _, err := svc.Authenticate(ctx, "nobody@example.com", "guess")
		if err == ErrRateLimited {
			limited = true
			break
		}
	}
	assert.True(t, limited, "repeated attempts hit the limiter")
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_, err := svc.Register(ctx, "Alice", "", RoleAdmin, "pw")
	assert.Error(t, err)

	_, err = svc.Register(ctx, "Alice", "alice@example.com", "overlord", "pw")
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedAndExpiredTokens(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	member, err := svc.Register(ctx, "Alice", "alice@example.com", RoleAdmin, "hunter2hunter2")
	require.NoError(t, err)

	_, token, err := svc.Authenticate(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)

	_, err = svc.Verify(token + "x")
	assert.Error(t, err)

	other := NewService(docstore.NewMemory(), []byte("other-secret"), time.Minute)
	_, err = other.Verify(token)
	assert.Error(t, err, "a token signed under another secret is rejected")

	expired, err := (&tokenSigner{secret: []byte("test-secret"), ttl: -time.Minute}).sign(member)
	require.NoError(t, err)
	_, err = svc.Verify(expired)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, salt, err := hashPassword("hunter2hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.NotEmpty(t, salt)

	hash2, salt2, err := hashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, salt, salt2, "salts are random per hash")
	assert.NotEqual(t, hash, hash2)

	ok, err := verifyPassword("hunter2hunter2", salt, hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = verifyPassword("wrong", salt, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}
