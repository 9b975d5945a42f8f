package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_DecodesUnverifiedToken(t *testing.T) {
	token, err := Sign("whatever", Identity{UserID: "a", DisplayName: "Alice", Role: "player"}, time.Hour)
	require.NoError(t, err)

	id, err := NewResolver("").Resolve("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "a", DisplayName: "Alice", Role: "player"}, id)
}

func TestResolve_VerifiesWhenSecretConfigured(t *testing.T) {
	token, err := Sign("right", Identity{UserID: "a", DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)

	_, err = NewResolver("wrong").Resolve(token)
	require.ErrorIs(t, err, ErrIdentityUnavailable)

	id, err := NewResolver("right").Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "a", id.UserID)
}

func TestResolve_Failures(t *testing.T) {
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: "ghost"}).SignedString([]byte("k"))
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "bearer only", token: "Bearer "},
		{name: "garbage", token: "not-a-jwt"},
		{name: "missing user id", token: noUser},
	}

	r := NewResolver("")
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.token)
			require.ErrorIs(t, err, ErrIdentityUnavailable)
		})
	}
}

func TestResolve_FallsBackToSubjectAndUserID(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-9"},
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	id, err := NewResolver("").Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "u-9", id.UserID)
	assert.Equal(t, "u-9", id.DisplayName)
}

func TestResolve_RederivesOnNewCredential(t *testing.T) {
	r := NewResolver("")
	first, err := Sign("k", Identity{UserID: "a", DisplayName: "Alice"}, 0)
	require.NoError(t, err)
	second, err := Sign("k", Identity{UserID: "b", DisplayName: "Bob"}, 0)
	require.NoError(t, err)

	id, err := r.Resolve(first)
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.DisplayName)

	id, err = r.Resolve(second)
	require.NoError(t, err)
	assert.Equal(t, "Bob", id.DisplayName)
}
