package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", 24)
	userID := uuid.New()

	token, err := svc.Generate(userID, "ada@lab.edu", "faculty")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ada@lab.edu", claims.Email)
	assert.Equal(t, "faculty", claims.Role)
}

func TestJWTExpiredToken(t *testing.T) {
	svc := NewJWTService("test-secret", -1)

	token, err := svc.Generate(uuid.New(), "ada@lab.edu", "member")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", 24).Generate(uuid.New(), "ada@lab.edu", "member")
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", 24).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTGarbageToken(t *testing.T) {
	svc := NewJWTService("test-secret", 24)
	for _, tok := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.Validate(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", tok)
	}
}
