package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestParseAndValidateToken(t *testing.T) {
	p := NewTokenParser("s3cret")
	uid := uuid.New()

	tok := sign(t, "s3cret", jwt.MapClaims{
		"user_id":    uid.String(),
		"token_type": "access",
		"exp":        time.Now().Add(time.Hour).Unix(),
	})
	claims, err := p.ParseAndValidateToken(tok, "access")
	require.NoError(t, err)
	got, err := UserID(claims)
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = p.ParseAndValidateToken(tok, "refresh")
	assert.Error(t, err)
}

func TestParseAndValidateToken_Rejects(t *testing.T) {
	p := NewTokenParser("s3cret")

	expired := sign(t, "s3cret", jwt.MapClaims{"sub": uuid.NewString(), "exp": time.Now().Add(-time.Minute).Unix()})
	_, err := p.ParseAndValidateToken(expired, "")
	assert.Error(t, err)

	wrongKey := sign(t, "other", jwt.MapClaims{"sub": uuid.NewString()})
	_, err = p.ParseAndValidateToken(wrongKey, "")
	assert.Error(t, err)

	_, err = NewTokenParser(" ").ParseAndValidateToken(wrongKey, "")
	assert.ErrorIs(t, err, ErrSecretNotConfigured)
}

func TestUserID_FallsBackToSubject(t *testing.T) {
	uid := uuid.New()
	got, err := UserID(jwt.MapClaims{"sub": uid.String()})
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = UserID(jwt.MapClaims{"sub": "42"})
	assert.Error(t, err)
	_, err = UserID(jwt.MapClaims{})
	assert.Error(t, err)
}
