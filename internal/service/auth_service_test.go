package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestLoginAndValidate(t *testing.T) {
	auth := NewAuthService("observer", "hunter22", testSecret)

	resp, err := auth.Login("observer", "hunter22")
	require.NoError(t, err)
	assert.Contains(t, resp.ObserverID, "observer_")

	claims, err := auth.ValidateObserverToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.ObserverID, claims.ObserverID)
	assert.Equal(t, "observer", claims.Name)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := NewAuthService("observer", "hunter22", testSecret)
	_, err := auth.Login("observer", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = auth.Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateRejectsBadTokens(t *testing.T) {
	auth := NewAuthService("observer", "hunter22", testSecret)
	resp, err := auth.Login("observer", "hunter22")
	require.NoError(t, err)

	other := NewAuthService("observer", "hunter22", "another-secret-entirely")
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"observerId": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		auth  *AuthService
		token string
	}{
		{"empty", auth, ""},
		{"garbage", auth, "not.a.jwt"},
		{"wrong secret", other, resp.Token},
		{"unsigned", auth, none},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.auth.ValidateObserverToken(tc.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokensExpire(t *testing.T) {
	auth := NewAuthService("observer", "hunter22", testSecret)
	issued := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	auth.now = func() time.Time { return issued }
	resp, err := auth.Login("observer", "hunter22")
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(observerTokenTTL - time.Minute) }
	_, err = auth.ValidateObserverToken(resp.Token)
	require.NoError(t, err)

	auth.now = func() time.Time { return issued.Add(observerTokenTTL + time.Minute) }
	_, err = auth.ValidateObserverToken(resp.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
