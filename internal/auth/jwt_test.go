package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminToken_roundTrip(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	tok, err := svc.SignAdminToken("ops")
	require.NoError(t, err)

	claims, err := svc.VerifyAdminToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestAdminToken_expired(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	issued := time.Now().Add(-2 * time.Hour)
	svc.now = func() time.Time { return issued }
	tok, err := svc.SignAdminToken("ops")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyAdminToken(tok)
	assert.Error(t, err)
}

func TestAdminToken_wrongSecret(t *testing.T) {
	tok, err := NewJWTService("secret-a", time.Hour).SignAdminToken("ops")
	require.NoError(t, err)
	_, err = NewJWTService("secret-b", time.Hour).VerifyAdminToken(tok)
	assert.Error(t, err)
}

func TestAdminToken_wrongRole(t *testing.T) {
	now := time.Now()
	claims := &AdminClaims{
		Role: "voter",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s"))
	require.NoError(t, err)

	_, err = NewJWTService("s", time.Hour).VerifyAdminToken(tok)
	assert.ErrorContains(t, err, "not an admin token")
}

func TestAdminToken_rejectsNoneAlg(t *testing.T) {
	claims := &AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTService("s", time.Hour).VerifyAdminToken(tok)
	assert.Error(t, err)
}
