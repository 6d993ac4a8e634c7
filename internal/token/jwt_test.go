package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	svc := NewJWTService("secret", "registration-service")

	tok, err := svc.Sign("6281234567890", TypeRegistration, 10*time.Minute)
	require.NoError(t, err)

	claims, err := svc.Verify(tok, TypeRegistration)
	require.NoError(t, err)
	assert.Equal(t, "6281234567890", claims.Subject)
	assert.Equal(t, TypeRegistration, claims.Type)
	assert.NotEmpty(t, claims.ID)
}

func TestVerifyRejectsWrongType(t *testing.T) {
	svc := NewJWTService("secret", "registration-service")
	tok, err := svc.Sign("user-1", TypeLogin, time.Minute)
	require.NoError(t, err)

	_, err = svc.Verify(tok, TypeRegistration)
	assert.ErrorIs(t, err, ErrWrongType)
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewJWTService("secret", "registration-service")
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	tok, err := svc.Sign("6281234567890", TypeRegistration, 10*time.Minute)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(11 * time.Minute) }
	_, err = svc.Verify(tok, TypeRegistration)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyRejectsForeignSignatureAndIssuer(t *testing.T) {
	svc := NewJWTService("secret", "registration-service")

	other, err := NewJWTService("other-secret", "registration-service").Sign("x", TypeLogin, time.Minute)
	require.NoError(t, err)
	_, err = svc.Verify(other, TypeLogin)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewJWTService("secret", "someone-else").Sign("x", TypeLogin, time.Minute)
	require.NoError(t, err)
	_, err = svc.Verify(foreign, TypeLogin)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Verify("not-a-jwt", TypeLogin)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
