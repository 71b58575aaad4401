package security

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l0kol/IPledge/internal/ports"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestHMACTokenVerifierRoundTrip(t *testing.T) {
	v, err := NewHMACTokenVerifier(testSecret, "ipledge-auth")
	require.NoError(t, err)

	exp := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	raw, err := v.Sign(ports.AuthClaims{SubjectID: "creator_1", Role: "creator", ExpiresAt: exp}, time.Now())
	require.NoError(t, err)

	claims, err := v.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "creator_1", claims.SubjectID)
	assert.Equal(t, "creator", claims.Role)
	assert.True(t, exp.Equal(claims.ExpiresAt))
}

func TestHMACTokenVerifierRejects(t *testing.T) {
	v, err := NewHMACTokenVerifier(testSecret, "ipledge-auth")
	require.NoError(t, err)
	other, err := NewHMACTokenVerifier("ffffffffffffffffffffffffffffffff", "ipledge-auth")
	require.NoError(t, err)
	wrongIssuer, err := NewHMACTokenVerifier(testSecret, "someone-else")
	require.NoError(t, err)

	claims := ports.AuthClaims{SubjectID: "backer_1", Role: "backer", ExpiresAt: time.Now().Add(time.Hour)}
	foreign, err := other.Sign(claims, time.Now())
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, jwt.ErrSignatureInvalid)

	misissued, err := wrongIssuer.Sign(claims, time.Now())
	require.NoError(t, err)
	_, err = v.Verify(misissued)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)

	expired, err := v.Sign(ports.AuthClaims{SubjectID: "backer_1", Role: "backer", ExpiresAt: time.Now().Add(-time.Hour)}, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	noRole, err := v.Sign(ports.AuthClaims{SubjectID: "backer_1", ExpiresAt: time.Now().Add(time.Hour)}, time.Now())
	require.NoError(t, err)
	_, err = v.Verify(noRole)
	assert.Error(t, err)

	_, err = NewHMACTokenVerifier("short", "")
	assert.Error(t, err)
}
