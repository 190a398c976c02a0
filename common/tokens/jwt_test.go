package tokens

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueValidate(t *testing.T) {
	m := NewManager("test-secret-that-is-long-enough-for-hs256")

	token, err := m.Issue("drc", "acks", time.Minute)
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "drc", claims.Subject)
	assert.Equal(t, "acks", claims.Scope)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestValidate_Rejects(t *testing.T) {
	m := NewManager("test-secret-that-is-long-enough-for-hs256")

	expired, err := m.Issue("drc", "", -time.Minute)
	require.NoError(t, err)
	otherKey, err := NewManager("another-secret-entirely").Issue("drc", "", time.Minute)
	require.NoError(t, err)
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}).SignedString([]byte("test-secret-that-is-long-enough-for-hs256"))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer: Issuer,
	}}).SignedString([]byte("test-secret-that-is-long-enough-for-hs256"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expired},
		{name: "wrong key", token: otherKey},
		{name: "wrong issuer", token: foreign},
		{name: "no expiry", token: noExpiry},
		{name: "unsigned", token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJpc3MiOiJkcmMtaW50ZWdyYXRpb24ifQ."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.token)
			assert.Error(t, err)
		})
	}
}
