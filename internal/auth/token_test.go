package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue("u-1", "Alice")
	req.NoError(err)
	claims, err := issuer.Parse(token)
	req.NoError(err)
	req.Equal("u-1", claims.UserID)
	req.Equal("Alice", claims.Username)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("secret", time.Hour)

	other, err := NewTokenIssuer("other", time.Hour).Issue("u-1", "Alice")
	req.NoError(err)
	_, err = issuer.Parse(other)
	req.ErrorIs(err, ErrInvalidToken)

	expired := NewTokenIssuer("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue("u-1", "Alice")
	req.NoError(err)
	_, err = issuer.Parse(old)
	req.ErrorIs(err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	req.NoError(err)
	_, err = issuer.Parse(none)
	req.ErrorIs(err, ErrInvalidToken)

	_, err = issuer.Parse("garbage")
	req.ErrorIs(err, ErrInvalidToken)
}
