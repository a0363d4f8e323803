package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"codecollab/internal/pkg/errs"
	"codecollab/protocol"
)

func newKeypair(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return privateKey
}

func TestVerifyValidToken(t *testing.T) {
	req := require.New(t)

	privateKey := newKeypair(t)
	verifier := NewVerifier(&privateKey.PublicKey, 5*time.Second)

	identity := protocol.Identity{ID: "user-1", Email: "ada@example.com", Name: "Ada"}

	token, err := GenerateToken(privateKey, identity, time.Hour)
	req.NoError(err)

	claims, authErr := verifier.Verify(token)
	req.Nil(authErr)
	req.Equal(identity, claims.Identity())
	req.Equal("user-1", claims.Subject)
}

func TestVerifyExpiredToken(t *testing.T) {
	req := require.New(t)

	privateKey := newKeypair(t)
	verifier := NewVerifier(&privateKey.PublicKey, 5*time.Second)

	token, err := GenerateToken(privateKey, protocol.Identity{ID: "user-1"}, -time.Minute)
	req.NoError(err)

	claims, authErr := verifier.Verify(token)
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrTokenExpired, authErr.Code)
}

func TestVerifyDisallowedAlgorithm(t *testing.T) {
	req := require.New(t)

	privateKey := newKeypair(t)
	verifier := NewVerifier(&privateKey.PublicKey, 5*time.Second)

	// HS256 is outside the allow-list regardless of whether the secret would
	// verify.
	hmacToken := gojwt.NewWithClaims(gojwt.SigningMethodHS256, &Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ID: "user-1",
	})

	signed, err := hmacToken.SignedString([]byte("some-shared-secret"))
	req.NoError(err)

	claims, authErr := verifier.Verify(signed)
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrAlgorithmNotAllowed, authErr.Code)

	// An unsigned token is an algorithm rejection too, not a signature error.
	noneToken := gojwt.NewWithClaims(gojwt.SigningMethodNone, gojwt.MapClaims{
		"id":  "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err = noneToken.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	req.NoError(err)

	claims, authErr = verifier.Verify(signed)
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrAlgorithmNotAllowed, authErr.Code)
}

func TestVerifyWrongKey(t *testing.T) {
	req := require.New(t)

	signerKey := newKeypair(t)
	otherKey := newKeypair(t)
	verifier := NewVerifier(&otherKey.PublicKey, 5*time.Second)

	token, err := GenerateToken(signerKey, protocol.Identity{ID: "user-1"}, time.Hour)
	req.NoError(err)

	claims, authErr := verifier.Verify(token)
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrTokenInvalid, authErr.Code)
}

func TestVerifyMalformedAndMissing(t *testing.T) {
	req := require.New(t)

	privateKey := newKeypair(t)
	verifier := NewVerifier(&privateKey.PublicKey, 5*time.Second)

	claims, authErr := verifier.Verify("not-a-token")
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrTokenInvalid, authErr.Code)

	claims, authErr = verifier.Verify("")
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrTokenMissing, authErr.Code)
}

func TestVerifyContextCanceled(t *testing.T) {
	req := require.New(t)

	privateKey := newKeypair(t)
	verifier := NewVerifier(&privateKey.PublicKey, 5*time.Second)

	token, err := GenerateToken(privateKey, protocol.Identity{ID: "user-1"}, time.Hour)
	req.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	claims, authErr := verifier.VerifyContext(ctx, token)
	req.Nil(claims)
	req.NotNil(authErr)
	req.Equal(errs.ErrVerifyTimeout, authErr.Code)
}
