/*
Package jwt implements the connection gate's credential verification.

Credentials are RS256-signed bearer tokens verified against a fixed public key.
The signing algorithm is restricted to an explicit allow-list, expiry is enforced,
and verification runs under a bounded timeout so a hang is treated as a rejection.
*/
package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"codecollab/internal/pkg/errs"
	"codecollab/protocol"
)

// allowedAlgorithms is the closed set of signing algorithms accepted at the gate.
var allowedAlgorithms = []string{jwt.SigningMethodRS256.Alg()}

// errMethodNotAllowed marks a token signed with an algorithm outside the allow-list.
var errMethodNotAllowed = errors.New("signing method not allowed")

// Verifier verifies connection credentials against a known RSA public key.
type Verifier struct {
	publicKey *rsa.PublicKey
	timeout   time.Duration
}

// NewVerifier constructs a Verifier for the given public key.
// The timeout bounds each verification; zero disables the bound.
func NewVerifier(publicKey *rsa.PublicKey, timeout time.Duration) *Verifier {
	return &Verifier{
		publicKey: publicKey,
		timeout:   timeout,
	}
}

// LoadPublicKey reads and parses a PEM-encoded RSA public key from the given path.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file %q: %w", path, err)
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key from %q: %w", path, err)
	}

	return publicKey, nil
}

// Verify parses and validates the credential string, returning the verified claims.
// Failures are mapped onto the gate's coded authentication errors.
func (v *Verifier) Verify(tokenString string) (*Claims, *errs.CustomError) {
	if tokenString == "" {
		return nil, errs.NewError(errs.ErrTokenMissing)
	}

	claims := &Claims{}

	// The allow-list is enforced in the keyfunc, before the key is released.
	// jwt.WithValidMethods would run its own check ahead of the keyfunc and
	// collapse a disallowed algorithm into a generic signature error, losing
	// the distinct rejection code.
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (any, error) {
			if !lo.Contains(allowedAlgorithms, token.Method.Alg()) {
				return nil, fmt.Errorf("%w: %s", errMethodNotAllowed, token.Method.Alg())
			}
			return v.publicKey, nil
		},
	)

	switch {
	case err == nil && token.Valid:
		return claims, nil
	case errors.Is(err, errMethodNotAllowed):
		return nil, errs.NewError(errs.ErrAlgorithmNotAllowed)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, errs.NewError(errs.ErrTokenExpired)
	default:
		return nil, errs.NewError(errs.ErrTokenInvalid)
	}
}

// VerifyContext runs Verify off the calling goroutine under the configured timeout.
// A verification that outlives the bound (or the caller's context) is a rejection;
// no retry is made with the same credential.
func (v *Verifier) VerifyContext(ctx context.Context, tokenString string) (*Claims, *errs.CustomError) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	if ctx.Err() != nil {
		return nil, errs.NewError(errs.ErrVerifyTimeout)
	}

	type verifyResult struct {
		claims  *Claims
		authErr *errs.CustomError
	}

	resultChan := make(chan verifyResult, 1)

	go func() {
		claims, authErr := v.Verify(tokenString)
		resultChan <- verifyResult{claims: claims, authErr: authErr}
	}()

	select {
	case <-ctx.Done():
		return nil, errs.NewError(errs.ErrVerifyTimeout)
	case result := <-resultChan:
		return result.claims, result.authErr
	}
}

// GenerateToken creates and signs an RS256 credential for the given identity.
// The server itself never issues tokens in production; this exists for the
// tokengen dev tool and for tests that need valid credentials.
func GenerateToken(privateKey *rsa.PrivateKey, identity protocol.Identity, duration time.Duration) (string, error) {
	now := time.Now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		ID:    identity.ID,
		Email: identity.Email,
		Name:  identity.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)

	return token.SignedString(privateKey)
}
