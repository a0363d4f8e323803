package jwt

import (
	"github.com/golang-jwt/jwt/v5"

	"codecollab/protocol"
)

// Claims defines the structure of the credential presented during the connection
// handshake. The identity fields mirror what the external token issuer signs.
type Claims struct {
	jwt.RegisteredClaims

	// ID is the unique identifier of the user holding the credential.
	ID string `json:"id"`

	// Email is the user's email address.
	Email string `json:"email"`

	// Name is the user's display name.
	Name string `json:"name"`
}

// Identity converts verified claims into the Identity attached to the connection.
func (c *Claims) Identity() protocol.Identity {
	return protocol.Identity{
		ID:    c.ID,
		Email: c.Email,
		Name:  c.Name,
	}
}
