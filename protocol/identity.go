package protocol

// Identity represents the verified claims about a connected user.
// It is ephemeral: derived from a verified credential during the connection
// handshake, attached to the connection for its lifetime, never persisted.
type Identity struct {

	// ID is the unique identifier of the user, taken from the credential subject.
	ID string `json:"id"`

	// Email is the user's email address as asserted by the credential.
	Email string `json:"email"`

	// Name is the display name shown to other room members.
	Name string `json:"name"`
}
