/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally within
the server and in communication with clients. Only handshake-level (3xxx) errors are
ever surfaced to a client; room and payload errors are logged and dropped.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that a message body was not valid JSON.
	ErrInvalidJSONFormat = 1002

	// ErrPayloadInvalid indicates that an event payload was missing required
	// fields or failed schema validation.
	ErrPayloadInvalid = 1003

	// ErrRateLimitExceeded indicates that the handshake rate has exceeded the set limit.
	ErrRateLimitExceeded = 1004
)

// 2xxx: Room State Errors
const (
	// ErrNotInRoom indicates that an event implied a room the sender is not
	// currently a member of.
	ErrNotInRoom = 2001

	// ErrRoomMismatch indicates that the room id declared by the client does not
	// match the room the connection is registered in.
	ErrRoomMismatch = 2002
)

// 3xxx: Authentication Errors
const (
	// ErrTokenMissing indicates that the handshake carried no credential.
	ErrTokenMissing = 3001

	// ErrTokenInvalid indicates a malformed credential or a bad signature.
	ErrTokenInvalid = 3002

	// ErrTokenExpired indicates that the credential has expired.
	ErrTokenExpired = 3003

	// ErrAlgorithmNotAllowed indicates the credential was signed with an
	// algorithm outside the allow-list.
	ErrAlgorithmNotAllowed = 3004

	// ErrVerifyTimeout indicates that credential verification did not complete
	// within the configured bound; treated as a rejection.
	ErrVerifyTimeout = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
