/*
Package protocol defines the wire format shared by the collaboration server and
the client session adapter.

Every message is an Envelope carrying a type tag and one payload whose schema is
fixed per type. The payload set is closed: unknown types and payloads that fail
schema validation are rejected at the boundary.
*/
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Type tags a wire message with its event kind.
type Type string

// Client -> server events.
const (
	TypeJoinDocument    Type = "join-document"
	TypeLeaveDocument   Type = "leave-document"
	TypeDocumentChange  Type = "document-change"
	TypeCursorPosition  Type = "cursor-position"
	TypeSelectionChange Type = "selection-change"
)

// Server -> client events. The three change kinds above are also relayed
// server -> client, enriched with sender identity and a server timestamp.
const (
	TypeActiveUsers Type = "active-users"
	TypeUserJoined  Type = "user-joined"
	TypeUserLeft    Type = "user-left"
	TypeError       Type = "error"
)

// Envelope is the outer frame of every wire message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Enrichment carries the sender identity and server timestamp stamped onto
// relayed change events. Clients must leave these empty; the relay overwrites
// them unconditionally.
type Enrichment struct {
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`

	// Timestamp is the server clock at relay time, in Unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Enrich stamps the sender identity and timestamp onto the payload.
func (e *Enrichment) Enrich(sender Identity, timestamp int64) {
	e.UserID = sender.ID
	e.UserEmail = sender.Email
	e.Timestamp = timestamp
}

// SenderID returns the stamped sender id, empty until enriched.
func (e *Enrichment) SenderID() string {
	return e.UserID
}

// JoinDocumentPayload asks the server to move the connection into the room for
// the given document, leaving any room it currently occupies.
type JoinDocumentPayload struct {
	DocumentID string `json:"documentId" validate:"required"`
}

// LeaveDocumentPayload asks the server to remove the connection from its room.
// The declared document id is informational; the server leaves the room its own
// membership state records for the connection.
type LeaveDocumentPayload struct {
	DocumentID string `json:"documentId" validate:"required"`
	UserID     string `json:"userId,omitempty"`
}

// DocumentChangePayload carries a content or title edit. LiveEdit marks
// high-frequency keystroke traffic eligible for client-side debouncing;
// AutoSave and ManualSave signal that the independent persistence path ran.
type DocumentChangePayload struct {
	DocumentID string  `json:"documentId" validate:"required"`
	Content    *string `json:"content,omitempty"`
	Title      *string `json:"title,omitempty"`
	LiveEdit   bool    `json:"liveEdit,omitempty"`
	AutoSave   bool    `json:"autoSave,omitempty"`
	ManualSave bool    `json:"manualSave,omitempty"`

	Enrichment
}

// CursorPositionPayload reports the sender's caret position.
type CursorPositionPayload struct {
	DocumentID string `json:"documentId" validate:"required"`
	FileID     string `json:"fileId,omitempty"`
	Line       int    `json:"line" validate:"min=0"`
	Column     int    `json:"column" validate:"min=0"`

	Enrichment
}

// SelectionChangePayload reports the sender's selection range.
type SelectionChangePayload struct {
	DocumentID   string `json:"documentId" validate:"required"`
	FileID       string `json:"fileId,omitempty"`
	AnchorLine   int    `json:"anchorLine" validate:"min=0"`
	AnchorColumn int    `json:"anchorColumn" validate:"min=0"`
	HeadLine     int    `json:"headLine" validate:"min=0"`
	HeadColumn   int    `json:"headColumn" validate:"min=0"`

	Enrichment
}

// UserJoinedPayload is the narrow delta emitted to existing members when an
// identity becomes present in their room.
type UserJoinedPayload struct {
	User Identity `json:"user"`
}

// UserLeftPayload is the narrow delta emitted to remaining members when an
// identity is no longer present in their room.
type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload carries a coded error to the client. Relay-level failures are
// never surfaced this way; the type exists for protocol completeness and
// forward compatibility on the client side.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// validate holds the shared payload schema validator.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Encode marshals a payload into a complete wire frame of the given type.
func Encode(msgType Type, payload any) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}

	frame, err := json.Marshal(Envelope{
		Type:    msgType,
		Payload: payloadBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s envelope: %w", msgType, err)
	}

	return frame, nil
}

// Decode unmarshals and validates a payload of type T from its raw form.
func Decode[T any](raw json.RawMessage) (*T, error) {
	payload := new(T)

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}

	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("payload failed schema validation: %w", err)
	}

	return payload, nil
}
