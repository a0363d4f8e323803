/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrInvalidJSONFormat: {Code: ErrInvalidJSONFormat, Message: "Unsupported message format."},
	ErrPayloadInvalid:    {Code: ErrPayloadInvalid, Message: "Invalid event payload."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Room State Errors
	ErrNotInRoom:    {Code: ErrNotInRoom, Message: "Not a member of any document room."},
	ErrRoomMismatch: {Code: ErrRoomMismatch, Message: "Declared document does not match the active room."},

	// 3xxx: Authentication Errors
	ErrTokenMissing:        {Code: ErrTokenMissing, Message: "Authentication required.", Status: http.StatusUnauthorized},
	ErrTokenInvalid:        {Code: ErrTokenInvalid, Message: "Authentication failed.", Status: http.StatusUnauthorized},
	ErrTokenExpired:        {Code: ErrTokenExpired, Message: "Session expired. Please sign in again.", Status: http.StatusUnauthorized},
	ErrAlgorithmNotAllowed: {Code: ErrAlgorithmNotAllowed, Message: "Authentication failed.", Status: http.StatusUnauthorized},
	ErrVerifyTimeout:       {Code: ErrVerifyTimeout, Message: "Authentication timed out. Please try again.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
