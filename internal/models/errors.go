package models

import "errors"

// Error kinds shared by the sync engine. Transport-level kinds are
// absorbed and retried; domain-level kinds are returned to callers.
var (
	// ErrConnection: the push channel failed to open or dropped.
	ErrConnection = errors.New("connection error")

	// ErrParse: a frame or payload could not be decoded.
	ErrParse = errors.New("parse error")

	// ErrAuthorization: the caller may not perform the action, or the
	// server rejected its token. Never retried.
	ErrAuthorization = errors.New("not authorized")

	// ErrNetwork: a REST call failed; polls retry on the next tick.
	ErrNetwork = errors.New("network error")

	// ErrAlreadyCompleted: the trade is already completed.
	ErrAlreadyCompleted = errors.New("trade already completed")

	// ErrInvalidState: the conversation has no product to complete.
	ErrInvalidState = errors.New("conversation has no product bound")

	// ErrConversationClosed: sends are rejected once the trade closed.
	ErrConversationClosed = errors.New("conversation is closed for new messages")

	// ErrNotFound: the conversation or message does not exist.
	ErrNotFound = errors.New("not found")
)
