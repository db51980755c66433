package models

import "errors"

// Messaging error taxonomy. Store implementations wrap these so callers can
// match with errors.Is regardless of backend.
var (
	// ErrNotFound means the conversation, application or peer does not exist
	// or is not visible to the viewer.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied means the viewer is not a legitimate participant.
	ErrAccessDenied = errors.New("access denied")

	// ErrEmptyMessage means a send carried no content and no attachment.
	ErrEmptyMessage = errors.New("message has no content and no attachment")

	// ErrTransientStore means a store or channel call failed for
	// infrastructure reasons.
	ErrTransientStore = errors.New("transient store error")

	// ErrNotStarted means an application conversation exists logically but
	// the initiator has not opened it yet.
	ErrNotStarted = errors.New("conversation not started")
)
