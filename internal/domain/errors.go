package domain

import "github.com/pkg/errors"

var (
	// ErrPreconditionViolation is raised for invalid bucket priority codes.
	ErrPreconditionViolation = errors.New("precondition violation")

	// ErrInvalidOperationKind marks an upload queue entry with an unknown op tag.
	ErrInvalidOperationKind = errors.New("invalid operation kind")

	// ErrClientIDOutOfRange marks a queue entry id that does not fit into int64.
	ErrClientIDOutOfRange = errors.New("client id out of range")

	ErrCredentialFetchFailed   = errors.New("credential fetch failed")
	ErrUploadFailed            = errors.New("upload failed")
	ErrSessionAttachmentFailed = errors.New("session attachment failed")
)
