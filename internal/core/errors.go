package core

import "errors"

var (
	// ErrValidation is returned for messages or commands that are malformed
	ErrValidation = errors.New("validation failed")
	// ErrDuplicate is returned when a message with the same sender, body and timestamp exists
	ErrDuplicate = errors.New("duplicate message")
	// ErrNotFound is returned when a stored record does not exist
	ErrNotFound = errors.New("not found")
	// ErrReputationLookup wraps failures reading sender reputation
	ErrReputationLookup = errors.New("reputation lookup failed")
	// ErrPersistence wraps failures writing messages
	ErrPersistence = errors.New("persistence failed")
	// ErrAuditWrite wraps failures writing audit records
	ErrAuditWrite = errors.New("audit write failed")
	// ErrLearning wraps failures while applying a user correction to a classifier or reputation
	ErrLearning = errors.New("learning failed")
)
