package postoffice

import "errors"

// Sentinel errors returned by the postoffice API surface. Callers should
// compare with errors.Is rather than string matching.
var (
	ErrChannelEmpty         = errors.New("postoffice: channel name is empty")
	ErrSubscriptionNotFound = errors.New("postoffice: subscription not found")
	ErrEngineNotAttached    = errors.New("postoffice: engine is not attached")
	ErrEngineAlreadyAttached = errors.New("postoffice: engine is already attached")
	ErrFrameTooLarge        = errors.New("postoffice: frame exceeds configured size limit")
	ErrInvalidFilter        = errors.New("postoffice: filter must be zero for engine-scoped publish")
	ErrNoSuchScope          = errors.New("postoffice: unknown delivery scope")
	ErrClosed               = errors.New("postoffice: closed")
)
