package services

import "errors"

// Validation errors: caller-correctable, the transaction aborts with no
// state change.
var (
	ErrURITooLong           = errors.New("URI exceeds maximum length of 200 bytes")
	ErrKeyTooLong           = errors.New("metadata key exceeds maximum length of 32 bytes")
	ErrValueTooLong         = errors.New("metadata value exceeds maximum length of 256 bytes")
	ErrMetadataLimitReached = errors.New("maximum of 10 metadata entries reached")
	ErrInvalidScore         = errors.New("score must be between 0 and 100")
	ErrInvalidResponse      = errors.New("response must be between 0 and 100")
)

// Authorization errors: the caller is not the required owner, author or
// validator.
var (
	ErrUnauthorized          = errors.New("only the agent owner can perform this action")
	ErrUnauthorizedClient    = errors.New("only the feedback author can revoke")
	ErrUnauthorizedRequester = errors.New("only the agent owner can create validation requests")
	ErrUnauthorizedValidator = errors.New("only the designated validator can respond to this request")
)

// Feedback authorization errors: the owner-signed grant accompanying a
// feedback submission does not cover it.
var (
	ErrAuthClientMismatch     = errors.New("feedback authorization client does not match submitter")
	ErrAuthAgentMismatch      = errors.New("feedback authorization covers a different agent")
	ErrAuthExpired            = errors.New("feedback authorization expired")
	ErrAuthIndexLimitExceeded = errors.New("feedback authorization index limit exceeded")
	ErrInvalidAuthSignature   = errors.New("feedback authorization signature invalid")
	ErrUnauthorizedSigner     = errors.New("feedback authorization signer is not the agent owner")
)

// Sequencing errors: a race or stale client view; the caller must re-read
// current state and retry with corrected parameters.
var (
	ErrInvalidFeedbackIndex = errors.New("invalid feedback index")
	ErrAlreadyRevoked       = errors.New("feedback already revoked")
)

// Not-found and create-once errors
var (
	ErrAlreadyInitialized = errors.New("ledger already initialized")
	ErrNotInitialized     = errors.New("ledger not initialized")
	ErrAgentExists        = errors.New("agent already registered for this mint")
	ErrAgentNotFound      = errors.New("agent not found in identity ledger")
	ErrExtensionExists    = errors.New("metadata extension already exists")
	ErrExtensionNotFound  = errors.New("metadata extension not found")
	ErrMetadataNotFound   = errors.New("metadata key not found")
	ErrFeedbackNotFound   = errors.New("feedback not found")
	ErrResponseNotFound   = errors.New("response not found")
	ErrRequestExists      = errors.New("validation request already exists")
	ErrRequestNotFound    = errors.New("validation request not found")
	ErrTokenExists        = errors.New("ownership token already minted")
)

// Arithmetic guards: counters and aggregates must never wrap. Underflow in
// particular indicates a consistency bug, not a caller error.
var (
	ErrOverflow  = errors.New("arithmetic overflow")
	ErrUnderflow = errors.New("arithmetic underflow")
)

func checkedAdd(a, b uint64) (uint64, error) {
	if a > ^uint64(0)-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}
