package handlers

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agent-trust/registry/internal/oracle"
	"github.com/agent-trust/registry/internal/services"
)

// statusFor maps the ledger error taxonomy onto HTTP status codes:
// validation errors 400, authorization 403, not-found 404, sequencing and
// create-once conflicts 409, arithmetic guards 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrURITooLong),
		errors.Is(err, services.ErrKeyTooLong),
		errors.Is(err, services.ErrValueTooLong),
		errors.Is(err, services.ErrMetadataLimitReached),
		errors.Is(err, services.ErrInvalidScore),
		errors.Is(err, services.ErrInvalidResponse),
		errors.Is(err, oracle.ErrInvalidTokenAccount),
		errors.Is(err, oracle.ErrTransferToSelf):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrUnauthorizedClient),
		errors.Is(err, services.ErrUnauthorizedRequester),
		errors.Is(err, services.ErrUnauthorizedValidator),
		errors.Is(err, services.ErrAuthClientMismatch),
		errors.Is(err, services.ErrAuthAgentMismatch),
		errors.Is(err, services.ErrAuthExpired),
		errors.Is(err, services.ErrAuthIndexLimitExceeded),
		errors.Is(err, services.ErrInvalidAuthSignature),
		errors.Is(err, services.ErrUnauthorizedSigner):
		return http.StatusForbidden
	case errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, services.ErrMetadataNotFound),
		errors.Is(err, services.ErrExtensionNotFound),
		errors.Is(err, services.ErrFeedbackNotFound),
		errors.Is(err, services.ErrResponseNotFound),
		errors.Is(err, services.ErrRequestNotFound),
		errors.Is(err, oracle.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidFeedbackIndex),
		errors.Is(err, services.ErrAlreadyRevoked),
		errors.Is(err, services.ErrAlreadyInitialized),
		errors.Is(err, services.ErrNotInitialized),
		errors.Is(err, services.ErrAgentExists),
		errors.Is(err, services.ErrExtensionExists),
		errors.Is(err, services.ErrRequestExists),
		errors.Is(err, services.ErrTokenExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func parseAgentID(c *gin.Context, param string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return 0, false
	}
	return id, true
}

// parseHex32 decodes a 32-byte hex field (tags, hashes). An empty string
// yields the zero value.
func parseHex32(s string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex field: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("hex field must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// parseHex64 decodes a 64-byte hex field (signatures)
func parseHex64(s string) ([64]byte, error) {
	var out [64]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("invalid hex field: %w", err)
	}
	if len(raw) != 64 {
		return out, fmt.Errorf("hex field must be 64 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
