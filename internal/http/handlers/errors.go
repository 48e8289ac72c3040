// Package handlers defines the HTTP-layer error codes used across the API.
//
// Codes are lowercase snake_case. Generic ones mirror HTTP semantics;
// domain ones (missing_contact_attribute, provider_not_configured,
// dispatch_failed, invalid_signature) name inbox failures that a status
// alone cannot convey. Clients branch on the code, not the message.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/unified-inbox/internal/services"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeListFailed              = "list_failed"
	ErrCodeCreateFailed            = "create_failed"
	ErrCodeUpdateFailed            = "update_failed"
	ErrCodeMissingContactAttribute = "missing_contact_attribute"
	ErrCodeProviderNotConfigured   = "provider_not_configured"
	ErrCodeDispatchFailed          = "dispatch_failed"
	ErrCodeInvalidSignature        = "invalid_signature"
)

// badRequests are service errors whose message is safe to echo as a 400.
var badRequests = []error{
	services.ErrContactIdentityRequired,
	services.ErrInvalidPhone,
	services.ErrInvalidEmail,
	services.ErrInvalidName,
	services.ErrInvalidChannel,
	services.ErrInvalidState,
	services.ErrInvalidAction,
	services.ErrInvalidFilter,
	services.ErrEmptyContent,
	services.ErrTooLong,
	services.ErrEmptyQuery,
}

var notFounds = []error{
	services.ErrContactNotFound,
	services.ErrConversationNotFound,
	services.ErrMessageNotFound,
	services.ErrUserNotFound,
}

// failService maps a service error to the envelope. fallback is the code
// used for unexpected (storage) errors, e.g. list_failed.
func failService(c *gin.Context, err error, fallback string) {
	for _, e := range badRequests {
		if errors.Is(err, e) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, e.Error())
			return
		}
	}
	for _, e := range notFounds {
		if errors.Is(err, e) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, e.Error())
			return
		}
	}

	switch {
	case errors.Is(err, services.ErrContactConflict),
		errors.Is(err, services.ErrConversationConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrMissingContactAttribute):
		fail(c, http.StatusBadRequest, ErrCodeMissingContactAttribute, err.Error())
	case errors.Is(err, services.ErrProviderNotConfigured):
		fail(c, http.StatusServiceUnavailable, ErrCodeProviderNotConfigured, "provider not configured for this channel")
	case errors.Is(err, services.ErrDispatchFailed):
		fail(c, http.StatusBadGateway, ErrCodeDispatchFailed, err.Error())
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, fallback, "internal error")
	}
}
