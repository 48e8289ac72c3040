// Package services holds the inbox business rules: contact identity,
// conversation threading and triage, inbound ingestion, outbound sends,
// notes, users and search.
//
// This file centralizes the service-level error values. Handlers map them
// to HTTP status codes; services never speak HTTP.
package services

import (
	"errors"

	"github.com/tbourn/unified-inbox/internal/channels"
)

// Lookup errors.
var (
	ErrContactNotFound      = errors.New("contact not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUserNotFound         = errors.New("user not found")
)

// Validation errors.
var (
	// ErrContactIdentityRequired is returned when a contact would end up
	// with neither phone nor email.
	ErrContactIdentityRequired = errors.New("contact needs a phone or an email")

	ErrInvalidPhone = errors.New("invalid phone number")
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidName  = errors.New("invalid name")

	ErrInvalidChannel = errors.New("invalid channel")
	ErrInvalidState   = errors.New("invalid conversation state")
	ErrInvalidAction  = errors.New("invalid conversation action")
	ErrInvalidFilter  = errors.New("invalid workspace filter")

	ErrEmptyContent = errors.New("content is empty")
	ErrTooLong      = errors.New("content too long")
	ErrEmptyQuery   = errors.New("query is empty")

	// ErrMissingContactAttribute is returned when the contact cannot be
	// reached on the requested channel (no phone for SMS/WhatsApp, no
	// email for Email). Nothing is sent.
	ErrMissingContactAttribute = errors.New("contact has no address for this channel")
)

// Conflict errors.
var (
	// ErrContactConflict reports a phone or email already used by another
	// contact.
	ErrContactConflict = errors.New("contact with this phone or email already exists")

	// ErrConversationConflict reports an attempt to reopen a conversation
	// while the contact already has another active one.
	ErrConversationConflict = errors.New("contact already has an active conversation")
)

// Dispatch errors.
var (
	// ErrProviderNotConfigured is the channel adapters' sentinel, re-exported
	// so handlers only import services.
	ErrProviderNotConfigured = channels.ErrProviderNotConfigured

	// ErrDispatchFailed wraps provider failures. Nothing is persisted.
	ErrDispatchFailed = errors.New("dispatch failed")
)
