package domain

import "strings"

// Channel is the transport a message travels over.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelEmail    Channel = "EMAIL"
)

// ParseChannel accepts any casing and surrounding whitespace.
func ParseChannel(s string) (Channel, bool) {
	switch c := Channel(strings.ToUpper(strings.TrimSpace(s))); c {
	case ChannelSMS, ChannelWhatsApp, ChannelEmail:
		return c, true
	}
	return "", false
}

// UsesPhone reports whether the channel addresses contacts by phone number.
func (c Channel) UsesPhone() bool { return c == ChannelSMS || c == ChannelWhatsApp }

// Direction tells inbound traffic from messages the team sent.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// MessageStatus is the normalized delivery state of a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "PENDING"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusFailed    MessageStatus = "FAILED"
)

// rank orders the non-failure statuses along the delivery pipeline.
func (s MessageStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusSent:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	}
	return 0
}

// CanAdvanceTo reports whether a delivery receipt carrying next may replace s.
// Statuses only move forward; FAILED is accepted until the message has been
// delivered or read.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	if next == s {
		return false
	}
	if next == StatusFailed {
		return s != StatusDelivered && s != StatusRead
	}
	if s == StatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// ConversationState is the triage state of a conversation.
type ConversationState string

const (
	StateOpen    ConversationState = "OPEN"
	StateWaiting ConversationState = "WAITING"
	StateClosed  ConversationState = "CLOSED"
)

// ParseConversationState accepts any casing and surrounding whitespace.
func ParseConversationState(s string) (ConversationState, bool) {
	switch st := ConversationState(strings.ToUpper(strings.TrimSpace(s))); st {
	case StateOpen, StateWaiting, StateClosed:
		return st, true
	}
	return "", false
}

// Role is a team member's permission level.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleAgent Role = "AGENT"
)

// ParseRole maps unknown values to RoleAgent.
func ParseRole(s string) Role {
	if Role(strings.ToUpper(strings.TrimSpace(s))) == RoleAdmin {
		return RoleAdmin
	}
	return RoleAgent
}
