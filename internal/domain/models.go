// Package domain defines the persistence models for the unified inbox:
// contacts, the conversations threaded per contact, the message ledger,
// internal notes and the team members who work the inbox. These types are
// mapped with GORM and shared by the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// User is a team member working the inbox. IDs come from the identity
// provider (JWT subject) and are therefore free-form strings.
type User struct {
	ID        string    `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"            gorm:"type:varchar(120);not null;default:''"`
	Email     *string   `json:"email,omitempty" gorm:"type:varchar(255)"`
	Role      Role      `json:"role"            gorm:"type:varchar(16);not null;default:'AGENT'"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Contact is an external party reachable over one or more channels.
//
// Phone and Email are independently unique. At least one of them is always
// set; the service layer rejects contacts with neither.
type Contact struct {
	ID              string     `json:"id"                        gorm:"type:char(36);primaryKey"`
	Name            *string    `json:"name,omitempty"            gorm:"type:varchar(255)"`
	Email           *string    `json:"email,omitempty"           gorm:"type:varchar(255);uniqueIndex:ux_contacts_email"`
	Phone           *string    `json:"phone,omitempty"           gorm:"type:varchar(32);uniqueIndex:ux_contacts_phone"`
	LastContactedAt *time.Time `json:"lastContactedAt,omitempty" gorm:"index"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Conversation is the thread of messages exchanged with a contact.
//
// At most one conversation per contact is in a non-CLOSED state; the
// migration adds a partial unique index for it (see repo.AutoMigrate).
type Conversation struct {
	ID            string            `json:"id"                     gorm:"type:char(36);primaryKey"`
	ContactID     string            `json:"contactId"              gorm:"type:char(36);not null;index:idx_conv_contact_created,priority:1"`
	State         ConversationState `json:"state"                  gorm:"type:varchar(16);not null;default:'OPEN';index;check:state IN ('OPEN','WAITING','CLOSED')"`
	AssignedToID  *string           `json:"assignedToId,omitempty" gorm:"type:varchar(64);index"`
	LastMessageAt time.Time         `json:"lastMessageAt"          gorm:"index"`
	LastReadAt    *time.Time        `json:"lastReadAt,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"              gorm:"index:idx_conv_contact_created,priority:2"`
	UpdatedAt     time.Time         `json:"updatedAt"`

	Contact    *Contact `json:"contact,omitempty"    gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	AssignedTo *User    `json:"assignedTo,omitempty" gorm:"foreignKey:AssignedToID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message is a single entry of the ledger. Rows are immutable except for
// Status, which delivery receipts move forward.
//
// (Channel, ExternalID) is unique when ExternalID is set; it is the only
// de-duplication key for provider retries.
type Message struct {
	ID             string         `json:"id"                   gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversationId"       gorm:"type:char(36);not null;index:idx_msg_conv_created,priority:1"`
	ContactID      string         `json:"contactId"            gorm:"type:char(36);not null;index"`
	Channel        Channel        `json:"channel"              gorm:"type:varchar(16);not null;uniqueIndex:ux_messages_channel_external,priority:1;check:channel IN ('SMS','WHATSAPP','EMAIL')"`
	Content        string         `json:"content"              gorm:"type:text;not null"`
	Direction      Direction      `json:"direction"            gorm:"type:varchar(16);not null;check:direction IN ('INBOUND','OUTBOUND')"`
	Status         MessageStatus  `json:"status"               gorm:"type:varchar(16);not null;check:status IN ('PENDING','SENT','DELIVERED','READ','FAILED')"`
	ExternalID     *string        `json:"externalId,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_messages_channel_external,priority:2"`
	UserID         *string        `json:"userId,omitempty"     gorm:"type:varchar(64);index"`
	Metadata       datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"            gorm:"index:idx_msg_conv_created,priority:2"`
	UpdatedAt      time.Time      `json:"updatedAt"`

	Conversation *Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Note is an internal, append-only annotation on a contact.
type Note struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	ContactID string    `json:"contactId" gorm:"type:char(36);not null;index:idx_notes_contact_created,priority:1"`
	UserID    string    `json:"userId"    gorm:"type:varchar(64);not null"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" gorm:"index:idx_notes_contact_created,priority:2"`

	Contact *Contact `json:"-"              gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User    *User    `json:"user,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for Note.
func (Note) TableName() string { return "notes" }
