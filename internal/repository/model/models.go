package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	Participants     []uuid.UUID                 `gorm:"serializer:json;not null"`
	ParticipantNames []string                    `gorm:"serializer:json;not null"`
	IsGroup          bool                        `gorm:"not null"`
	GroupName        string                      `gorm:"size:255"`
	CreatorID        uuid.UUID                   `gorm:"type:uuid"`
	LastMessage      *LastMessage                `gorm:"serializer:json"`
	Meta             map[string]*ParticipantMeta `gorm:"serializer:json"`
	CreatedAt        time.Time                   `gorm:"not null"`
	UpdatedAt        time.Time
}

type LastMessage struct {
	MessageID  uuid.UUID `json:"message_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

type ParticipantMeta struct {
	Unread     int        `json:"unread"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	Archived   bool       `json:"archived"`
	Muted      bool       `json:"muted"`
	JoinedAt   time.Time  `json:"joined_at"`
}

type Message struct {
	Seq            int64         `gorm:"primaryKey;autoIncrement"`
	ID             uuid.UUID     `gorm:"type:uuid;uniqueIndex;not null"`
	ConversationID uuid.UUID     `gorm:"type:uuid;index;not null"`
	SenderID       uuid.UUID     `gorm:"type:uuid;index;not null"`
	SenderName     string        `gorm:"size:255;not null"`
	Content        string        `gorm:"type:text"`
	Attachments    []Attachment  `gorm:"serializer:json"`
	ReplyTo        *ReplyRef     `gorm:"serializer:json"`
	Status         string        `gorm:"size:16;not null"`
	ReadBy         []ReadReceipt `gorm:"serializer:json"`
	Reactions      []Reaction    `gorm:"serializer:json"`
	Deleted        bool          `gorm:"not null"`
	DeletedBy      *uuid.UUID    `gorm:"type:uuid"`
	DeletedAt      *time.Time
	EditedAt       *time.Time
	CreatedAt      time.Time `gorm:"index;not null"`
}

type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type ReplyRef struct {
	MessageID  uuid.UUID `json:"message_id"`
	Content    string    `json:"content"`
	SenderName string    `json:"sender_name"`
}

type ReadReceipt struct {
	UserID uuid.UUID `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

type ReactionUser struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	ReactedAt time.Time `json:"reacted_at"`
}

type Reaction struct {
	Emoji string         `json:"emoji"`
	Users []ReactionUser `json:"users"`
}

type Document struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey"`
	ConversationID   uuid.UUID   `gorm:"type:uuid;index;not null"`
	Title            string      `gorm:"size:255;not null"`
	FileType         string      `gorm:"size:64"`
	CreatorID        uuid.UUID   `gorm:"type:uuid;not null"`
	Participants     []uuid.UUID `gorm:"serializer:json"`
	ParticipantNames []string    `gorm:"serializer:json"`
	State            []byte      `gorm:"type:bytea"`
	Active           bool        `gorm:"not null"`
	LastModifiedBy   *uuid.UUID  `gorm:"type:uuid"`
	CreatedAt        time.Time   `gorm:"not null"`
	UpdatedAt        time.Time   `gorm:"not null"`
}

type Presence struct {
	UserID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:255"`
	Status       string    `gorm:"size:16;not null"`
	CustomStatus string    `gorm:"size:255"`
	DND          bool      `gorm:"not null"`
	DNDExpiresAt *time.Time
	DNDMessage   string    `gorm:"size:255"`
	LastSeen     time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:255;not null"`
	Email     *string   `gorm:"size:255;uniqueIndex:idx_users_email,where:email IS NOT NULL"`
	Role      string    `gorm:"size:32"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
