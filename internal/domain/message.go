package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// AllowedReactions is the fixed server-side emoji allow-list.
var AllowedReactions = map[string]struct{}{
	"👍": {},
	"❤️": {},
	"😂": {},
	"😮": {},
	"😢": {},
	"🙏": {},
}

func IsAllowedReaction(emoji string) bool {
	_, ok := AllowedReactions[emoji]
	return ok
}

type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// ReplyRef points at the message being replied to, with a truncated preview.
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

// Reaction groups the users behind one emoji. At most one entry per emoji;
// a user appears at most once per emoji.
type Reaction struct {
	Emoji string         `json:"emoji"`
	Users []ReactionUser `json:"users"`
}

// Message belongs to exactly one conversation. Seq is the repository-assigned
// monotonic ordinal used as the mark-read cursor.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	Seq            int64         `json:"seq"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id"`
	SenderName     string        `json:"sender_name"`
	Content        string        `json:"content"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	ReplyTo        *ReplyRef     `json:"reply_to,omitempty"`
	Status         MessageStatus `json:"status"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	Deleted        bool          `json:"deleted"`
	DeletedBy      uuid.UUID     `json:"deleted_by,omitempty"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

func NewMessage(conversationID, senderID uuid.UUID, senderName, content string, attachments []Attachment, replyTo *ReplyRef) *Message {
	return &Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Content:        content,
		Attachments:    attachments,
		ReplyTo:        replyTo,
		Status:         MessageSent,
		CreatedAt:      time.Now().UTC(),
	}
}

// ToggleReaction applies the idempotent-reversible (emoji, user) toggle:
// absent → append, present → remove, empty emoji entry → drop the entry.
// Returns true when the reaction was added.
func (m *Message) ToggleReaction(emoji string, userID uuid.UUID, name string, at time.Time) bool {
	for i := range m.Reactions {
		if m.Reactions[i].Emoji != emoji {
			continue
		}
		users := m.Reactions[i].Users
		for j, u := range users {
			if u.UserID == userID {
				users = append(users[:j], users[j+1:]...)
				if len(users) == 0 {
					m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				} else {
					m.Reactions[i].Users = users
				}
				return false
			}
		}
		m.Reactions[i].Users = append(users, ReactionUser{UserID: userID, Name: name, ReactedAt: at})
		return true
	}

	m.Reactions = append(m.Reactions, Reaction{
		Emoji: emoji,
		Users: []ReactionUser{{UserID: userID, Name: name, ReactedAt: at}},
	})
	return true
}

func (m *Message) IsReadBy(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkReadBy appends a read receipt for the reader and promotes the message
// status to read. No-op when the reader already has a receipt.
func (m *Message) MarkReadBy(userID uuid.UUID, at time.Time) bool {
	if m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	m.Status = MessageRead
	return true
}
