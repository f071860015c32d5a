package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrParticipantMismatch = errors.New("participant list and name list must align")

// ParticipantMeta is the per-participant view of a conversation.
type ParticipantMeta struct {
	Unread     int        `json:"unread"`
	LastReadAt *time.Time `json:"last_read_at,omitempty"`
	Archived   bool       `json:"archived"`
	Muted      bool       `json:"muted"`
	JoinedAt   time.Time  `json:"joined_at"`
}

// LastMessage is the denormalized summary shown in conversation lists.
type LastMessage struct {
	MessageID  uuid.UUID `json:"message_id"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

// Conversation is a direct or group chat. Participants and ParticipantNames
// are equal-length and index-aligned; every participant has a Meta entry.
type Conversation struct {
	ID               uuid.UUID                      `json:"id"`
	Participants     []uuid.UUID                    `json:"participants"`
	ParticipantNames []string                       `json:"participant_names"`
	IsGroup          bool                           `json:"is_group"`
	GroupName        string                         `json:"group_name,omitempty"`
	CreatorID        uuid.UUID                      `json:"creator_id"`
	LastMessage      *LastMessage                   `json:"last_message,omitempty"`
	Meta             map[uuid.UUID]*ParticipantMeta `json:"meta"`
	CreatedAt        time.Time                      `json:"created_at"`
}

func NewConversation(participants []uuid.UUID, names []string, isGroup bool, groupName string, creator uuid.UUID) (*Conversation, error) {
	if len(participants) != len(names) {
		return nil, ErrParticipantMismatch
	}
	if len(participants) < 2 {
		return nil, errors.New("conversation requires at least two participants")
	}

	now := time.Now().UTC()
	meta := make(map[uuid.UUID]*ParticipantMeta, len(participants))
	for _, id := range participants {
		meta[id] = &ParticipantMeta{JoinedAt: now}
	}

	return &Conversation{
		ID:               uuid.New(),
		Participants:     participants,
		ParticipantNames: names,
		IsGroup:          isGroup,
		GroupName:        groupName,
		CreatorID:        creator,
		Meta:             meta,
		CreatedAt:        now,
	}, nil
}

func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, id := range c.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// ApplyMessage records a freshly sent message: updates the last-message
// summary and increments unread for every participant except the sender.
func (c *Conversation) ApplyMessage(msg *Message) {
	c.LastMessage = &LastMessage{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		SentAt:     msg.CreatedAt,
	}
	for id, meta := range c.Meta {
		if id == msg.SenderID {
			continue
		}
		meta.Unread++
	}
}

// MarkRead resets the reader's unread counter and records the read time.
func (c *Conversation) MarkRead(reader uuid.UUID, at time.Time) {
	meta, ok := c.Meta[reader]
	if !ok {
		return
	}
	meta.Unread = 0
	t := at
	meta.LastReadAt = &t
}
