package domain

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Document is a collaborative document owned by one conversation. State is
// the opaque serialized CRDT blob; the live replica lives in the collab
// service's registry, not here.
type Document struct {
	ID               uuid.UUID   `json:"id"`
	ConversationID   uuid.UUID   `json:"conversation_id"`
	Title            string      `json:"title"`
	FileType         string      `json:"file_type"`
	CreatorID        uuid.UUID   `json:"creator_id"`
	Participants     []uuid.UUID `json:"participants"`
	ParticipantNames []string    `json:"participant_names"`
	State            []byte      `json:"-"`
	Active           bool        `json:"active"`
	LastModifiedBy   uuid.UUID   `json:"last_modified_by,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

func NewDocument(conversationID uuid.UUID, title, fileType string, creator uuid.UUID, creatorName string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:               uuid.New(),
		ConversationID:   conversationID,
		Title:            title,
		FileType:         fileType,
		CreatorID:        creator,
		Participants:     []uuid.UUID{creator},
		ParticipantNames: []string{creatorName},
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (d *Document) HasParticipant(userID uuid.UUID) bool {
	for _, id := range d.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

func (d *Document) AddParticipant(userID uuid.UUID, name string) {
	if d.HasParticipant(userID) {
		return
	}
	d.Participants = append(d.Participants, userID)
	d.ParticipantNames = append(d.ParticipantNames, name)
}

var awarenessPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// AwarenessColor derives a stable display color for a user's cursor from a
// hash of the user id.
func AwarenessColor(userID uuid.UUID) string {
	h := fnv.New32a()
	fmt.Fprint(h, userID.String())
	return awarenessPalette[h.Sum32()%uint32(len(awarenessPalette))]
}
