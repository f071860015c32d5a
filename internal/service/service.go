package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/kestrelchat/kestrel/internal/domain"
)

// Fanout is the multicast primitive every handler shares. The hub implements
// it; tests substitute a recording fake.
type Fanout interface {
	Join(room string, conn *domain.Connection)
	Leave(room string, connID string)
	Broadcast(room string, event domain.Event, excludeConnID string)
	BroadcastAll(event domain.Event)
	SendToUser(userID uuid.UUID, event domain.Event)
	IsOnline(userID uuid.UUID) bool
}

type IdentityInteractor interface {
	EnsureUser(ctx context.Context, id uuid.UUID, name, role string) (*domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type PresenceInteractor interface {
	Connect(ctx context.Context, conn *domain.Connection) error
	Disconnect(ctx context.Context, conn *domain.Connection) error
	UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, customStatus string) error
	Heartbeat(ctx context.Context, conn *domain.Connection) error
	SetDND(ctx context.Context, userID uuid.UUID, enabled bool, expiry time.Duration, message string) error
	GoOffline(ctx context.Context, userID uuid.UUID) error
	DNDActive(userID uuid.UUID) bool
	Snapshot(userIDs []uuid.UUID) []PresenceInfo
}

type ChatInteractor interface {
	CreateConversation(ctx context.Context, creatorID uuid.UUID, participants []uuid.UUID, names []string, isGroup bool, groupName string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
	ListMessages(ctx context.Context, userID, convID uuid.UUID, limit int, beforeSeq int64) ([]*domain.Message, error)
	JoinConversationRooms(ctx context.Context, conn *domain.Connection) error
	JoinConversation(ctx context.Context, conn *domain.Connection, convID uuid.UUID) error
	SendMessage(ctx context.Context, sender *domain.Connection, convID uuid.UUID, content string, attachments []domain.Attachment, replyTo *domain.ReplyRef, clientMessageID string) (*domain.Message, error)
	Typing(ctx context.Context, sender *domain.Connection, convID uuid.UUID, typing bool) error
	MarkRead(ctx context.Context, reader *domain.Connection, convID uuid.UUID, upToSeq int64) error
	EditMessage(ctx context.Context, editor *domain.Connection, messageID uuid.UUID, content string) (*domain.Message, error)
	DeleteMessage(ctx context.Context, deleter *domain.Connection, messageID uuid.UUID) error
	ToggleReaction(ctx context.Context, reactor *domain.Connection, messageID uuid.UUID, emoji string) error
}

type CollabInteractor interface {
	CreateDocument(ctx context.Context, creator *domain.Connection, convID uuid.UUID, title, fileType string) (*domain.Document, error)
	JoinDocument(ctx context.Context, conn *domain.Connection, docID uuid.UUID) (*domain.Document, []byte, error)
	Sync(ctx context.Context, conn *domain.Connection, docID uuid.UUID, update []byte) error
	LeaveDocument(ctx context.Context, conn *domain.Connection, docID uuid.UUID) error
	Awareness(ctx context.Context, conn *domain.Connection, docID uuid.UUID, payload map[string]any) error
	ListDocuments(ctx context.Context, userID, convID uuid.UUID) ([]*domain.Document, error)
	Flush(ctx context.Context)
}

type CallInteractor interface {
	Initiate(ctx context.Context, caller *domain.Connection, targetID uuid.UUID, media domain.MediaType, sdp *webrtc.SessionDescription) (*domain.CallSession, error)
	Accept(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error
	Reject(ctx context.Context, conn *domain.Connection, callID uuid.UUID, reason string) error
	Offer(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error
	Answer(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error
	Candidate(ctx context.Context, conn *domain.Connection, callID uuid.UUID, candidate *webrtc.ICECandidateInit) error
	End(ctx context.Context, conn *domain.Connection, callID uuid.UUID) error
	ToggleMedia(ctx context.Context, conn *domain.Connection, callID uuid.UUID, media domain.MediaType, enabled bool) error
	HangupUser(ctx context.Context, userID uuid.UUID) error
	ActiveSession(userID uuid.UUID) *domain.CallSession
}

// PresenceInfo is the read-only presence projection served over REST.
type PresenceInfo struct {
	UserID       uuid.UUID             `json:"user_id"`
	Username     string                `json:"username"`
	Status       domain.PresenceStatus `json:"status"`
	CustomStatus string                `json:"custom_status,omitempty"`
	DND          bool                  `json:"dnd"`
	LastSeen     time.Time             `json:"last_seen"`
}
