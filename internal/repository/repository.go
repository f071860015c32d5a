// Package repository is the persistence collaborator boundary. Every
// operation is fallible and retryable by the caller; no retry policy lives in
// this layer's consumers.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
)

type ConversationRepository interface {
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	Save(ctx context.Context, conv *domain.Conversation) error
	ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error)
}

type MessageRepository interface {
	// Save persists a new message and assigns its Seq ordinal.
	Save(ctx context.Context, msg *domain.Message) error
	Update(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ListByConversation(ctx context.Context, convID uuid.UUID, limit int, beforeSeq int64) ([]*domain.Message, error)
	// ListUnreadUpTo returns messages in the conversation with Seq <= cursor,
	// not sent by reader and not yet read by reader, in Seq order.
	ListUnreadUpTo(ctx context.Context, convID uuid.UUID, reader uuid.UUID, cursor int64) ([]*domain.Message, error)
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	Save(ctx context.Context, doc *domain.Document) error
	LoadBlob(ctx context.Context, id uuid.UUID) ([]byte, error)
	SaveBlob(ctx context.Context, id uuid.UUID, blob []byte, modifiedBy uuid.UUID) error
	ListByConversation(ctx context.Context, convID uuid.UUID) ([]*domain.Document, error)
}

type PresenceRepository interface {
	Load(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error)
	Save(ctx context.Context, rec *domain.PresenceRecord) error
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	Save(ctx context.Context, user *domain.User) error
}
