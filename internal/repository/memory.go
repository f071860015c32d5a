package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
)

type InMemoryConversationRepository struct {
	mu    sync.RWMutex
	convs map[uuid.UUID]*domain.Conversation
}

func NewInMemoryConversationRepository() *InMemoryConversationRepository {
	return &InMemoryConversationRepository{convs: make(map[uuid.UUID]*domain.Conversation)}
}

func (r *InMemoryConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv == nil {
		return errors.New("conversation is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[conv.ID] = cloneConversation(conv)
	return nil
}

func (r *InMemoryConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (r *InMemoryConversationRepository) Save(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv == nil {
		return errors.New("conversation is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[conv.ID]; !ok {
		return ErrConversationNotFound
	}
	r.convs[conv.ID] = cloneConversation(conv)
	return nil
}

func (r *InMemoryConversationRepository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Conversation
	for _, conv := range r.convs {
		if conv.HasParticipant(userID) {
			result = append(result, cloneConversation(conv))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ti, tj := result[i].CreatedAt, result[j].CreatedAt
		if result[i].LastMessage != nil {
			ti = result[i].LastMessage.SentAt
		}
		if result[j].LastMessage != nil {
			tj = result[j].LastMessage.SentAt
		}
		return ti.After(tj)
	})
	return result, nil
}

type InMemoryMessageRepository struct {
	mu      sync.RWMutex
	nextSeq int64
	byID    map[uuid.UUID]*domain.Message
	byConv  map[uuid.UUID][]*domain.Message
}

func NewInMemoryMessageRepository() *InMemoryMessageRepository {
	return &InMemoryMessageRepository{
		byID:   make(map[uuid.UUID]*domain.Message),
		byConv: make(map[uuid.UUID][]*domain.Message),
	}
}

func (r *InMemoryMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSeq++
	msg.Seq = r.nextSeq
	stored := cloneMessage(msg)
	r.byID[stored.ID] = stored
	r.byConv[stored.ConversationID] = append(r.byConv[stored.ConversationID], stored)
	return nil
}

func (r *InMemoryMessageRepository) Update(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[msg.ID]; !ok {
		return ErrMessageNotFound
	}
	stored := cloneMessage(msg)
	r.byID[stored.ID] = stored
	msgs := r.byConv[stored.ConversationID]
	for i, m := range msgs {
		if m.ID == stored.ID {
			msgs[i] = stored
			break
		}
	}
	return nil
}

func (r *InMemoryMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (r *InMemoryMessageRepository) ListByConversation(ctx context.Context, convID uuid.UUID, limit int, beforeSeq int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.byConv[convID]

	var eligible []*domain.Message
	for _, m := range msgs {
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		eligible = append(eligible, m)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Seq < eligible[j].Seq })
	if len(eligible) > limit {
		eligible = eligible[len(eligible)-limit:]
	}
	out := make([]*domain.Message, len(eligible))
	for i, m := range eligible {
		out[i] = cloneMessage(m)
	}
	return out, nil
}

func (r *InMemoryMessageRepository) ListUnreadUpTo(ctx context.Context, convID uuid.UUID, reader uuid.UUID, cursor int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Message
	for _, m := range r.byConv[convID] {
		if m.Seq > cursor || m.SenderID == reader || m.IsReadBy(reader) {
			continue
		}
		result = append(result, cloneMessage(m))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

type InMemoryDocumentRepository struct {
	mu   sync.RWMutex
	docs map[uuid.UUID]*domain.Document
}

func NewInMemoryDocumentRepository() *InMemoryDocumentRepository {
	return &InMemoryDocumentRepository{docs: make(map[uuid.UUID]*domain.Document)}
}

func (r *InMemoryDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return errors.New("document is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *InMemoryDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (r *InMemoryDocumentRepository) Save(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return errors.New("document is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return ErrDocumentNotFound
	}
	r.docs[doc.ID] = cloneDocument(doc)
	return nil
}

func (r *InMemoryDocumentRepository) LoadBlob(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	blob := make([]byte, len(doc.State))
	copy(blob, doc.State)
	return blob, nil
}

func (r *InMemoryDocumentRepository) SaveBlob(ctx context.Context, id uuid.UUID, blob []byte, modifiedBy uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return ErrDocumentNotFound
	}
	doc.State = make([]byte, len(blob))
	copy(doc.State, blob)
	if modifiedBy != uuid.Nil {
		doc.LastModifiedBy = modifiedBy
	}
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryDocumentRepository) ListByConversation(ctx context.Context, convID uuid.UUID) ([]*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Document
	for _, doc := range r.docs {
		if doc.ConversationID == convID && doc.Active {
			result = append(result, cloneDocument(doc))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type InMemoryPresenceRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.PresenceRecord
}

func NewInMemoryPresenceRepository() *InMemoryPresenceRepository {
	return &InMemoryPresenceRepository{records: make(map[uuid.UUID]*domain.PresenceRecord)}
}

func (r *InMemoryPresenceRepository) Load(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[userID]
	if !ok {
		return nil, ErrPresenceNotFound
	}
	return clonePresenceRecord(rec), nil
}

func (r *InMemoryPresenceRepository) Save(ctx context.Context, rec *domain.PresenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("presence record is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.UserID] = clonePresenceRecord(rec)
	return nil
}

type InMemoryUserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{users: make(map[uuid.UUID]*domain.User)}
}

func (r *InMemoryUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *InMemoryUserRepository) Save(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

// The in-memory repositories copy on every boundary crossing, matching the
// row-marshalling Postgres implementations: a pointer handed out is never the
// stored one, so callers can mutate their copy without synchronizing with
// other requests.

func cloneConversation(conv *domain.Conversation) *domain.Conversation {
	clone := *conv
	clone.Participants = append([]uuid.UUID(nil), conv.Participants...)
	clone.ParticipantNames = append([]string(nil), conv.ParticipantNames...)
	if conv.LastMessage != nil {
		last := *conv.LastMessage
		clone.LastMessage = &last
	}
	clone.Meta = make(map[uuid.UUID]*domain.ParticipantMeta, len(conv.Meta))
	for id, meta := range conv.Meta {
		m := *meta
		if meta.LastReadAt != nil {
			t := *meta.LastReadAt
			m.LastReadAt = &t
		}
		clone.Meta[id] = &m
	}
	return &clone
}

func cloneMessage(msg *domain.Message) *domain.Message {
	clone := *msg
	clone.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
	clone.ReadBy = append([]domain.ReadReceipt(nil), msg.ReadBy...)
	clone.Reactions = make([]domain.Reaction, len(msg.Reactions))
	for i, reaction := range msg.Reactions {
		clone.Reactions[i] = domain.Reaction{
			Emoji: reaction.Emoji,
			Users: append([]domain.ReactionUser(nil), reaction.Users...),
		}
	}
	if msg.ReplyTo != nil {
		ref := *msg.ReplyTo
		clone.ReplyTo = &ref
	}
	if msg.DeletedAt != nil {
		t := *msg.DeletedAt
		clone.DeletedAt = &t
	}
	if msg.EditedAt != nil {
		t := *msg.EditedAt
		clone.EditedAt = &t
	}
	return &clone
}

func cloneDocument(doc *domain.Document) *domain.Document {
	clone := *doc
	clone.Participants = append([]uuid.UUID(nil), doc.Participants...)
	clone.ParticipantNames = append([]string(nil), doc.ParticipantNames...)
	clone.State = append([]byte(nil), doc.State...)
	return &clone
}

// clonePresenceRecord copies the durable subset only, like the Postgres rows:
// live connections and devices never survive the boundary, so a loaded record
// always starts with empty maps. Callers hold the record lock around Save.
func clonePresenceRecord(rec *domain.PresenceRecord) *domain.PresenceRecord {
	return &domain.PresenceRecord{
		UserID:       rec.UserID,
		Username:     rec.Username,
		Status:       rec.Status,
		CustomStatus: rec.CustomStatus,
		Connections:  make(map[string]struct{}),
		Devices:      make(map[string]domain.Device),
		DND:          rec.DND,
		DNDExpiresAt: rec.DNDExpiresAt,
		DNDMessage:   rec.DNDMessage,
		LastSeen:     rec.LastSeen,
	}
}
