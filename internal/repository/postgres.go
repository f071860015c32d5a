package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/repository/model"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrPresenceNotFound     = errors.New("presence record not found")
	ErrUserNotFound         = errors.New("user not found")
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewPostgresConversationRepository(db *gorm.DB) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv == nil {
		return errors.New("conversation is nil")
	}

	return r.db.WithContext(ctx).Create(toModelConversation(conv)).Error
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conv model.Conversation
	err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	return toDomainConversation(&conv), nil
}

func (r *PostgresConversationRepository) Save(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv == nil {
		return errors.New("conversation is nil")
	}

	res := r.db.WithContext(ctx).Save(toModelConversation(conv))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var convs []model.Conversation
	// jsonb containment keeps the scan on the participants column.
	q := r.db.WithContext(ctx).Where("participants::jsonb @> ?", `["`+userID.String()+`"]`)
	if err := q.Order("updated_at desc").Find(&convs).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.Conversation, 0, len(convs))
	for i := range convs {
		result = append(result, toDomainConversation(&convs[i]))
	}
	return result, nil
}

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewPostgresMessageRepository(db *gorm.DB) *PostgresMessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	m := toModelMessage(msg)
	m.Seq = 0
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	msg.Seq = m.Seq
	return nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, msg *domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	res := r.db.WithContext(ctx).Save(toModelMessage(msg))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msg model.Message
	err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	return toDomainMessage(&msg), nil
}

func (r *PostgresMessageRepository) ListByConversation(ctx context.Context, convID uuid.UUID, limit int, beforeSeq int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	q := r.db.WithContext(ctx).Where("conversation_id = ?", convID)
	if beforeSeq > 0 {
		q = q.Where("seq < ?", beforeSeq)
	}

	var msgs []model.Message
	if err := q.Order("seq desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}

	// Reverse to ascending for the caller.
	result := make([]*domain.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		result = append(result, toDomainMessage(&msgs[i]))
	}
	return result, nil
}

func (r *PostgresMessageRepository) ListUnreadUpTo(ctx context.Context, convID uuid.UUID, reader uuid.UUID, cursor int64) ([]*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND seq <= ? AND sender_id <> ?", convID, cursor, reader).
		Order("seq asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Message, 0, len(msgs))
	for i := range msgs {
		dm := toDomainMessage(&msgs[i])
		if dm.IsReadBy(reader) {
			continue
		}
		result = append(result, dm)
	}
	return result, nil
}

type PostgresDocumentRepository struct {
	db *gorm.DB
}

func NewPostgresDocumentRepository(db *gorm.DB) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{db: db}
}

func (r *PostgresDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return errors.New("document is nil")
	}

	return r.db.WithContext(ctx).Create(toModelDocument(doc)).Error
}

func (r *PostgresDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc model.Document
	err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}

	return toDomainDocument(&doc), nil
}

func (r *PostgresDocumentRepository) Save(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc == nil {
		return errors.New("document is nil")
	}

	res := r.db.WithContext(ctx).Save(toModelDocument(doc))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *PostgresDocumentRepository) LoadBlob(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var doc model.Document
	err := r.db.WithContext(ctx).Select("state").First(&doc, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return doc.State, nil
}

func (r *PostgresDocumentRepository) SaveBlob(ctx context.Context, id uuid.UUID, blob []byte, modifiedBy uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	updates := map[string]any{
		"state":      blob,
		"updated_at": time.Now().UTC(),
	}
	if modifiedBy != uuid.Nil {
		updates["last_modified_by"] = modifiedBy
	}

	res := r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (r *PostgresDocumentRepository) ListByConversation(ctx context.Context, convID uuid.UUID) ([]*domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var docs []model.Document
	if err := r.db.WithContext(ctx).Where("conversation_id = ? AND active", convID).Find(&docs).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.Document, 0, len(docs))
	for i := range docs {
		result = append(result, toDomainDocument(&docs[i]))
	}
	return result, nil
}

type PostgresPresenceRepository struct {
	db *gorm.DB
}

func NewPostgresPresenceRepository(db *gorm.DB) *PostgresPresenceRepository {
	return &PostgresPresenceRepository{db: db}
}

func (r *PostgresPresenceRepository) Load(ctx context.Context, userID uuid.UUID) (*domain.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec model.Presence
	err := r.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPresenceNotFound
		}
		return nil, err
	}

	return toDomainPresence(&rec), nil
}

func (r *PostgresPresenceRepository) Save(ctx context.Context, rec *domain.PresenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("presence record is nil")
	}

	return r.db.WithContext(ctx).Save(toModelPresence(rec)).Error
}

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewPostgresUserRepository(db *gorm.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var user model.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return toDomainUser(&user), nil
}

func (r *PostgresUserRepository) Save(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if user == nil {
		return errors.New("user is nil")
	}

	return r.db.WithContext(ctx).Save(toModelUser(user)).Error
}
