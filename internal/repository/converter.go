package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/repository/model"
)

func toModelConversation(conv *domain.Conversation) *model.Conversation {
	meta := make(map[string]*model.ParticipantMeta, len(conv.Meta))
	for id, m := range conv.Meta {
		meta[id.String()] = &model.ParticipantMeta{
			Unread:     m.Unread,
			LastReadAt: m.LastReadAt,
			Archived:   m.Archived,
			Muted:      m.Muted,
			JoinedAt:   m.JoinedAt,
		}
	}

	out := &model.Conversation{
		ID:               conv.ID,
		Participants:     conv.Participants,
		ParticipantNames: conv.ParticipantNames,
		IsGroup:          conv.IsGroup,
		GroupName:        conv.GroupName,
		CreatorID:        conv.CreatorID,
		Meta:             meta,
		CreatedAt:        conv.CreatedAt,
	}
	if conv.LastMessage != nil {
		out.LastMessage = &model.LastMessage{
			MessageID:  conv.LastMessage.MessageID,
			SenderID:   conv.LastMessage.SenderID,
			SenderName: conv.LastMessage.SenderName,
			Content:    conv.LastMessage.Content,
			SentAt:     conv.LastMessage.SentAt,
		}
	}
	return out
}

func toDomainConversation(conv *model.Conversation) *domain.Conversation {
	meta := make(map[uuid.UUID]*domain.ParticipantMeta, len(conv.Meta))
	for key, m := range conv.Meta {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		meta[id] = &domain.ParticipantMeta{
			Unread:     m.Unread,
			LastReadAt: m.LastReadAt,
			Archived:   m.Archived,
			Muted:      m.Muted,
			JoinedAt:   m.JoinedAt,
		}
	}

	out := &domain.Conversation{
		ID:               conv.ID,
		Participants:     conv.Participants,
		ParticipantNames: conv.ParticipantNames,
		IsGroup:          conv.IsGroup,
		GroupName:        conv.GroupName,
		CreatorID:        conv.CreatorID,
		Meta:             meta,
		CreatedAt:        conv.CreatedAt,
	}
	if conv.LastMessage != nil {
		out.LastMessage = &domain.LastMessage{
			MessageID:  conv.LastMessage.MessageID,
			SenderID:   conv.LastMessage.SenderID,
			SenderName: conv.LastMessage.SenderName,
			Content:    conv.LastMessage.Content,
			SentAt:     conv.LastMessage.SentAt,
		}
	}
	return out
}

func toModelMessage(msg *domain.Message) *model.Message {
	out := &model.Message{
		Seq:            msg.Seq,
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Status:         string(msg.Status),
		Deleted:        msg.Deleted,
		DeletedAt:      msg.DeletedAt,
		EditedAt:       msg.EditedAt,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.DeletedBy != uuid.Nil {
		deletedBy := msg.DeletedBy
		out.DeletedBy = &deletedBy
	}
	for _, a := range msg.Attachments {
		out.Attachments = append(out.Attachments, model.Attachment(a))
	}
	if msg.ReplyTo != nil {
		ref := model.ReplyRef(*msg.ReplyTo)
		out.ReplyTo = &ref
	}
	for _, r := range msg.ReadBy {
		out.ReadBy = append(out.ReadBy, model.ReadReceipt(r))
	}
	for _, r := range msg.Reactions {
		users := make([]model.ReactionUser, 0, len(r.Users))
		for _, u := range r.Users {
			users = append(users, model.ReactionUser(u))
		}
		out.Reactions = append(out.Reactions, model.Reaction{Emoji: r.Emoji, Users: users})
	}
	return out
}

func toDomainMessage(msg *model.Message) *domain.Message {
	out := &domain.Message{
		ID:             msg.ID,
		Seq:            msg.Seq,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Status:         domain.MessageStatus(msg.Status),
		Deleted:        msg.Deleted,
		DeletedAt:      msg.DeletedAt,
		EditedAt:       msg.EditedAt,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.DeletedBy != nil {
		out.DeletedBy = *msg.DeletedBy
	}
	for _, a := range msg.Attachments {
		out.Attachments = append(out.Attachments, domain.Attachment(a))
	}
	if msg.ReplyTo != nil {
		ref := domain.ReplyRef(*msg.ReplyTo)
		out.ReplyTo = &ref
	}
	for _, r := range msg.ReadBy {
		out.ReadBy = append(out.ReadBy, domain.ReadReceipt(r))
	}
	for _, r := range msg.Reactions {
		users := make([]domain.ReactionUser, 0, len(r.Users))
		for _, u := range r.Users {
			users = append(users, domain.ReactionUser(u))
		}
		out.Reactions = append(out.Reactions, domain.Reaction{Emoji: r.Emoji, Users: users})
	}
	return out
}

func toModelDocument(doc *domain.Document) *model.Document {
	out := &model.Document{
		ID:               doc.ID,
		ConversationID:   doc.ConversationID,
		Title:            doc.Title,
		FileType:         doc.FileType,
		CreatorID:        doc.CreatorID,
		Participants:     doc.Participants,
		ParticipantNames: doc.ParticipantNames,
		State:            doc.State,
		Active:           doc.Active,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.LastModifiedBy != uuid.Nil {
		modifiedBy := doc.LastModifiedBy
		out.LastModifiedBy = &modifiedBy
	}
	return out
}

func toDomainDocument(doc *model.Document) *domain.Document {
	out := &domain.Document{
		ID:               doc.ID,
		ConversationID:   doc.ConversationID,
		Title:            doc.Title,
		FileType:         doc.FileType,
		CreatorID:        doc.CreatorID,
		Participants:     doc.Participants,
		ParticipantNames: doc.ParticipantNames,
		State:            doc.State,
		Active:           doc.Active,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if doc.LastModifiedBy != nil {
		out.LastModifiedBy = *doc.LastModifiedBy
	}
	return out
}

// toModelPresence persists the durable subset of a presence record. Live
// connections and devices are process state and are not written out.
// Callers must hold the record lock.
func toModelPresence(rec *domain.PresenceRecord) *model.Presence {
	out := &model.Presence{
		UserID:       rec.UserID,
		Username:     rec.Username,
		Status:       string(rec.Status),
		CustomStatus: rec.CustomStatus,
		DND:          rec.DND,
		DNDMessage:   rec.DNDMessage,
		LastSeen:     rec.LastSeen,
		UpdatedAt:    time.Now().UTC(),
	}
	if !rec.DNDExpiresAt.IsZero() {
		t := rec.DNDExpiresAt
		out.DNDExpiresAt = &t
	}
	return out
}

func toDomainPresence(rec *model.Presence) *domain.PresenceRecord {
	out := domain.NewPresenceRecord(rec.UserID, rec.Username)
	out.Status = domain.PresenceStatus(rec.Status)
	out.CustomStatus = rec.CustomStatus
	out.DND = rec.DND
	out.DNDMessage = rec.DNDMessage
	out.LastSeen = rec.LastSeen
	if rec.DNDExpiresAt != nil {
		out.DNDExpiresAt = *rec.DNDExpiresAt
	}
	return out
}

func toModelUser(user *domain.User) *model.User {
	out := &model.User{
		ID:        user.ID,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if user.Email != "" {
		email := user.Email
		out.Email = &email
	}
	return out
}

func toDomainUser(user *model.User) *domain.User {
	out := &domain.User{
		ID:        user.ID,
		Name:      user.Name,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if user.Email != nil {
		out.Email = *user.Email
	}
	return out
}
