package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/events"
	"github.com/kestrelchat/kestrel/internal/hub"
	"github.com/kestrelchat/kestrel/internal/metrics"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

var (
	ErrNotParticipant  = errors.New("not a conversation participant")
	ErrEmptyMessage    = errors.New("message needs content or attachments")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrInvalidReaction = errors.New("reaction emoji is not allowed")
	ErrNotSender       = errors.New("only the sender may do that")
)

const maxMessageLength = 4000

// DNDChecker is the presence capability the chat handler needs: should the
// personal-group push to this user be skipped right now.
type DNDChecker interface {
	DNDActive(userID uuid.UUID) bool
}

type ChatService struct {
	convs     repository.ConversationRepository
	msgs      repository.MessageRepository
	fanout    Fanout
	dnd       DNDChecker
	publisher *events.Publisher
	log       *slog.Logger
}

func NewChatService(convs repository.ConversationRepository, msgs repository.MessageRepository, fanout Fanout, dnd DNDChecker, publisher *events.Publisher, log *slog.Logger) *ChatService {
	if log == nil {
		log = slog.Default()
	}
	return &ChatService{
		convs:     convs,
		msgs:      msgs,
		fanout:    fanout,
		dnd:       dnd,
		publisher: publisher,
		log:       log,
	}
}

// CreateConversation persists a new direct or group chat and nudges every
// participant's devices so it surfaces without a reload. Connections join the
// conversation room themselves afterward.
func (s *ChatService) CreateConversation(ctx context.Context, creatorID uuid.UUID, participants []uuid.UUID, names []string, isGroup bool, groupName string) (*domain.Conversation, error) {
	const op = "service.chat.createConversation"
	log := s.log.With(slog.String("op", op), slog.String("user_id", creatorID.String()))

	found := false
	for _, id := range participants {
		if id == creatorID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNotParticipant
	}

	conv, err := domain.NewConversation(participants, names, isGroup, groupName, creatorID)
	if err != nil {
		return nil, err
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		log.Error("failed to create conversation", sl.Err(err))
		return nil, err
	}

	notify := domain.Event{Type: domain.EvNewConversation, Payload: conversationPayload(conv)}
	for _, id := range conv.Participants {
		s.fanout.SendToUser(id, notify)
	}

	log.Info("conversation created", slog.String("conversation_id", conv.ID.String()), slog.Bool("group", isGroup))
	s.publisher.Publish(ctx, "conversation.created", conversationPayload(conv))
	return conv, nil
}

func (s *ChatService) ListConversations(ctx context.Context, userID uuid.UUID) ([]*domain.Conversation, error) {
	return s.convs.ListByParticipant(ctx, userID)
}

func (s *ChatService) ListMessages(ctx context.Context, userID, convID uuid.UUID, limit int, beforeSeq int64) ([]*domain.Message, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.msgs.ListByConversation(ctx, convID, limit, beforeSeq)
}

// JoinConversationRooms enrolls a fresh connection in the room of every
// conversation its user participates in. Called once per connect.
func (s *ChatService) JoinConversationRooms(ctx context.Context, conn *domain.Connection) error {
	convs, err := s.convs.ListByParticipant(ctx, conn.UserID)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		s.fanout.Join(hub.ConversationRoom(conv.ID), conn)
	}
	return nil
}

// JoinConversation enrolls one connection in one conversation room. Clients
// call this for conversations created after they connected.
func (s *ChatService) JoinConversation(ctx context.Context, conn *domain.Connection, convID uuid.UUID) error {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(conn.UserID) {
		return ErrNotParticipant
	}
	s.fanout.Join(hub.ConversationRoom(convID), conn)
	return nil
}

// SendMessage persists and fans out one message: ack to the sender, room
// broadcast excluding the sender, DND-gated personal push per participant,
// delivery receipts for online participants, and a new-conversation nudge for
// the first message of a 1:1.
func (s *ChatService) SendMessage(ctx context.Context, sender *domain.Connection, convID uuid.UUID, content string, attachments []domain.Attachment, replyTo *domain.ReplyRef, clientMessageID string) (*domain.Message, error) {
	const op = "service.chat.sendMessage"
	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", sender.UserID.String()),
		slog.String("conversation_id", convID.String()),
	)

	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sender.UserID) {
		return nil, ErrNotParticipant
	}

	msg := domain.NewMessage(convID, sender.UserID, sender.Username, content, attachments, replyTo)
	if err := s.msgs.Save(ctx, msg); err != nil {
		log.Error("failed to save message", sl.Err(err))
		return nil, err
	}

	firstMessage := conv.LastMessage == nil
	conv.ApplyMessage(msg)
	if err := s.convs.Save(ctx, conv); err != nil {
		log.Error("failed to update conversation", sl.Err(err))
	}
	metrics.MessagesTotal.Inc()

	sender.EnqueueEvent(domain.Event{
		Type: domain.EvDMSent,
		Payload: map[string]any{
			"client_message_id": clientMessageID,
			"message":           msg,
			"status":            string(msg.Status),
		},
	})

	receive := domain.Event{
		Type:    domain.EvDMReceive,
		Payload: map[string]any{"message": msg, "conversation_id": convID.String()},
	}
	s.fanout.Broadcast(hub.ConversationRoom(convID), receive, sender.ID)

	delivered := false
	for _, participant := range conv.Participants {
		if participant == sender.UserID {
			continue
		}
		if !s.dnd.DNDActive(participant) {
			s.fanout.SendToUser(participant, receive)
		}
		if s.fanout.IsOnline(participant) {
			delivered = true
			s.fanout.SendToUser(sender.UserID, domain.Event{
				Type: domain.EvDMDelivered,
				Payload: map[string]any{
					"message_id": msg.ID.String(),
					"user_id":    participant.String(),
				},
			})
		}
		if firstMessage && !conv.IsGroup {
			s.fanout.SendToUser(participant, domain.Event{
				Type:    domain.EvNewConversation,
				Payload: conversationPayload(conv),
			})
		}
	}
	if delivered {
		msg.Status = domain.MessageDelivered
		if err := s.msgs.Update(ctx, msg); err != nil {
			log.Error("failed to mark delivered", sl.Err(err))
		}
	}

	s.publisher.Publish(ctx, "message.sent", msg)
	return msg, nil
}

// Typing is a stateless relay to the conversation room.
func (s *ChatService) Typing(ctx context.Context, sender *domain.Connection, convID uuid.UUID, typing bool) error {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(sender.UserID) {
		return ErrNotParticipant
	}

	s.fanout.Broadcast(hub.ConversationRoom(convID), domain.Event{
		Type: domain.EvDMTyping,
		Payload: map[string]any{
			"conversation_id": convID.String(),
			"user_id":         sender.UserID.String(),
			"username":        sender.Username,
			"typing":          typing,
		},
	}, sender.ID)
	return nil
}

// MarkRead bulk-reads every message up to the cursor that the reader has not
// read and did not send, resets the reader's unread counter, and broadcasts
// one read-receipt event to the room.
func (s *ChatService) MarkRead(ctx context.Context, reader *domain.Connection, convID uuid.UUID, upToSeq int64) error {
	const op = "service.chat.markRead"
	log := s.log.With(
		slog.String("op", op),
		slog.String("user_id", reader.UserID.String()),
		slog.String("conversation_id", convID.String()),
	)

	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(reader.UserID) {
		return ErrNotParticipant
	}

	now := time.Now().UTC()
	unread, err := s.msgs.ListUnreadUpTo(ctx, convID, reader.UserID, upToSeq)
	if err != nil {
		log.Error("failed to list unread", sl.Err(err))
		return err
	}
	for _, msg := range unread {
		if !msg.MarkReadBy(reader.UserID, now) {
			continue
		}
		if err := s.msgs.Update(ctx, msg); err != nil {
			log.Error("failed to persist read receipt", slog.String("message_id", msg.ID.String()), sl.Err(err))
		}
	}

	conv.MarkRead(reader.UserID, now)
	if err := s.convs.Save(ctx, conv); err != nil {
		log.Error("failed to update conversation", sl.Err(err))
	}

	s.fanout.Broadcast(hub.ConversationRoom(convID), domain.Event{
		Type: domain.EvDMReadNotify,
		Payload: map[string]any{
			"conversation_id": convID.String(),
			"reader_id":       reader.UserID.String(),
			"up_to_seq":       upToSeq,
			"count":           len(unread),
			"read_at":         now.Format(time.RFC3339Nano),
		},
	}, "")
	return nil
}

// EditMessage updates content in place. Sender-only; the room broadcast
// includes the sender so their other devices converge.
func (s *ChatService) EditMessage(ctx context.Context, editor *domain.Connection, messageID uuid.UUID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, ErrMessageTooLong
	}

	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editor.UserID {
		return nil, ErrNotSender
	}

	now := time.Now().UTC()
	msg.Content = content
	msg.EditedAt = &now
	if err := s.msgs.Update(ctx, msg); err != nil {
		s.log.Error("failed to persist edit", slog.String("message_id", messageID.String()), sl.Err(err))
		return nil, err
	}

	s.fanout.Broadcast(hub.ConversationRoom(msg.ConversationID), domain.Event{
		Type:    domain.EvDMEdited,
		Payload: map[string]any{"message": msg, "conversation_id": msg.ConversationID.String()},
	}, "")
	return msg, nil
}

// DeleteMessage soft-deletes: the flag hides the content at render time, the
// row stays.
func (s *ChatService) DeleteMessage(ctx context.Context, deleter *domain.Connection, messageID uuid.UUID) error {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != deleter.UserID {
		return ErrNotSender
	}

	now := time.Now().UTC()
	msg.Deleted = true
	msg.DeletedBy = deleter.UserID
	msg.DeletedAt = &now
	if err := s.msgs.Update(ctx, msg); err != nil {
		s.log.Error("failed to persist delete", slog.String("message_id", messageID.String()), sl.Err(err))
		return err
	}

	s.fanout.Broadcast(hub.ConversationRoom(msg.ConversationID), domain.Event{
		Type: domain.EvDMDeleted,
		Payload: map[string]any{
			"message_id":      messageID.String(),
			"conversation_id": msg.ConversationID.String(),
			"deleted_by":      deleter.UserID.String(),
			"deleted_at":      now.Format(time.RFC3339Nano),
		},
	}, "")
	return nil
}

// ToggleReaction flips the (emoji, user) pair and broadcasts the message's
// full updated reaction list.
func (s *ChatService) ToggleReaction(ctx context.Context, reactor *domain.Connection, messageID uuid.UUID, emoji string) error {
	if !domain.IsAllowedReaction(emoji) {
		return ErrInvalidReaction
	}

	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.convs.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(reactor.UserID) {
		return ErrNotParticipant
	}

	msg.ToggleReaction(emoji, reactor.UserID, reactor.Username, time.Now().UTC())
	if err := s.msgs.Update(ctx, msg); err != nil {
		s.log.Error("failed to persist reaction", slog.String("message_id", messageID.String()), sl.Err(err))
		return err
	}

	s.fanout.Broadcast(hub.ConversationRoom(msg.ConversationID), domain.Event{
		Type: domain.EvDMReacted,
		Payload: map[string]any{
			"message_id":      messageID.String(),
			"conversation_id": msg.ConversationID.String(),
			"reactions":       msg.Reactions,
		},
	}, "")
	return nil
}

func conversationPayload(conv *domain.Conversation) map[string]any {
	names := make(map[string]string, len(conv.Participants))
	for i, id := range conv.Participants {
		if i < len(conv.ParticipantNames) {
			names[id.String()] = conv.ParticipantNames[i]
		}
	}
	return map[string]any{
		"conversation_id":   conv.ID.String(),
		"participants":      conv.Participants,
		"participant_names": names,
		"is_group":          conv.IsGroup,
		"group_name":        conv.GroupName,
		"creator_id":        conv.CreatorID.String(),
		"created_at":        conv.CreatedAt.Format(time.RFC3339Nano),
	}
}
