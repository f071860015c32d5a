package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/hub"
	"github.com/kestrelchat/kestrel/internal/repository"
)

type chatFixture struct {
	svc    *ChatService
	fanout *fakeFanout
	dnd    *fakeDND
	convs  *repository.InMemoryConversationRepository
	msgs   *repository.InMemoryMessageRepository
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	fanout := newFakeFanout()
	dnd := &fakeDND{active: make(map[uuid.UUID]bool)}
	convs := repository.NewInMemoryConversationRepository()
	msgs := repository.NewInMemoryMessageRepository()
	return &chatFixture{
		svc:    NewChatService(convs, msgs, fanout, dnd, nil, newTestLogger()),
		fanout: fanout,
		dnd:    dnd,
		convs:  convs,
		msgs:   msgs,
	}
}

func (f *chatFixture) conversation(t *testing.T, conns ...*domain.Connection) *domain.Conversation {
	t.Helper()
	ids := make([]uuid.UUID, len(conns))
	names := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.UserID
		names[i] = c.Username
	}
	conv, err := f.svc.CreateConversation(context.Background(), conns[0].UserID, ids, names, len(conns) > 2, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, c := range conns {
		if err := f.svc.JoinConversation(context.Background(), c, conv.ID); err != nil {
			t.Fatalf("JoinConversation: %v", err)
		}
	}
	return conv
}

func TestChat_SendIncrementsUnreadForOthersOnly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	carol := domain.NewConnection(uuid.New(), "carol", "")
	conv := f.conversation(t, alice, bob, carol)

	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "hello", nil, nil, "c1"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	stored, err := f.convs.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got := stored.Meta[alice.UserID].Unread; got != 0 {
		t.Errorf("sender unread = %d, want 0", got)
	}
	for _, other := range []*domain.Connection{bob, carol} {
		if got := stored.Meta[other.UserID].Unread; got != 1 {
			t.Errorf("%s unread = %d, want 1", other.Username, got)
		}
	}
	if stored.LastMessage == nil || stored.LastMessage.Content != "hello" {
		t.Errorf("last message summary not updated: %+v", stored.LastMessage)
	}
}

func TestChat_OfflineRecipientGetsNoDeliveryReceipt(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "hi", nil, nil, "x1")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	acks := drainEvents(alice)
	if len(acks) != 1 || acks[0].Type != domain.EvDMSent {
		t.Fatalf("sender ack = %+v", acks)
	}
	if acks[0].Payload["client_message_id"] != "x1" {
		t.Errorf("ack client_message_id = %v", acks[0].Payload["client_message_id"])
	}
	if acks[0].Payload["status"] != "sent" {
		t.Errorf("ack status = %v, want sent", acks[0].Payload["status"])
	}

	if got := f.fanout.sentToOfType(alice.UserID, domain.EvDMDelivered); len(got) != 0 {
		t.Errorf("offline recipient should produce no delivery receipt, got %d", len(got))
	}
	if msg.Status != domain.MessageSent {
		t.Errorf("message status = %s, want sent", msg.Status)
	}
}

func TestChat_OnlineRecipientMarksDelivered(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)
	f.fanout.setOnline(bob.UserID, 1)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "hi", nil, nil, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	receipts := f.fanout.sentToOfType(alice.UserID, domain.EvDMDelivered)
	if len(receipts) != 1 {
		t.Fatalf("delivery receipts = %d, want 1", len(receipts))
	}
	if receipts[0].Payload["user_id"] != bob.UserID.String() {
		t.Errorf("receipt user_id = %v", receipts[0].Payload["user_id"])
	}
	if msg.Status != domain.MessageDelivered {
		t.Errorf("message status = %s, want delivered", msg.Status)
	}

	stored, _ := f.msgs.GetByID(ctx, msg.ID)
	if stored.Status != domain.MessageDelivered {
		t.Errorf("persisted status = %s, want delivered", stored.Status)
	}
}

func TestChat_DNDSkipsPersonalPushOnly(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)
	f.dnd.active[bob.UserID] = true
	f.fanout.setOnline(bob.UserID, 1)

	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "hi", nil, nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got := f.fanout.sentToOfType(bob.UserID, domain.EvDMReceive); len(got) != 0 {
		t.Errorf("DND recipient should get no personal push, got %d", len(got))
	}
	// Room broadcast, persistence and unread counting still happen.
	if got := drainEvents(bob); len(got) != 1 || got[0].Type != domain.EvDMReceive {
		t.Errorf("room broadcast should still reach the DND user's open conversation, got %+v", got)
	}
	stored, _ := f.convs.GetByID(ctx, conv.ID)
	if stored.Meta[bob.UserID].Unread != 1 {
		t.Errorf("DND unread = %d, want 1", stored.Meta[bob.UserID].Unread)
	}
}

func TestChat_FirstMessageInDirectConversationNotifiesRecipient(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	before := len(f.fanout.sentToOfType(bob.UserID, domain.EvNewConversation))

	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "first", nil, nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := len(f.fanout.sentToOfType(bob.UserID, domain.EvNewConversation)); got != before+1 {
		t.Errorf("first message should emit conversation:new, got %d extra", got-before)
	}

	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "second", nil, nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := len(f.fanout.sentToOfType(bob.UserID, domain.EvNewConversation)); got != before+1 {
		t.Error("second message must not repeat conversation:new")
	}
}

func TestChat_GroupConversationSkipsNewConversationNotice(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	carol := domain.NewConnection(uuid.New(), "carol", "")
	conv := f.conversation(t, alice, bob, carol)

	before := len(f.fanout.sentToOfType(bob.UserID, domain.EvNewConversation))
	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "hello group", nil, nil, ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := len(f.fanout.sentToOfType(bob.UserID, domain.EvNewConversation)); got != before {
		t.Error("group first message must not emit conversation:new")
	}
}

func TestChat_SendValidation(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	mallory := domain.NewConnection(uuid.New(), "mallory", "")
	conv := f.conversation(t, alice, bob)

	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "   ", nil, nil, ""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank content: err = %v, want ErrEmptyMessage", err)
	}
	if _, err := f.svc.SendMessage(ctx, mallory, conv.ID, "hi", nil, nil, ""); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("outsider: err = %v, want ErrNotParticipant", err)
	}
	if _, err := f.svc.SendMessage(ctx, alice, uuid.New(), "hi", nil, nil, ""); !errors.Is(err, repository.ErrConversationNotFound) {
		t.Errorf("unknown conversation: err = %v", err)
	}

	// Attachments alone are enough.
	att := []domain.Attachment{{ID: "a1", Name: "pic.png", MimeType: "image/png"}}
	if _, err := f.svc.SendMessage(ctx, alice, conv.ID, "", att, nil, ""); err != nil {
		t.Errorf("attachment-only message should pass, got %v", err)
	}
}

func TestChat_MarkReadResetsUnreadAndStampsMessages(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	var last *domain.Message
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.svc.SendMessage(ctx, alice, conv.ID, text, nil, nil, "")
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		last = msg
	}

	if err := f.svc.MarkRead(ctx, bob, conv.ID, last.Seq); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	stored, _ := f.convs.GetByID(ctx, conv.ID)
	if stored.Meta[bob.UserID].Unread != 0 {
		t.Errorf("reader unread = %d, want 0", stored.Meta[bob.UserID].Unread)
	}
	if stored.Meta[bob.UserID].LastReadAt == nil {
		t.Error("last-read timestamp should be recorded")
	}

	for _, msg := range []*domain.Message{last} {
		fresh, _ := f.msgs.GetByID(ctx, msg.ID)
		if !fresh.IsReadBy(bob.UserID) {
			t.Errorf("message %q should carry bob's read receipt", fresh.Content)
		}
		if fresh.Status != domain.MessageRead {
			t.Errorf("message %q status = %s, want read", fresh.Content, fresh.Status)
		}
	}

	// Idempotent: a second mark-read appends nothing.
	if err := f.svc.MarkRead(ctx, bob, conv.ID, last.Seq); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	fresh, _ := f.msgs.GetByID(ctx, last.ID)
	if len(fresh.ReadBy) != 1 {
		t.Errorf("read receipts = %d, want 1", len(fresh.ReadBy))
	}
}

func TestChat_EditOnlyBySender(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "original", nil, nil, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if _, err := f.svc.EditMessage(ctx, bob, msg.ID, "hijacked"); !errors.Is(err, ErrNotSender) {
		t.Errorf("edit by non-sender: err = %v, want ErrNotSender", err)
	}

	edited, err := f.svc.EditMessage(ctx, alice, msg.ID, "fixed")
	if err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	if edited.Content != "fixed" || edited.EditedAt == nil {
		t.Errorf("edited = %+v", edited)
	}

	casts := f.fanout.roomCasts(hub.ConversationRoom(conv.ID))
	lastCast := casts[len(casts)-1]
	if lastCast.event.Type != domain.EvDMEdited || lastCast.exclude != "" {
		t.Errorf("edit broadcast should include the sender's devices: %+v", lastCast)
	}
}

func TestChat_SoftDelete(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "oops", nil, nil, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := f.svc.DeleteMessage(ctx, bob, msg.ID); !errors.Is(err, ErrNotSender) {
		t.Errorf("delete by non-sender: err = %v, want ErrNotSender", err)
	}
	if err := f.svc.DeleteMessage(ctx, alice, msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	stored, _ := f.msgs.GetByID(ctx, msg.ID)
	if !stored.Deleted || stored.DeletedBy != alice.UserID || stored.DeletedAt == nil {
		t.Errorf("soft delete flags = %+v", stored)
	}
	if stored.Content != "oops" {
		t.Error("soft delete must retain content")
	}
}

func TestChat_ReactionToggleIsSelfInverse(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)

	msg, err := f.svc.SendMessage(ctx, alice, conv.ID, "react to me", nil, nil, "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := f.svc.ToggleReaction(ctx, bob, msg.ID, "🚀"); !errors.Is(err, ErrInvalidReaction) {
		t.Errorf("disallowed emoji: err = %v, want ErrInvalidReaction", err)
	}

	if err := f.svc.ToggleReaction(ctx, bob, msg.ID, "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	stored, _ := f.msgs.GetByID(ctx, msg.ID)
	if len(stored.Reactions) != 1 || len(stored.Reactions[0].Users) != 1 {
		t.Fatalf("reactions after add = %+v", stored.Reactions)
	}

	if err := f.svc.ToggleReaction(ctx, bob, msg.ID, "👍"); err != nil {
		t.Fatalf("ToggleReaction: %v", err)
	}
	stored, _ = f.msgs.GetByID(ctx, msg.ID)
	if len(stored.Reactions) != 0 {
		t.Errorf("reactions after second toggle = %+v, want empty", stored.Reactions)
	}
}

func TestChat_TypingRelaysWithoutPersistence(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	alice := domain.NewConnection(uuid.New(), "alice", "")
	bob := domain.NewConnection(uuid.New(), "bob", "")
	conv := f.conversation(t, alice, bob)
	drainEvents(alice)
	drainEvents(bob)

	if err := f.svc.Typing(ctx, alice, conv.ID, true); err != nil {
		t.Fatalf("Typing: %v", err)
	}

	got := drainEvents(bob)
	if len(got) != 1 || got[0].Type != domain.EvDMTyping || got[0].Payload["typing"] != true {
		t.Errorf("typing relay = %+v", got)
	}
	if got := drainEvents(alice); len(got) != 0 {
		t.Errorf("typing must exclude the sender, got %+v", got)
	}

	msgs, _ := f.msgs.ListByConversation(ctx, conv.ID, 50, 0)
	if len(msgs) != 0 {
		t.Error("typing must not persist anything")
	}
}
