package domain

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeviceTypeFromUserAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want DeviceType
	}{
		{"desktop chrome", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0", DeviceDesktop},
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", DeviceMobile},
		{"android phone", "Mozilla/5.0 (Linux; Android 14; Pixel 8) Mobile", DeviceMobile},
		{"ipad", "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", DeviceTablet},
		{"android tablet beats mobile", "Mozilla/5.0 (Linux; Android 14; Tablet) Mobile", DeviceTablet},
		{"kindle silk", "Mozilla/5.0 (Linux; Android) Silk/3.1", DeviceTablet},
		{"empty", "", DeviceDesktop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeviceTypeFromUserAgent(tt.ua); got != tt.want {
				t.Errorf("DeviceTypeFromUserAgent(%q) = %v, want %v", tt.ua, got, tt.want)
			}
		})
	}
}

func TestConversation_ApplyMessage(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	conv, err := NewConversation([]uuid.UUID{a, b, c}, []string{"a", "b", "c"}, true, "team", a)
	if err != nil {
		t.Fatalf("NewConversation: %v", err)
	}

	msg := NewMessage(conv.ID, a, "a", "hi", nil, nil)
	conv.ApplyMessage(msg)

	if conv.Meta[a].Unread != 0 {
		t.Errorf("sender unread = %d, want 0", conv.Meta[a].Unread)
	}
	for _, id := range []uuid.UUID{b, c} {
		if conv.Meta[id].Unread != 1 {
			t.Errorf("recipient unread = %d, want 1", conv.Meta[id].Unread)
		}
	}
	if conv.LastMessage == nil || conv.LastMessage.MessageID != msg.ID {
		t.Error("last message summary not updated")
	}

	conv.MarkRead(b, time.Now().UTC())
	if conv.Meta[b].Unread != 0 {
		t.Errorf("unread after MarkRead = %d, want 0", conv.Meta[b].Unread)
	}
	if conv.Meta[b].LastReadAt == nil {
		t.Error("LastReadAt not recorded")
	}
}

func TestNewConversation_MisalignedLists(t *testing.T) {
	_, err := NewConversation([]uuid.UUID{uuid.New(), uuid.New()}, []string{"only-one"}, false, "", uuid.New())
	if err == nil {
		t.Error("NewConversation() should reject misaligned participant lists")
	}
}

func TestMessage_ToggleReaction_SelfInverse(t *testing.T) {
	msg := NewMessage(uuid.New(), uuid.New(), "a", "hi", nil, nil)
	user := uuid.New()
	now := time.Now().UTC()

	before := append([]Reaction(nil), msg.Reactions...)

	if added := msg.ToggleReaction("👍", user, "bob", now); !added {
		t.Error("first toggle should add")
	}
	if len(msg.Reactions) != 1 || len(msg.Reactions[0].Users) != 1 {
		t.Fatalf("reactions after add = %+v", msg.Reactions)
	}

	if added := msg.ToggleReaction("👍", user, "bob", now); added {
		t.Error("second toggle should remove")
	}
	if !reflect.DeepEqual(msg.Reactions, before) && len(msg.Reactions) != 0 {
		t.Errorf("reactions not restored: %+v", msg.Reactions)
	}
}

func TestMessage_ToggleReaction_MultipleUsers(t *testing.T) {
	msg := NewMessage(uuid.New(), uuid.New(), "a", "hi", nil, nil)
	u1, u2 := uuid.New(), uuid.New()
	now := time.Now().UTC()

	msg.ToggleReaction("❤️", u1, "one", now)
	msg.ToggleReaction("❤️", u2, "two", now)

	if len(msg.Reactions) != 1 {
		t.Fatalf("expected one emoji entry, got %d", len(msg.Reactions))
	}
	if len(msg.Reactions[0].Users) != 2 {
		t.Fatalf("expected two users, got %d", len(msg.Reactions[0].Users))
	}

	msg.ToggleReaction("❤️", u1, "one", now)
	if len(msg.Reactions[0].Users) != 1 || msg.Reactions[0].Users[0].UserID != u2 {
		t.Errorf("removing one user should keep the other: %+v", msg.Reactions)
	}
}

func TestMessage_MarkReadBy(t *testing.T) {
	msg := NewMessage(uuid.New(), uuid.New(), "a", "hi", nil, nil)
	reader := uuid.New()
	now := time.Now().UTC()

	if !msg.MarkReadBy(reader, now) {
		t.Error("first MarkReadBy should report true")
	}
	if msg.Status != MessageRead {
		t.Errorf("status = %v, want read", msg.Status)
	}
	if msg.MarkReadBy(reader, now) {
		t.Error("second MarkReadBy should be a no-op")
	}
	if len(msg.ReadBy) != 1 {
		t.Errorf("read receipts = %d, want 1", len(msg.ReadBy))
	}
}

func TestCallSession_OtherParty(t *testing.T) {
	caller, target := uuid.New(), uuid.New()
	s := NewCallSession(caller, "a", target, "b", MediaAudio)

	if got, ok := s.OtherParty(caller); !ok || got != target {
		t.Errorf("OtherParty(caller) = %v, %v", got, ok)
	}
	if got, ok := s.OtherParty(target); !ok || got != caller {
		t.Errorf("OtherParty(target) = %v, %v", got, ok)
	}
	if _, ok := s.OtherParty(uuid.New()); ok {
		t.Error("OtherParty(stranger) should not resolve")
	}
}

func TestCallSession_Duration(t *testing.T) {
	s := NewCallSession(uuid.New(), "a", uuid.New(), "b", MediaVideo)
	now := time.Now().UTC()

	if d := s.Duration(now); d != 0 {
		t.Errorf("never-connected duration = %v, want 0", d)
	}

	s.ConnectedAt = now.Add(-42 * time.Second)
	if d := s.Duration(now); d != 42*time.Second {
		t.Errorf("duration = %v, want 42s", d)
	}
}

func TestAwarenessColor_Deterministic(t *testing.T) {
	id := uuid.New()
	if AwarenessColor(id) != AwarenessColor(id) {
		t.Error("AwarenessColor should be stable for a user")
	}
	if AwarenessColor(id) == "" {
		t.Error("AwarenessColor should not be empty")
	}
}

func TestIsAllowedReaction(t *testing.T) {
	if !IsAllowedReaction("👍") {
		t.Error("👍 should be allowed")
	}
	if IsAllowedReaction("🦖") {
		t.Error("🦖 should be rejected")
	}
}
