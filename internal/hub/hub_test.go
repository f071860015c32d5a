package hub

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
)

func newConn(userID uuid.UUID) *domain.Connection {
	return domain.NewConnection(userID, "tester", "")
}

func drain(conn *domain.Connection) []domain.Event {
	var out []domain.Event
	for {
		select {
		case evt := <-conn.Events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestHub_RegisterJoinsPersonalRoom(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	conn := newConn(user)
	h.Register(conn)

	if !h.IsOnline(user) {
		t.Error("IsOnline should be true after Register")
	}
	if h.ConnectionCount(user) != 1 {
		t.Errorf("ConnectionCount = %d, want 1", h.ConnectionCount(user))
	}

	h.Broadcast(UserRoom(user), domain.Event{Type: "ping"}, "")
	if got := drain(conn); len(got) != 1 || got[0].Type != "ping" {
		t.Errorf("personal room broadcast not delivered: %+v", got)
	}
}

func TestHub_UnregisterEmptiesRegistry(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	c1, c2 := newConn(user), newConn(user)
	h.Register(c1)
	h.Register(c2)

	h.Unregister(c1)
	if !h.IsOnline(user) {
		t.Error("user should stay online while one connection remains")
	}

	h.Unregister(c2)
	if h.IsOnline(user) {
		t.Error("user should be offline after last connection unregisters")
	}
	if h.ConnectionCount(user) != 0 {
		t.Errorf("ConnectionCount = %d, want 0", h.ConnectionCount(user))
	}
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	h := NewHub()
	room := ConversationRoom(uuid.New())

	sender, other := newConn(uuid.New()), newConn(uuid.New())
	h.Register(sender)
	h.Register(other)
	h.Join(room, sender)
	h.Join(room, other)

	h.Broadcast(room, domain.Event{Type: "dm:receive"}, sender.ID)

	if got := drain(sender); len(got) != 0 {
		t.Errorf("sender should be excluded, got %+v", got)
	}
	if got := drain(other); len(got) != 1 {
		t.Errorf("other member should receive exactly one event, got %d", len(got))
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	room := DocumentRoom(uuid.New())
	conn := newConn(uuid.New())
	h.Register(conn)
	h.Join(room, conn)
	h.Leave(room, conn.ID)

	h.Broadcast(room, domain.Event{Type: "collab:sync"}, "")
	if got := drain(conn); len(got) != 0 {
		t.Errorf("left member should not receive events, got %+v", got)
	}
}

func TestHub_UnregisterLeavesAllRooms(t *testing.T) {
	h := NewHub()
	conn := newConn(uuid.New())
	observer := newConn(uuid.New())
	room := ConversationRoom(uuid.New())

	h.Register(conn)
	h.Register(observer)
	h.Join(room, conn)
	h.Join(room, observer)

	h.Unregister(conn)
	h.Broadcast(room, domain.Event{Type: "dm:receive"}, "")

	if got := drain(observer); len(got) != 1 {
		t.Errorf("observer should still receive, got %d", len(got))
	}
	// The unregistered connection's channel is closed; a further broadcast
	// must not have enqueued anything before the close.
	if _, ok := <-conn.Events; ok {
		t.Error("unregistered connection should have a closed, empty channel")
	}
}

func TestHub_EnqueueAfterUnregisterIsNoop(t *testing.T) {
	h := NewHub()
	conn := newConn(uuid.New())
	h.Register(conn)
	h.Unregister(conn)

	// Broadcasters snapshot member lists outside the hub locks, so a stale
	// snapshot may still hold this connection. The enqueue must be silent.
	conn.EnqueueEvent(domain.Event{Type: "dm:receive"})
	h.SendToUser(conn.UserID, domain.Event{Type: "call:incoming"})
}

func TestHub_BroadcastRacingUnregisterDoesNotPanic(t *testing.T) {
	h := NewHub()
	room := ConversationRoom(uuid.New())

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				h.Broadcast(room, domain.Event{Type: "dm:receive"}, "")
				h.BroadcastAll(domain.Event{Type: "presence:changed"})
			}
		}
	}()

	for i := 0; i < 200; i++ {
		conn := newConn(uuid.New())
		h.Register(conn)
		h.Join(room, conn)
		h.Unregister(conn)
	}
	close(stop)
	wg.Wait()
}

func TestHub_SendToUserHitsAllDevices(t *testing.T) {
	h := NewHub()
	user := uuid.New()
	c1, c2 := newConn(user), newConn(user)
	h.Register(c1)
	h.Register(c2)

	h.SendToUser(user, domain.Event{Type: "call:incoming"})

	for i, c := range []*domain.Connection{c1, c2} {
		if got := drain(c); len(got) != 1 {
			t.Errorf("device %d received %d events, want 1", i, len(got))
		}
	}
}

func TestHub_BroadcastAll(t *testing.T) {
	h := NewHub()
	conns := []*domain.Connection{newConn(uuid.New()), newConn(uuid.New()), newConn(uuid.New())}
	for _, c := range conns {
		h.Register(c)
	}

	h.BroadcastAll(domain.Event{Type: "presence:changed"})

	for i, c := range conns {
		if got := drain(c); len(got) != 1 {
			t.Errorf("connection %d received %d events, want 1", i, len(got))
		}
	}
}
