package service

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFanout records every multicast so tests can assert on delivery without
// a live hub.
type fakeFanout struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*domain.Connection
	online map[uuid.UUID]int
	direct map[uuid.UUID][]domain.Event
	casts  []roomCast
	global []domain.Event
}

type roomCast struct {
	room    string
	event   domain.Event
	exclude string
}

func newFakeFanout() *fakeFanout {
	return &fakeFanout{
		rooms:  make(map[string]map[string]*domain.Connection),
		online: make(map[uuid.UUID]int),
		direct: make(map[uuid.UUID][]domain.Event),
	}
}

func (f *fakeFanout) Join(room string, conn *domain.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	members, ok := f.rooms[room]
	if !ok {
		members = make(map[string]*domain.Connection)
		f.rooms[room] = members
	}
	members[conn.ID] = conn
}

func (f *fakeFanout) Leave(room string, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rooms[room], connID)
}

func (f *fakeFanout) Broadcast(room string, event domain.Event, excludeConnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casts = append(f.casts, roomCast{room: room, event: event, exclude: excludeConnID})
	for id, conn := range f.rooms[room] {
		if id == excludeConnID {
			continue
		}
		conn.EnqueueEvent(event)
	}
}

func (f *fakeFanout) BroadcastAll(event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = append(f.global, event)
}

func (f *fakeFanout) SendToUser(userID uuid.UUID, event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.direct[userID] = append(f.direct[userID], event)
}

func (f *fakeFanout) IsOnline(userID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID] > 0
}

func (f *fakeFanout) setOnline(userID uuid.UUID, connections int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = connections
}

func (f *fakeFanout) sentTo(userID uuid.UUID) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, len(f.direct[userID]))
	copy(out, f.direct[userID])
	return out
}

func (f *fakeFanout) sentToOfType(userID uuid.UUID, eventType string) []domain.Event {
	var out []domain.Event
	for _, evt := range f.sentTo(userID) {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

func (f *fakeFanout) roomCasts(room string) []roomCast {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []roomCast
	for _, c := range f.casts {
		if c.room == room {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeFanout) globalEvents() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, len(f.global))
	copy(out, f.global)
	return out
}

func (f *fakeFanout) inRoom(room string, connID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rooms[room][connID]
	return ok
}

// fakeDND marks a fixed set of users as do-not-disturb.
type fakeDND struct {
	active map[uuid.UUID]bool
}

func (f *fakeDND) DNDActive(userID uuid.UUID) bool {
	return f.active[userID]
}

func drainEvents(conn *domain.Connection) []domain.Event {
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
