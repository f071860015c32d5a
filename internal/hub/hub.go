// Package hub owns the two connection-scoped indexes every protocol handler
// fans out through: the user → connections registry and the room → members
// index. Rooms are named multicast targets ("user:<id>", "conv:<id>",
// "doc:<id>"); joining and leaving is index maintenance, broadcasting is an
// iteration over a snapshot of the index.
package hub

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/metrics"
)

func UserRoom(userID uuid.UUID) string         { return "user:" + userID.String() }
func ConversationRoom(convID uuid.UUID) string { return "conv:" + convID.String() }
func DocumentRoom(docID uuid.UUID) string      { return "doc:" + docID.String() }

type Hub struct {
	usersMu sync.RWMutex
	users   map[uuid.UUID]map[string]*domain.Connection

	roomsMu     sync.RWMutex
	rooms       map[string]map[string]*domain.Connection
	memberships map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		users:       make(map[uuid.UUID]map[string]*domain.Connection),
		rooms:       make(map[string]map[string]*domain.Connection),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register binds an authenticated connection: it enters the registry and its
// owner's personal room.
func (h *Hub) Register(conn *domain.Connection) {
	h.usersMu.Lock()
	set, ok := h.users[conn.UserID]
	if !ok {
		set = make(map[string]*domain.Connection)
		h.users[conn.UserID] = set
	}
	set[conn.ID] = conn
	h.usersMu.Unlock()

	h.Join(UserRoom(conn.UserID), conn)
	metrics.WsConnections.Inc()
}

// Unregister removes the connection from the registry and every room it
// joined, and closes its event channel.
func (h *Hub) Unregister(conn *domain.Connection) {
	h.usersMu.Lock()
	if set, ok := h.users[conn.UserID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(h.users, conn.UserID)
		}
	}
	h.usersMu.Unlock()

	h.roomsMu.Lock()
	for room := range h.memberships[conn.ID] {
		if members, ok := h.rooms[room]; ok {
			delete(members, conn.ID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.memberships, conn.ID)
	h.roomsMu.Unlock()

	conn.Close()
	metrics.WsConnections.Dec()
}

func (h *Hub) Join(room string, conn *domain.Connection) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*domain.Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	joined, ok := h.memberships[conn.ID]
	if !ok {
		joined = make(map[string]struct{})
		h.memberships[conn.ID] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) Leave(room string, connID string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.memberships[connID]; ok {
		delete(joined, room)
	}
}

// Broadcast multicasts to a room from a members snapshot, so a member list
// mutation during delivery cannot corrupt the iteration. Delivery order to
// all members matches call order, preserving fragment causality within a room.
func (h *Hub) Broadcast(room string, event domain.Event, excludeConnID string) {
	h.roomsMu.RLock()
	members := make([]*domain.Connection, 0, len(h.rooms[room]))
	for id, conn := range h.rooms[room] {
		if id == excludeConnID {
			continue
		}
		members = append(members, conn)
	}
	h.roomsMu.RUnlock()

	for _, conn := range members {
		conn.EnqueueEvent(event)
	}
}

// BroadcastAll multicasts to every live connection.
func (h *Hub) BroadcastAll(event domain.Event) {
	h.usersMu.RLock()
	conns := make([]*domain.Connection, 0, len(h.users))
	for _, set := range h.users {
		for _, conn := range set {
			conns = append(conns, conn)
		}
	}
	h.usersMu.RUnlock()

	for _, conn := range conns {
		conn.EnqueueEvent(event)
	}
}

// SendToUser multicasts to all of one user's devices, joined rooms or not.
func (h *Hub) SendToUser(userID uuid.UUID, event domain.Event) {
	h.usersMu.RLock()
	conns := make([]*domain.Connection, 0, len(h.users[userID]))
	for _, conn := range h.users[userID] {
		conns = append(conns, conn)
	}
	h.usersMu.RUnlock()

	for _, conn := range conns {
		conn.EnqueueEvent(event)
	}
}

func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	return len(h.users[userID]) > 0
}

func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.usersMu.RLock()
	defer h.usersMu.RUnlock()
	return len(h.users[userID])
}
