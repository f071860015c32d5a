package domain

import "github.com/pion/webrtc/v3"

// Event is the wire envelope for everything that crosses a websocket,
// inbound and outbound. SDP and Candidate carry call negotiation payloads;
// everything else rides in Payload.
type Event struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Payload   map[string]any             `json:"payload,omitempty"`
}

// Inbound event types dispatched by the connection loop.
const (
	EvPresenceUpdate    = "presence:update"
	EvPresenceHeartbeat = "presence:heartbeat"
	EvPresenceDND       = "presence:dnd"
	EvPresenceOffline   = "presence:offline"

	EvDMSend   = "dm:send"
	EvDMJoin   = "dm:join"
	EvDMTyping = "dm:typing"
	EvDMRead   = "dm:read"
	EvDMEdit   = "dm:edit"
	EvDMDelete = "dm:delete"
	EvDMReact  = "dm:react"

	EvCollabCreate    = "collab:create"
	EvCollabJoin      = "collab:join"
	EvCollabSync      = "collab:sync"
	EvCollabLeave     = "collab:leave"
	EvCollabAwareness = "collab:awareness"

	EvCallInitiate  = "call:initiate"
	EvCallAccept    = "call:accept"
	EvCallReject    = "call:reject"
	EvCallOffer     = "call:offer"
	EvCallAnswer    = "call:answer"
	EvCallCandidate = "call:candidate"
	EvCallEnd       = "call:end"
	EvCallMedia     = "call:media"
)

// Outbound event types.
const (
	EvConnected       = "connected"
	EvError           = "error"
	EvPresenceChanged = "presence:changed"
	// EvPresenceSignout tells a device its session was ended by an explicit
	// logout; the write pump closes the socket after delivering it.
	EvPresenceSignout = "presence:signout"

	EvDMSent        = "dm:sent"
	EvDMReceive     = "dm:receive"
	EvDMDelivered   = "dm:delivered"
	EvDMReadNotify  = "dm:read"
	EvDMEdited      = "dm:edited"
	EvDMDeleted     = "dm:deleted"
	EvDMReacted     = "dm:reacted"
	EvNewConversation = "conversation:new"

	EvCollabCreated = "collab:created"
	EvCollabState   = "collab:state"
	EvCollabJoined  = "collab:joined"
	EvCollabLeft    = "collab:left"

	EvCallInitiated = "call:initiated"
	EvCallIncoming  = "call:incoming"
	EvCallAccepted  = "call:accepted"
	EvCallRejected  = "call:rejected"
	EvCallEnded     = "call:ended"
	EvCallTimeout   = "call:timeout"
)

// ErrorEvent builds the per-caller rejection envelope. Rejections are always
// emitted back to the offending connection, never silently dropped.
func ErrorEvent(op string, err error) Event {
	return Event{
		Type: EvError,
		Payload: map[string]any{
			"op":      op,
			"message": err.Error(),
		},
	}
}
