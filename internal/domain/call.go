package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallState string

const (
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
	CallEnded     CallState = "ended"
)

type MediaType string

const (
	MediaAudio MediaType = "audio"
	MediaVideo MediaType = "video"
)

// CallSession is the ephemeral two-party signaling state. Never persisted;
// removed on end, reject, or ring timeout. At most one non-ended session per
// user (enforced by the call service on initiate).
type CallSession struct {
	ID          uuid.UUID
	CallerID    uuid.UUID
	CallerName  string
	TargetID    uuid.UUID
	TargetName  string
	Media       MediaType
	State       CallState
	StartedAt   time.Time
	ConnectedAt time.Time
}

func NewCallSession(callerID uuid.UUID, callerName string, targetID uuid.UUID, targetName string, media MediaType) *CallSession {
	return &CallSession{
		ID:         uuid.New(),
		CallerID:   callerID,
		CallerName: callerName,
		TargetID:   targetID,
		TargetName: targetName,
		Media:      media,
		State:      CallRinging,
		StartedAt:  time.Now().UTC(),
	}
}

// OtherParty resolves "the peer" for a relay: the target when called by the
// caller, the caller when called by the target.
func (s *CallSession) OtherParty(userID uuid.UUID) (uuid.UUID, bool) {
	switch userID {
	case s.CallerID:
		return s.TargetID, true
	case s.TargetID:
		return s.CallerID, true
	default:
		return uuid.Nil, false
	}
}

func (s *CallSession) IsParty(userID uuid.UUID) bool {
	return userID == s.CallerID || userID == s.TargetID
}

// Duration is the connected time; zero when the call never left ringing.
func (s *CallSession) Duration(now time.Time) time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedAt)
}
