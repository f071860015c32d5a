package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/events"
	"github.com/kestrelchat/kestrel/internal/metrics"
)

var (
	ErrTargetOffline = errors.New("target has no live connections")
	ErrCallBusy      = errors.New("party already in a call")
	ErrCallNotFound  = errors.New("call not found")
	ErrNotCallParty  = errors.New("not a party of this call")
	ErrBadCallState  = errors.New("call is not in the required state")
	ErrSelfCall      = errors.New("cannot call yourself")
)

// NameResolver is the identity capability the call handler consumes: resolve
// a target user id to a display name before ringing them.
type NameResolver interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

type CallService struct {
	fanout      Fanout
	names       NameResolver
	publisher   *events.Publisher
	log         *slog.Logger
	ringTimeout time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*domain.CallSession
	byUser   map[uuid.UUID]uuid.UUID
	timers   map[uuid.UUID]*time.Timer
}

func NewCallService(fanout Fanout, names NameResolver, publisher *events.Publisher, ringTimeout time.Duration, log *slog.Logger) *CallService {
	if log == nil {
		log = slog.Default()
	}
	if ringTimeout <= 0 {
		ringTimeout = 30 * time.Second
	}
	return &CallService{
		fanout:      fanout,
		names:       names,
		publisher:   publisher,
		log:         log,
		ringTimeout: ringTimeout,
		sessions:    make(map[uuid.UUID]*domain.CallSession),
		byUser:      make(map[uuid.UUID]uuid.UUID),
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

// Initiate rings a target. Rejected when the target is fully offline or when
// either party already holds a non-ended session, so double-initiating to an
// idle target yields exactly one ringing session. The ring timer fires after
// the configured window unless accept or reject cancels it first.
func (s *CallService) Initiate(ctx context.Context, caller *domain.Connection, targetID uuid.UUID, media domain.MediaType, sdp *webrtc.SessionDescription) (*domain.CallSession, error) {
	const op = "service.call.initiate"
	log := s.log.With(
		slog.String("op", op),
		slog.String("caller_id", caller.UserID.String()),
		slog.String("target_id", targetID.String()),
	)

	if targetID == caller.UserID {
		return nil, ErrSelfCall
	}
	if media != domain.MediaAudio && media != domain.MediaVideo {
		return nil, errors.New("unsupported media type: " + string(media))
	}
	if !s.fanout.IsOnline(targetID) {
		return nil, ErrTargetOffline
	}

	target, err := s.names.GetUser(ctx, targetID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, busy := s.byUser[caller.UserID]; busy {
		s.mu.Unlock()
		return nil, ErrCallBusy
	}
	if _, busy := s.byUser[targetID]; busy {
		s.mu.Unlock()
		return nil, ErrCallBusy
	}

	session := domain.NewCallSession(caller.UserID, caller.Username, targetID, target.Name, media)
	s.sessions[session.ID] = session
	s.byUser[caller.UserID] = session.ID
	s.byUser[targetID] = session.ID
	s.timers[session.ID] = time.AfterFunc(s.ringTimeout, func() { s.timeout(session.ID) })
	s.mu.Unlock()

	metrics.ActiveCalls.Inc()
	log.Info("call ringing", slog.String("call_id", session.ID.String()), slog.String("media", string(media)))

	caller.EnqueueEvent(domain.Event{
		Type:    domain.EvCallInitiated,
		Payload: callPayload(session),
	})
	s.fanout.SendToUser(targetID, domain.Event{
		Type:    domain.EvCallIncoming,
		SDP:     sdp,
		Payload: callPayload(session),
	})
	s.publisher.Publish(ctx, "call.initiated", callPayload(session))
	return session, nil
}

// Accept transitions ringing → connected. Target-only.
func (s *CallService) Accept(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error {
	s.mu.Lock()
	session, ok := s.sessions[callID]
	if !ok {
		s.mu.Unlock()
		return ErrCallNotFound
	}
	if session.TargetID != conn.UserID {
		s.mu.Unlock()
		return ErrNotCallParty
	}
	if session.State != domain.CallRinging {
		s.mu.Unlock()
		return ErrBadCallState
	}
	session.State = domain.CallConnected
	session.ConnectedAt = time.Now().UTC()
	s.cancelTimerLocked(callID)
	s.mu.Unlock()

	s.log.Info("call accepted", slog.String("call_id", callID.String()))

	accepted := domain.Event{Type: domain.EvCallAccepted, SDP: sdp, Payload: callPayload(session)}
	s.fanout.SendToUser(session.CallerID, accepted)
	s.fanout.SendToUser(session.TargetID, accepted)
	s.publisher.Publish(ctx, "call.accepted", callPayload(session))
	return nil
}

// Reject removes a ringing session. Either party may reject (the caller's
// reject is a cancel); both sides learn the optional reason.
func (s *CallService) Reject(ctx context.Context, conn *domain.Connection, callID uuid.UUID, reason string) error {
	s.mu.Lock()
	session, ok := s.sessions[callID]
	if !ok {
		s.mu.Unlock()
		return ErrCallNotFound
	}
	if !session.IsParty(conn.UserID) {
		s.mu.Unlock()
		return ErrNotCallParty
	}
	if session.State != domain.CallRinging {
		s.mu.Unlock()
		return ErrBadCallState
	}
	s.removeLocked(session)
	s.mu.Unlock()

	s.log.Info("call rejected", slog.String("call_id", callID.String()), slog.String("by", conn.UserID.String()))

	payload := callPayload(session)
	payload["rejected_by"] = conn.UserID.String()
	if reason != "" {
		payload["reason"] = reason
	}
	rejected := domain.Event{Type: domain.EvCallRejected, Payload: payload}
	s.fanout.SendToUser(session.CallerID, rejected)
	s.fanout.SendToUser(session.TargetID, rejected)
	return nil
}

// Offer relays a renegotiation session description to the other party.
func (s *CallService) Offer(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error {
	return s.relay(conn, callID, domain.Event{Type: domain.EvCallOffer, SDP: sdp}, false)
}

// Answer relays the answering session description to the other party.
func (s *CallService) Answer(ctx context.Context, conn *domain.Connection, callID uuid.UUID, sdp *webrtc.SessionDescription) error {
	return s.relay(conn, callID, domain.Event{Type: domain.EvCallAnswer, SDP: sdp}, false)
}

// Candidate relays one ICE candidate. A missing session is a benign
// late-arriving candidate after hangup, not an error.
func (s *CallService) Candidate(ctx context.Context, conn *domain.Connection, callID uuid.UUID, candidate *webrtc.ICECandidateInit) error {
	return s.relay(conn, callID, domain.Event{Type: domain.EvCallCandidate, Candidate: candidate}, true)
}

// End tears a session down from any non-ended state. Both parties get the
// call duration (zero when the call never connected).
func (s *CallService) End(ctx context.Context, conn *domain.Connection, callID uuid.UUID) error {
	s.mu.Lock()
	session, ok := s.sessions[callID]
	if !ok {
		s.mu.Unlock()
		return ErrCallNotFound
	}
	if !session.IsParty(conn.UserID) {
		s.mu.Unlock()
		return ErrNotCallParty
	}
	duration := session.Duration(time.Now().UTC())
	session.State = domain.CallEnded
	s.removeLocked(session)
	s.mu.Unlock()

	s.log.Info("call ended",
		slog.String("call_id", callID.String()),
		slog.Duration("duration", duration),
	)

	payload := callPayload(session)
	payload["duration_ms"] = duration.Milliseconds()
	payload["ended_by"] = conn.UserID.String()
	ended := domain.Event{Type: domain.EvCallEnded, Payload: payload}
	s.fanout.SendToUser(session.CallerID, ended)
	s.fanout.SendToUser(session.TargetID, ended)
	s.publisher.Publish(ctx, "call.ended", payload)
	return nil
}

// ToggleMedia relays a mute/camera flag to the other party. Session state is
// untouched.
func (s *CallService) ToggleMedia(ctx context.Context, conn *domain.Connection, callID uuid.UUID, media domain.MediaType, enabled bool) error {
	return s.relay(conn, callID, domain.Event{
		Type: domain.EvCallMedia,
		Payload: map[string]any{
			"media":   string(media),
			"enabled": enabled,
		},
	}, false)
}

// HangupUser ends whatever session the user holds. Called when their last
// connection drops so the peer is not left ringing or talking to nobody.
func (s *CallService) HangupUser(ctx context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	callID, ok := s.byUser[userID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	session := s.sessions[callID]
	duration := session.Duration(time.Now().UTC())
	session.State = domain.CallEnded
	s.removeLocked(session)
	s.mu.Unlock()

	s.log.Info("call ended by disconnect", slog.String("call_id", callID.String()), slog.String("user_id", userID.String()))

	payload := callPayload(session)
	payload["duration_ms"] = duration.Milliseconds()
	payload["ended_by"] = userID.String()
	ended := domain.Event{Type: domain.EvCallEnded, Payload: payload}
	s.fanout.SendToUser(session.CallerID, ended)
	s.fanout.SendToUser(session.TargetID, ended)
	s.publisher.Publish(ctx, "call.ended", payload)
	return nil
}

// ActiveSession exposes the user's current call for the REST snapshot.
func (s *CallService) ActiveSession(userID uuid.UUID) *domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if callID, ok := s.byUser[userID]; ok {
		return s.sessions[callID]
	}
	return nil
}

// relay forwards an opaque payload to the session's other party. When
// missingOK is set a vanished session is swallowed (late ICE candidates).
func (s *CallService) relay(conn *domain.Connection, callID uuid.UUID, event domain.Event, missingOK bool) error {
	s.mu.RLock()
	session, ok := s.sessions[callID]
	s.mu.RUnlock()
	if !ok {
		if missingOK {
			return nil
		}
		return ErrCallNotFound
	}

	other, party := session.OtherParty(conn.UserID)
	if !party {
		return ErrNotCallParty
	}

	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	event.Payload["call_id"] = callID.String()
	event.Payload["from"] = conn.UserID.String()
	s.fanout.SendToUser(other, event)
	return nil
}

// timeout fires when a ringing session is neither accepted nor rejected
// within the window.
func (s *CallService) timeout(callID uuid.UUID) {
	s.mu.Lock()
	session, ok := s.sessions[callID]
	if !ok || session.State != domain.CallRinging {
		s.mu.Unlock()
		return
	}
	s.removeLocked(session)
	s.mu.Unlock()

	s.log.Info("call timed out", slog.String("call_id", callID.String()))

	timedOut := domain.Event{Type: domain.EvCallTimeout, Payload: callPayload(session)}
	s.fanout.SendToUser(session.CallerID, timedOut)
	s.fanout.SendToUser(session.TargetID, timedOut)
}

// removeLocked drops every index entry for a session. Caller holds s.mu.
func (s *CallService) removeLocked(session *domain.CallSession) {
	delete(s.sessions, session.ID)
	delete(s.byUser, session.CallerID)
	delete(s.byUser, session.TargetID)
	s.cancelTimerLocked(session.ID)
	metrics.ActiveCalls.Dec()
}

func (s *CallService) cancelTimerLocked(callID uuid.UUID) {
	if timer, ok := s.timers[callID]; ok {
		timer.Stop()
		delete(s.timers, callID)
	}
}

func callPayload(session *domain.CallSession) map[string]any {
	return map[string]any{
		"call_id":     session.ID.String(),
		"caller_id":   session.CallerID.String(),
		"caller_name": session.CallerName,
		"target_id":   session.TargetID.String(),
		"target_name": session.TargetName,
		"media":       string(session.Media),
		"state":       string(session.State),
	}
}
