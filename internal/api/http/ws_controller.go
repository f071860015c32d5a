package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kestrelchat/kestrel/internal/auth"
	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/hub"
	"github.com/kestrelchat/kestrel/internal/service"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

// WSController upgrades authenticated clients and runs the per-connection
// event loop. All realtime traffic goes through here; REST is read-side only.
type WSController struct {
	verifier *auth.Verifier
	identity service.IdentityInteractor
	hub      *hub.Hub
	presence service.PresenceInteractor
	chat     service.ChatInteractor
	collab   service.CollabInteractor
	calls    service.CallInteractor
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewWSController(
	verifier *auth.Verifier,
	identity service.IdentityInteractor,
	h *hub.Hub,
	presence service.PresenceInteractor,
	chat service.ChatInteractor,
	collab service.CollabInteractor,
	calls service.CallInteractor,
	log *slog.Logger,
) *WSController {
	if log == nil {
		log = slog.Default()
	}
	return &WSController{
		verifier: verifier,
		identity: identity,
		hub:      h,
		presence: presence,
		chat:     chat,
		collab:   collab,
		calls:    calls,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
	}
}

// Serve authenticates before upgrading: a bad token costs a plain 401 and
// never creates connection state.
func (c *WSController) Serve(ctx *gin.Context) {
	token := ctx.Query("token")
	if token == "" {
		token = bearerToken(ctx.GetHeader("Authorization"))
	}
	identity, err := c.verifier.Verify(token)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	if _, err := c.identity.EnsureUser(ctx.Request.Context(), identity.UserID, identity.Username, identity.Role); err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register user"})
		return
	}

	socket, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		return
	}

	conn := domain.NewConnection(identity.UserID, identity.Username, ctx.Request.UserAgent())
	conn.Socket = socket

	c.hub.Register(conn)
	go forwardEvents(conn)

	if err := c.chat.JoinConversationRooms(ctx.Request.Context(), conn); err != nil {
		c.log.Error("failed to join conversation rooms", slog.String("user_id", conn.UserID.String()), sl.Err(err))
	}
	if err := c.presence.Connect(ctx.Request.Context(), conn); err != nil {
		c.log.Error("failed to record presence", slog.String("user_id", conn.UserID.String()), sl.Err(err))
	}

	conn.EnqueueEvent(domain.Event{
		Type: domain.EvConnected,
		Payload: map[string]any{
			"connection_id": conn.ID,
			"user_id":       conn.UserID.String(),
			"username":      conn.Username,
		},
	})

	c.readLoop(conn)
}

// readLoop drives the connection until the socket dies, then tears down in a
// fixed order: registry first, then call hangup once the user's last device is
// gone, then presence.
func (c *WSController) readLoop(conn *domain.Connection) {
	defer func() {
		c.hub.Unregister(conn)
		if !c.hub.IsOnline(conn.UserID) {
			if err := c.calls.HangupUser(context.Background(), conn.UserID); err != nil {
				c.log.Error("failed to hang up on disconnect", slog.String("user_id", conn.UserID.String()), sl.Err(err))
			}
		}
		if err := c.presence.Disconnect(context.Background(), conn); err != nil {
			c.log.Error("failed to record disconnect", slog.String("user_id", conn.UserID.String()), sl.Err(err))
		}
		conn.Socket.Close()
	}()

	for {
		var evt domain.Event
		if err := conn.Socket.ReadJSON(&evt); err != nil {
			return
		}
		if err := c.dispatch(context.Background(), conn, evt); err != nil {
			conn.EnqueueEvent(domain.ErrorEvent(evt.Type, err))
		}
	}
}

func (c *WSController) dispatch(ctx context.Context, conn *domain.Connection, evt domain.Event) error {
	switch evt.Type {
	case domain.EvPresenceUpdate:
		status := domain.PresenceStatus(payloadString(evt.Payload, "status"))
		return c.presence.UpdateStatus(ctx, conn.UserID, status, payloadString(evt.Payload, "custom_status"))
	case domain.EvPresenceHeartbeat:
		return c.presence.Heartbeat(ctx, conn)
	case domain.EvPresenceDND:
		expiry := payloadDuration(evt.Payload, "expires_in_seconds")
		return c.presence.SetDND(ctx, conn.UserID, payloadBool(evt.Payload, "enabled"), expiry, payloadString(evt.Payload, "message"))
	case domain.EvPresenceOffline:
		return c.presence.GoOffline(ctx, conn.UserID)

	case domain.EvDMSend:
		return c.handleSend(ctx, conn, evt.Payload)
	case domain.EvDMJoin:
		convID, err := payloadUUID(evt.Payload, "conversation_id")
		if err != nil {
			return err
		}
		return c.chat.JoinConversation(ctx, conn, convID)
	case domain.EvDMTyping:
		convID, err := payloadUUID(evt.Payload, "conversation_id")
		if err != nil {
			return err
		}
		return c.chat.Typing(ctx, conn, convID, payloadBool(evt.Payload, "typing"))
	case domain.EvDMRead:
		convID, err := payloadUUID(evt.Payload, "conversation_id")
		if err != nil {
			return err
		}
		return c.chat.MarkRead(ctx, conn, convID, payloadInt64(evt.Payload, "up_to_seq"))
	case domain.EvDMEdit:
		msgID, err := payloadUUID(evt.Payload, "message_id")
		if err != nil {
			return err
		}
		_, err = c.chat.EditMessage(ctx, conn, msgID, payloadString(evt.Payload, "content"))
		return err
	case domain.EvDMDelete:
		msgID, err := payloadUUID(evt.Payload, "message_id")
		if err != nil {
			return err
		}
		return c.chat.DeleteMessage(ctx, conn, msgID)
	case domain.EvDMReact:
		msgID, err := payloadUUID(evt.Payload, "message_id")
		if err != nil {
			return err
		}
		return c.chat.ToggleReaction(ctx, conn, msgID, payloadString(evt.Payload, "emoji"))

	case domain.EvCollabCreate:
		return c.handleCollabCreate(ctx, conn, evt.Payload)
	case domain.EvCollabJoin:
		return c.handleCollabJoin(ctx, conn, evt.Payload)
	case domain.EvCollabSync:
		docID, err := payloadUUID(evt.Payload, "document_id")
		if err != nil {
			return err
		}
		update, err := payloadBytes(evt.Payload, "update")
		if err != nil {
			return err
		}
		return c.collab.Sync(ctx, conn, docID, update)
	case domain.EvCollabLeave:
		docID, err := payloadUUID(evt.Payload, "document_id")
		if err != nil {
			return err
		}
		return c.collab.LeaveDocument(ctx, conn, docID)
	case domain.EvCollabAwareness:
		docID, err := payloadUUID(evt.Payload, "document_id")
		if err != nil {
			return err
		}
		return c.collab.Awareness(ctx, conn, docID, evt.Payload)

	case domain.EvCallInitiate:
		targetID, err := payloadUUID(evt.Payload, "target_id")
		if err != nil {
			return err
		}
		media := domain.MediaType(payloadString(evt.Payload, "media"))
		_, err = c.calls.Initiate(ctx, conn, targetID, media, evt.SDP)
		return err
	case domain.EvCallAccept:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.Accept(ctx, conn, callID, evt.SDP)
	case domain.EvCallReject:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.Reject(ctx, conn, callID, payloadString(evt.Payload, "reason"))
	case domain.EvCallOffer:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.Offer(ctx, conn, callID, evt.SDP)
	case domain.EvCallAnswer:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.Answer(ctx, conn, callID, evt.SDP)
	case domain.EvCallCandidate:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.Candidate(ctx, conn, callID, evt.Candidate)
	case domain.EvCallEnd:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		return c.calls.End(ctx, conn, callID)
	case domain.EvCallMedia:
		callID, err := payloadUUID(evt.Payload, "call_id")
		if err != nil {
			return err
		}
		media := domain.MediaType(payloadString(evt.Payload, "media"))
		return c.calls.ToggleMedia(ctx, conn, callID, media, payloadBool(evt.Payload, "enabled"))
	}

	return errors.New("unknown event type")
}

func (c *WSController) handleSend(ctx context.Context, conn *domain.Connection, payload map[string]any) error {
	convID, err := payloadUUID(payload, "conversation_id")
	if err != nil {
		return err
	}

	var attachments []domain.Attachment
	if raw, ok := payload["attachments"]; ok {
		if err := reencode(raw, &attachments); err != nil {
			return errors.New("invalid attachments")
		}
	}
	var replyTo *domain.ReplyRef
	if raw, ok := payload["reply_to"]; ok && raw != nil {
		if err := reencode(raw, &replyTo); err != nil {
			return errors.New("invalid reply_to")
		}
	}

	_, err = c.chat.SendMessage(ctx, conn, convID,
		payloadString(payload, "content"),
		attachments, replyTo,
		payloadString(payload, "client_message_id"))
	return err
}

func (c *WSController) handleCollabCreate(ctx context.Context, conn *domain.Connection, payload map[string]any) error {
	convID, err := payloadUUID(payload, "conversation_id")
	if err != nil {
		return err
	}
	doc, err := c.collab.CreateDocument(ctx, conn, convID, payloadString(payload, "title"), payloadString(payload, "file_type"))
	if err != nil {
		return err
	}
	conn.EnqueueEvent(domain.Event{
		Type:    domain.EvCollabCreated,
		Payload: map[string]any{"document_id": doc.ID.String(), "document": doc},
	})
	return nil
}

// handleCollabJoin hands the full encoded state back to the joiner; everyone
// after that converges via incremental sync fragments.
func (c *WSController) handleCollabJoin(ctx context.Context, conn *domain.Connection, payload map[string]any) error {
	docID, err := payloadUUID(payload, "document_id")
	if err != nil {
		return err
	}
	doc, state, err := c.collab.JoinDocument(ctx, conn, docID)
	if err != nil {
		return err
	}
	conn.EnqueueEvent(domain.Event{
		Type: domain.EvCollabState,
		Payload: map[string]any{
			"document_id": docID.String(),
			"state":       state,
			"document":    doc,
		},
	})
	return nil
}

// forwardEvents is the write pump: one goroutine per connection owns the
// socket's write side. A signout event is delivered and then the socket is
// closed server-side, which unblocks the read loop into teardown.
func forwardEvents(conn *domain.Connection) {
	for event := range conn.Events {
		if err := conn.Socket.WriteJSON(event); err != nil {
			return
		}
		if event.Type == domain.EvPresenceSignout {
			conn.Socket.Close()
			return
		}
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func payloadString(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

func payloadBool(payload map[string]any, key string) bool {
	b, _ := payload[key].(bool)
	return b
}

// payloadInt64 accepts the float64 that encoding/json produces for numbers.
func payloadInt64(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func payloadDuration(payload map[string]any, key string) time.Duration {
	return time.Duration(payloadInt64(payload, key)) * time.Second
}

func payloadUUID(payload map[string]any, key string) (uuid.UUID, error) {
	s := payloadString(payload, key)
	if s == "" {
		return uuid.Nil, errors.New("missing " + key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.New("invalid " + key)
	}
	return id, nil
}

// payloadBytes decodes a base64 string field; []byte is accepted for events
// that were built server-side.
func payloadBytes(payload map[string]any, key string) ([]byte, error) {
	switch v := payload[key].(type) {
	case string:
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, errors.New("invalid " + key)
		}
		return raw, nil
	case []byte:
		return v, nil
	default:
		return nil, errors.New("missing " + key)
	}
}

// reencode round-trips a decoded JSON value into a typed struct.
func reencode(raw any, dst any) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}
