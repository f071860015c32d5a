package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/auth"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/internal/service"
)

const identityKey = "identity"

// RequireAuth verifies the bearer token and stows the identity in the request
// context for the handlers below.
func RequireAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		identity, err := verifier.Verify(bearerToken(ctx.GetHeader("Authorization")))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(identityKey, identity)
		ctx.Next()
	}
}

func currentIdentity(ctx *gin.Context) *auth.Identity {
	identity, _ := ctx.MustGet(identityKey).(*auth.Identity)
	return identity
}

// RestController is the read-side HTTP surface plus conversation creation.
// Everything mutating messages, documents, and calls goes over the websocket.
type RestController struct {
	identity service.IdentityInteractor
	chat     service.ChatInteractor
	collab   service.CollabInteractor
	presence service.PresenceInteractor
	calls    service.CallInteractor
}

func NewRestController(
	identity service.IdentityInteractor,
	chat service.ChatInteractor,
	collab service.CollabInteractor,
	presence service.PresenceInteractor,
	calls service.CallInteractor,
) *RestController {
	return &RestController{
		identity: identity,
		chat:     chat,
		collab:   collab,
		presence: presence,
		calls:    calls,
	}
}

func (c *RestController) CreateConversation(ctx *gin.Context) {
	type CreateConversationRequest struct {
		Participants []string `json:"participants" binding:"required"`
		IsGroup      bool     `json:"is_group"`
		GroupName    string   `json:"group_name"`
	}
	var req CreateConversationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	me := currentIdentity(ctx)
	ids := make([]uuid.UUID, 0, len(req.Participants)+1)
	for _, p := range req.Participants {
		id, err := uuid.Parse(p)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
			return
		}
		ids = append(ids, id)
	}
	found := false
	for _, id := range ids {
		if id == me.UserID {
			found = true
			break
		}
	}
	if !found {
		ids = append(ids, me.UserID)
	}

	names := make([]string, len(ids))
	for i, id := range ids {
		if id == me.UserID {
			names[i] = me.Username
			continue
		}
		user, err := c.identity.GetUser(ctx.Request.Context(), id)
		if err != nil {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown participant", "user_id": id.String()})
			return
		}
		names[i] = user.Name
	}

	conv, err := c.chat.CreateConversation(ctx.Request.Context(), me.UserID, ids, names, req.IsGroup, req.GroupName)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (c *RestController) ListConversations(ctx *gin.Context) {
	convs, err := c.chat.ListConversations(ctx.Request.Context(), currentIdentity(ctx).UserID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (c *RestController) ListMessages(ctx *gin.Context) {
	convID, err := uuid.Parse(ctx.Param("conversationID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	limit := 50
	if raw := ctx.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	var beforeSeq int64
	if raw := ctx.Query("before_seq"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			beforeSeq = v
		}
	}

	msgs, err := c.chat.ListMessages(ctx.Request.Context(), currentIdentity(ctx).UserID, convID, limit, beforeSeq)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (c *RestController) ListDocuments(ctx *gin.Context) {
	convID, err := uuid.Parse(ctx.Param("conversationID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	docs, err := c.collab.ListDocuments(ctx.Request.Context(), currentIdentity(ctx).UserID, convID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"documents": docs})
}

// GetPresence returns cached presence, either for everyone or for the
// comma-separated user_ids filter.
func (c *RestController) GetPresence(ctx *gin.Context) {
	var ids []uuid.UUID
	if raw := ctx.Query("user_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
				return
			}
			ids = append(ids, id)
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"presence": c.presence.Snapshot(ids)})
}

func (c *RestController) GetActiveCall(ctx *gin.Context) {
	session := c.calls.ActiveSession(currentIdentity(ctx).UserID)
	if session == nil {
		ctx.JSON(http.StatusOK, gin.H{"call": nil})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"call": gin.H{
		"call_id":     session.ID.String(),
		"caller_id":   session.CallerID.String(),
		"caller_name": session.CallerName,
		"target_id":   session.TargetID.String(),
		"target_name": session.TargetName,
		"media":       string(session.Media),
		"state":       string(session.State),
		"started_at":  session.StartedAt,
	}})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrConversationNotFound),
		errors.Is(err, repository.ErrMessageNotFound),
		errors.Is(err, repository.ErrDocumentNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
