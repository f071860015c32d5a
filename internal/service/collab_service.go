package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/crdt"
	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/hub"
	"github.com/kestrelchat/kestrel/internal/metrics"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

var ErrDocumentNotOpen = errors.New("document is not open")

// docEntry is the in-memory side of one open document: the live replica, the
// debounce timer, the last syncing user, and the participant set that gates
// every operation on the entry. Each entry carries its own lock so unrelated
// documents never serialize on each other.
type docEntry struct {
	mu           sync.Mutex
	replica      *crdt.Replica
	timer        *time.Timer
	modifiedBy   uuid.UUID
	participants map[uuid.UUID]struct{}
}

func (e *docEntry) hasParticipant(userID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.participants[userID]
	return ok
}

func (e *docEntry) addParticipant(userID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.participants[userID] = struct{}{}
}

type CollabService struct {
	docs     repository.DocumentRepository
	convs    repository.ConversationRepository
	fanout   Fanout
	log      *slog.Logger
	debounce time.Duration

	mu   sync.Mutex
	open map[uuid.UUID]*docEntry
}

func NewCollabService(docs repository.DocumentRepository, convs repository.ConversationRepository, fanout Fanout, debounce time.Duration, log *slog.Logger) *CollabService {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &CollabService{
		docs:     docs,
		convs:    convs,
		fanout:   fanout,
		log:      log,
		debounce: debounce,
		open:     make(map[uuid.UUID]*docEntry),
	}
}

// CreateDocument instantiates a fresh replica, auto-joins the creator, and
// tells the other conversation participants (via personal groups, since none
// of them has joined the document room yet) that a document exists.
func (s *CollabService) CreateDocument(ctx context.Context, creator *domain.Connection, convID uuid.UUID, title, fileType string) (*domain.Document, error) {
	const op = "service.collab.createDocument"
	log := s.log.With(slog.String("op", op), slog.String("user_id", creator.UserID.String()))

	if title == "" {
		return nil, errors.New("document title is required")
	}

	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(creator.UserID) {
		return nil, ErrNotParticipant
	}

	doc := domain.NewDocument(convID, title, fileType, creator.UserID, creator.Username)
	if err := s.docs.Create(ctx, doc); err != nil {
		log.Error("failed to create document", sl.Err(err))
		return nil, err
	}

	s.mu.Lock()
	s.open[doc.ID] = &docEntry{
		replica:      crdt.NewReplica(),
		participants: map[uuid.UUID]struct{}{creator.UserID: {}},
	}
	s.mu.Unlock()

	s.fanout.Join(hub.DocumentRoom(doc.ID), creator)

	notify := domain.Event{Type: domain.EvCollabCreated, Payload: documentPayload(doc)}
	for _, id := range conv.Participants {
		if id == creator.UserID {
			continue
		}
		s.fanout.SendToUser(id, notify)
	}

	log.Info("document created", slog.String("document_id", doc.ID.String()), slog.String("title", title))
	return doc, nil
}

// JoinDocument validates conversation membership, enrolls late-joining users
// as document participants, hydrates the replica from the last persisted blob
// when the document is reopened, and hands the full current state back.
func (s *CollabService) JoinDocument(ctx context.Context, conn *domain.Connection, docID uuid.UUID) (*domain.Document, []byte, error) {
	const op = "service.collab.joinDocument"
	log := s.log.With(slog.String("op", op), slog.String("document_id", docID.String()))

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.convs.GetByID(ctx, doc.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.HasParticipant(conn.UserID) {
		return nil, nil, ErrNotParticipant
	}

	if !doc.HasParticipant(conn.UserID) {
		doc.AddParticipant(conn.UserID, conn.Username)
		if err := s.docs.Save(ctx, doc); err != nil {
			log.Error("failed to add participant", sl.Err(err))
			return nil, nil, err
		}
	}

	entry, err := s.ensureOpen(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	entry.addParticipant(conn.UserID)
	state := entry.replica.EncodeState()

	s.fanout.Join(hub.DocumentRoom(docID), conn)
	s.fanout.Broadcast(hub.DocumentRoom(docID), domain.Event{
		Type: domain.EvCollabJoined,
		Payload: map[string]any{
			"document_id": docID.String(),
			"user_id":     conn.UserID.String(),
			"username":    conn.Username,
			"color":       domain.AwarenessColor(conn.UserID),
		},
	}, conn.ID)

	return doc, state, nil
}

// Sync is the core correctness path: apply the fragment to the replica, then
// rebroadcast the identical bytes to every other room member. Fragments are
// commutative and idempotent by CRDT construction, so no server-side conflict
// resolution happens here. Each sync also resets the document's debounced
// persistence timer.
func (s *CollabService) Sync(ctx context.Context, conn *domain.Connection, docID uuid.UUID, update []byte) error {
	entry := s.openEntry(docID)
	if entry == nil {
		return ErrDocumentNotOpen
	}
	if !entry.hasParticipant(conn.UserID) {
		return ErrNotParticipant
	}

	if err := entry.replica.Apply(update); err != nil {
		return err
	}
	metrics.SyncFragmentsTotal.Inc()

	s.fanout.Broadcast(hub.DocumentRoom(docID), domain.Event{
		Type: domain.EvCollabSync,
		Payload: map[string]any{
			"document_id": docID.String(),
			"user_id":     conn.UserID.String(),
			"update":      update,
		},
	}, conn.ID)

	entry.mu.Lock()
	entry.modifiedBy = conn.UserID
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.timer = time.AfterFunc(s.debounce, func() { s.persistBackground(docID, entry) })
	entry.mu.Unlock()
	return nil
}

// LeaveDocument drops the connection from the room, tells the remaining
// members, and persists immediately rather than waiting out the debounce.
func (s *CollabService) LeaveDocument(ctx context.Context, conn *domain.Connection, docID uuid.UUID) error {
	entry := s.openEntry(docID)
	if entry == nil {
		return ErrDocumentNotOpen
	}
	if !entry.hasParticipant(conn.UserID) {
		return ErrNotParticipant
	}

	s.fanout.Leave(hub.DocumentRoom(docID), conn.ID)
	s.fanout.Broadcast(hub.DocumentRoom(docID), domain.Event{
		Type: domain.EvCollabLeft,
		Payload: map[string]any{
			"document_id": docID.String(),
			"user_id":     conn.UserID.String(),
			"username":    conn.Username,
		},
	}, conn.ID)

	entry.mu.Lock()
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.mu.Unlock()
	s.persist(ctx, docID, entry)
	return nil
}

// Awareness relays cursor/selection state, enriched with the user's stable
// display color. Never persisted.
func (s *CollabService) Awareness(ctx context.Context, conn *domain.Connection, docID uuid.UUID, payload map[string]any) error {
	entry := s.openEntry(docID)
	if entry == nil {
		return ErrDocumentNotOpen
	}
	if !entry.hasParticipant(conn.UserID) {
		return ErrNotParticipant
	}

	enriched := map[string]any{
		"document_id": docID.String(),
		"user_id":     conn.UserID.String(),
		"username":    conn.Username,
		"color":       domain.AwarenessColor(conn.UserID),
	}
	for k, v := range payload {
		if _, taken := enriched[k]; !taken {
			enriched[k] = v
		}
	}

	s.fanout.Broadcast(hub.DocumentRoom(docID), domain.Event{
		Type:    domain.EvCollabAwareness,
		Payload: enriched,
	}, conn.ID)
	return nil
}

func (s *CollabService) ListDocuments(ctx context.Context, userID, convID uuid.UUID) ([]*domain.Document, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return s.docs.ListByConversation(ctx, convID)
}

// Flush writes every open replica through. Called on shutdown so the debounce
// window cannot lose the tail of an editing session.
func (s *CollabService) Flush(ctx context.Context) {
	s.mu.Lock()
	entries := make(map[uuid.UUID]*docEntry, len(s.open))
	for id, entry := range s.open {
		entries[id] = entry
	}
	s.mu.Unlock()

	for id, entry := range entries {
		entry.mu.Lock()
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.mu.Unlock()
		s.persist(ctx, id, entry)
	}
}

func (s *CollabService) openEntry(docID uuid.UUID) *docEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open[docID]
}

// ensureOpen returns the live entry, hydrating the replica from the persisted
// blob and the participant set from the document row on first join after a
// restart or reopen.
func (s *CollabService) ensureOpen(ctx context.Context, doc *domain.Document) (*docEntry, error) {
	if entry := s.openEntry(doc.ID); entry != nil {
		return entry, nil
	}

	blob, err := s.docs.LoadBlob(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	replica, err := crdt.FromState(blob)
	if err != nil {
		s.log.Warn("document blob unreadable, starting fresh", slog.String("document_id", doc.ID.String()), sl.Err(err))
		replica = crdt.NewReplica()
	}
	participants := make(map[uuid.UUID]struct{}, len(doc.Participants))
	for _, id := range doc.Participants {
		participants[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.open[doc.ID]; ok {
		return existing, nil
	}
	entry := &docEntry{replica: replica, participants: participants}
	s.open[doc.ID] = entry
	return entry, nil
}

// persistBackground is the debounce-timer flavor of persist: timers have no
// caller context, so it gets its own bounded one.
func (s *CollabService) persistBackground(docID uuid.UUID, entry *docEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	s.persist(ctx, docID, entry)
}

func (s *CollabService) persist(ctx context.Context, docID uuid.UUID, entry *docEntry) {
	entry.mu.Lock()
	modifiedBy := entry.modifiedBy
	entry.mu.Unlock()

	state := entry.replica.EncodeState()
	if err := s.docs.SaveBlob(ctx, docID, state, modifiedBy); err != nil {
		s.log.Error("failed to persist document", slog.String("document_id", docID.String()), sl.Err(err))
		return
	}
	s.log.Debug("document persisted", slog.String("document_id", docID.String()), slog.Int("bytes", len(state)))
}

func documentPayload(doc *domain.Document) map[string]any {
	return map[string]any{
		"document_id":     doc.ID.String(),
		"conversation_id": doc.ConversationID.String(),
		"title":           doc.Title,
		"file_type":       doc.FileType,
		"creator_id":      doc.CreatorID.String(),
		"created_at":      doc.CreatedAt.Format(time.RFC3339Nano),
	}
}
