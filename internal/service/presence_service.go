package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/events"
	"github.com/kestrelchat/kestrel/internal/repository"
	"github.com/kestrelchat/kestrel/lib/logger/sl"
)

var ErrInvalidStatus = errors.New("invalid presence status")

const persistTimeout = 5 * time.Second

type PresenceService struct {
	presence  repository.PresenceRepository
	fanout    Fanout
	publisher *events.Publisher
	log       *slog.Logger

	mu      sync.RWMutex
	records map[uuid.UUID]*domain.PresenceRecord
}

func NewPresenceService(presence repository.PresenceRepository, fanout Fanout, publisher *events.Publisher, log *slog.Logger) *PresenceService {
	if log == nil {
		log = slog.Default()
	}
	return &PresenceService{
		presence:  presence,
		fanout:    fanout,
		publisher: publisher,
		log:       log,
		records:   make(map[uuid.UUID]*domain.PresenceRecord),
	}
}

// Connect records a new live connection and its device, flipping the user to
// online when this is their first connection.
func (s *PresenceService) Connect(ctx context.Context, conn *domain.Connection) error {
	const op = "service.presence.connect"
	log := s.log.With(slog.String("op", op), slog.String("user_id", conn.UserID.String()))

	rec := s.ensureRecord(ctx, conn.UserID, conn.Username)

	rec.Mutex.Lock()
	rec.Connections[conn.ID] = struct{}{}
	rec.Devices[conn.ID] = domain.Device{
		Type:     domain.DeviceTypeFromUserAgent(conn.UserAgent),
		LastSeen: time.Now().UTC(),
	}
	if rec.Status == domain.PresenceOffline {
		rec.Status = domain.PresenceOnline
	}
	rec.LastSeen = time.Now().UTC()
	changed := s.changedEvent(rec)
	rec.Mutex.Unlock()

	log.Info("connection added", slog.String("conn_id", conn.ID))
	s.fanout.BroadcastAll(changed)
	s.publisher.Publish(ctx, "presence.changed", changed.Payload)
	s.persistAsync(rec)
	return nil
}

// Disconnect drops one connection. Emptying the set transitions the user to
// offline; otherwise status is untouched and nothing is broadcast.
func (s *PresenceService) Disconnect(ctx context.Context, conn *domain.Connection) error {
	const op = "service.presence.disconnect"
	log := s.log.With(slog.String("op", op), slog.String("user_id", conn.UserID.String()))

	rec := s.record(conn.UserID)
	if rec == nil {
		return nil
	}

	rec.Mutex.Lock()
	delete(rec.Connections, conn.ID)
	delete(rec.Devices, conn.ID)
	rec.LastSeen = time.Now().UTC()
	emptied := len(rec.Connections) == 0
	if emptied {
		rec.Status = domain.PresenceOffline
		rec.Devices = make(map[string]domain.Device)
	}
	changed := s.changedEvent(rec)
	rec.Mutex.Unlock()

	log.Info("connection removed", slog.String("conn_id", conn.ID), slog.Bool("offline", emptied))
	if emptied {
		s.fanout.BroadcastAll(changed)
		s.publisher.Publish(ctx, "presence.changed", changed.Payload)
	}
	s.persistAsync(rec)
	return nil
}

// UpdateStatus applies an explicit away/busy/online change with optional
// custom text. Offline is not reachable here; that is GoOffline's job.
func (s *PresenceService) UpdateStatus(ctx context.Context, userID uuid.UUID, status domain.PresenceStatus, customStatus string) error {
	switch status {
	case domain.PresenceOnline, domain.PresenceAway, domain.PresenceBusy:
	default:
		return ErrInvalidStatus
	}

	rec := s.record(userID)
	if rec == nil {
		return repository.ErrPresenceNotFound
	}

	rec.Mutex.Lock()
	rec.Status = status
	rec.CustomStatus = customStatus
	rec.LastSeen = time.Now().UTC()
	changed := s.changedEvent(rec)
	rec.Mutex.Unlock()

	s.fanout.BroadcastAll(changed)
	s.publisher.Publish(ctx, "presence.changed", changed.Payload)
	s.persistAsync(rec)
	return nil
}

// Heartbeat refreshes the caller's device last-seen. Non-authoritative: no
// state machine change, no broadcast, no write-through.
func (s *PresenceService) Heartbeat(ctx context.Context, conn *domain.Connection) error {
	rec := s.record(conn.UserID)
	if rec == nil {
		return nil
	}

	now := time.Now().UTC()
	rec.Mutex.Lock()
	if dev, ok := rec.Devices[conn.ID]; ok {
		dev.LastSeen = now
		rec.Devices[conn.ID] = dev
	}
	rec.LastSeen = now
	rec.Mutex.Unlock()
	return nil
}

// SetDND flips the Do-Not-Disturb window. Orthogonal to status: push
// suppression only, the status enum stays as-is.
func (s *PresenceService) SetDND(ctx context.Context, userID uuid.UUID, enabled bool, expiry time.Duration, message string) error {
	rec := s.record(userID)
	if rec == nil {
		return repository.ErrPresenceNotFound
	}

	rec.Mutex.Lock()
	rec.DND = enabled
	rec.DNDMessage = ""
	rec.DNDExpiresAt = time.Time{}
	if enabled {
		rec.DNDMessage = message
		if expiry > 0 {
			rec.DNDExpiresAt = time.Now().UTC().Add(expiry)
		}
	}
	changed := s.changedEvent(rec)
	rec.Mutex.Unlock()

	s.fanout.BroadcastAll(changed)
	s.persistAsync(rec)
	return nil
}

// GoOffline is the explicit "sign out everywhere" path: it clears every
// connection and device unconditionally, even if other devices are live, and
// drops the in-memory record. Each device is told to close via a signout
// event.
func (s *PresenceService) GoOffline(ctx context.Context, userID uuid.UUID) error {
	const op = "service.presence.goOffline"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID.String()))

	rec := s.record(userID)
	if rec == nil {
		return repository.ErrPresenceNotFound
	}

	rec.Mutex.Lock()
	rec.Status = domain.PresenceOffline
	rec.Connections = make(map[string]struct{})
	rec.Devices = make(map[string]domain.Device)
	rec.LastSeen = time.Now().UTC()
	changed := s.changedEvent(rec)
	rec.Mutex.Unlock()

	log.Info("explicit logout")
	s.fanout.BroadcastAll(changed)
	s.publisher.Publish(ctx, "presence.changed", changed.Payload)
	s.fanout.SendToUser(userID, domain.Event{Type: domain.EvPresenceSignout})
	s.persistAsync(rec)

	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
	return nil
}

// DNDActive reports whether pushes to the user should currently be skipped.
func (s *PresenceService) DNDActive(userID uuid.UUID) bool {
	rec := s.record(userID)
	if rec == nil {
		return false
	}

	rec.Mutex.RLock()
	defer rec.Mutex.RUnlock()
	return rec.DNDActive(time.Now().UTC())
}

// Snapshot projects cached presence for the given users; nil means everyone
// currently cached.
func (s *PresenceService) Snapshot(userIDs []uuid.UUID) []PresenceInfo {
	s.mu.RLock()
	records := make([]*domain.PresenceRecord, 0, len(s.records))
	if userIDs == nil {
		for _, rec := range s.records {
			records = append(records, rec)
		}
	} else {
		for _, id := range userIDs {
			if rec, ok := s.records[id]; ok {
				records = append(records, rec)
			}
		}
	}
	s.mu.RUnlock()

	infos := make([]PresenceInfo, 0, len(records))
	for _, rec := range records {
		rec.Mutex.RLock()
		infos = append(infos, PresenceInfo{
			UserID:       rec.UserID,
			Username:     rec.Username,
			Status:       rec.Status,
			CustomStatus: rec.CustomStatus,
			DND:          rec.DNDActive(time.Now().UTC()),
			LastSeen:     rec.LastSeen,
		})
		rec.Mutex.RUnlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Username < infos[j].Username })
	return infos
}

func (s *PresenceService) record(userID uuid.UUID) *domain.PresenceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[userID]
}

// ensureRecord returns the cached record, hydrating from storage on first
// touch and creating a fresh one for first-ever connections.
func (s *PresenceService) ensureRecord(ctx context.Context, userID uuid.UUID, username string) *domain.PresenceRecord {
	if rec := s.record(userID); rec != nil {
		return rec
	}

	loaded, err := s.presence.Load(ctx, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrPresenceNotFound) {
			s.log.Error("failed to load presence", slog.String("user_id", userID.String()), sl.Err(err))
		}
		loaded = domain.NewPresenceRecord(userID, username)
	}
	loaded.Username = username

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[userID]; ok {
		return existing
	}
	s.records[userID] = loaded
	return loaded
}

// changedEvent builds the presence-changed broadcast. Callers must hold the
// record lock.
func (s *PresenceService) changedEvent(rec *domain.PresenceRecord) domain.Event {
	return domain.Event{
		Type: domain.EvPresenceChanged,
		Payload: map[string]any{
			"user_id":       rec.UserID.String(),
			"username":      rec.Username,
			"status":        string(rec.Status),
			"custom_status": rec.CustomStatus,
			"dnd":           rec.DNDActive(time.Now().UTC()),
			"last_seen":     rec.LastSeen.Format(time.RFC3339Nano),
		},
	}
}

// persistAsync writes the record through without blocking the caller's event
// loop. The in-memory record stays authoritative on failure.
func (s *PresenceService) persistAsync(rec *domain.PresenceRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		rec.Mutex.RLock()
		err := s.presence.Save(ctx, rec)
		rec.Mutex.RUnlock()
		if err != nil {
			s.log.Error("failed to persist presence", slog.String("user_id", rec.UserID.String()), sl.Err(err))
		}
	}()
}
