package domain

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
)

type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceTablet  DeviceType = "tablet"
)

// Device describes one live connection's endpoint.
type Device struct {
	Type     DeviceType `json:"type"`
	LastSeen time.Time  `json:"last_seen"`
}

// PresenceRecord is the per-user aggregated availability state. Created
// lazily on first connection and kept for the lifetime of the process (and
// persisted, so last-seen survives restarts). Invariant: Status is online iff
// Connections is non-empty, except immediately after an explicit logout.
type PresenceRecord struct {
	Mutex        sync.RWMutex
	UserID       uuid.UUID
	Username     string
	Status       PresenceStatus
	CustomStatus string
	Connections  map[string]struct{}
	Devices      map[string]Device
	DND          bool
	DNDExpiresAt time.Time
	DNDMessage   string
	LastSeen     time.Time
}

func NewPresenceRecord(userID uuid.UUID, username string) *PresenceRecord {
	return &PresenceRecord{
		UserID:      userID,
		Username:    username,
		Status:      PresenceOffline,
		Connections: make(map[string]struct{}),
		Devices:     make(map[string]Device),
		LastSeen:    time.Now().UTC(),
	}
}

// DNDActive reports whether the Do-Not-Disturb window is on and not expired.
// Callers must hold the record lock.
func (p *PresenceRecord) DNDActive(now time.Time) bool {
	if !p.DND {
		return false
	}
	if p.DNDExpiresAt.IsZero() {
		return true
	}
	return now.Before(p.DNDExpiresAt)
}

var tabletPatterns = []string{"ipad", "tablet", "kindle", "silk", "playbook"}
var mobilePatterns = []string{"mobi", "iphone", "android", "phone", "ipod"}

// DeviceTypeFromUserAgent classifies a connection's endpoint. Tablet patterns
// are checked before the broader mobile patterns; everything else is desktop.
func DeviceTypeFromUserAgent(ua string) DeviceType {
	lower := strings.ToLower(ua)
	for _, p := range tabletPatterns {
		if strings.Contains(lower, p) {
			return DeviceTablet
		}
	}
	for _, p := range mobilePatterns {
		if strings.Contains(lower, p) {
			return DeviceMobile
		}
	}
	return DeviceDesktop
}
