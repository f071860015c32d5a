package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelchat/kestrel/internal/domain"
	"github.com/kestrelchat/kestrel/internal/repository"
)

func newPresenceService(t *testing.T) (*PresenceService, *fakeFanout) {
	t.Helper()
	fanout := newFakeFanout()
	svc := NewPresenceService(repository.NewInMemoryPresenceRepository(), fanout, nil, newTestLogger())
	return svc, fanout
}

func TestPresence_OnlineIffConnected(t *testing.T) {
	svc, _ := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()

	c1 := domain.NewConnection(user, "alice", "Mozilla/5.0")
	c2 := domain.NewConnection(user, "alice", "Mozilla/5.0 (iPhone)")

	if err := svc.Connect(ctx, c1); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := svc.Connect(ctx, c2); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rec := svc.record(user)
	if rec == nil {
		t.Fatal("record should exist after connect")
	}
	rec.Mutex.RLock()
	status, connCount, devCount := rec.Status, len(rec.Connections), len(rec.Devices)
	rec.Mutex.RUnlock()
	if status != domain.PresenceOnline {
		t.Errorf("status = %s, want online", status)
	}
	if connCount != 2 || devCount != 2 {
		t.Errorf("connections/devices = %d/%d, want 2/2", connCount, devCount)
	}

	if err := svc.Disconnect(ctx, c1); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	rec.Mutex.RLock()
	status = rec.Status
	rec.Mutex.RUnlock()
	if status != domain.PresenceOnline {
		t.Error("status should stay online while one connection remains")
	}

	if err := svc.Disconnect(ctx, c2); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	rec.Mutex.RLock()
	status, devCount = rec.Status, len(rec.Devices)
	rec.Mutex.RUnlock()
	if status != domain.PresenceOffline {
		t.Errorf("status = %s, want offline after last disconnect", status)
	}
	if devCount != 0 {
		t.Errorf("devices = %d, want 0 after offline", devCount)
	}
}

func TestPresence_StatusChangeKeepsConnections(t *testing.T) {
	svc, fanout := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()
	conn := domain.NewConnection(user, "bob", "")

	if err := svc.Connect(ctx, conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := svc.UpdateStatus(ctx, user, domain.PresenceBusy, "in a meeting"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	rec := svc.record(user)
	rec.Mutex.RLock()
	status, custom, conns := rec.Status, rec.CustomStatus, len(rec.Connections)
	rec.Mutex.RUnlock()
	if status != domain.PresenceBusy || custom != "in a meeting" {
		t.Errorf("status/custom = %s/%q", status, custom)
	}
	if conns != 1 {
		t.Errorf("status change should not touch connection set, got %d", conns)
	}

	broadcasts := fanout.globalEvents()
	if len(broadcasts) < 2 {
		t.Fatalf("expected broadcasts for connect and status change, got %d", len(broadcasts))
	}
	last := broadcasts[len(broadcasts)-1]
	if last.Type != domain.EvPresenceChanged || last.Payload["status"] != "busy" {
		t.Errorf("last broadcast = %+v", last)
	}
}

func TestPresence_InvalidStatusRejected(t *testing.T) {
	svc, _ := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()
	conn := domain.NewConnection(user, "bob", "")
	if err := svc.Connect(ctx, conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := svc.UpdateStatus(ctx, user, domain.PresenceOffline, ""); err != ErrInvalidStatus {
		t.Errorf("offline via UpdateStatus should be rejected, got %v", err)
	}
	if err := svc.UpdateStatus(ctx, user, domain.PresenceStatus("invisible"), ""); err != ErrInvalidStatus {
		t.Errorf("unknown status should be rejected, got %v", err)
	}
}

func TestPresence_GoOfflineOverridesLiveConnections(t *testing.T) {
	svc, fanout := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()

	c1 := domain.NewConnection(user, "carol", "")
	c2 := domain.NewConnection(user, "carol", "Mozilla/5.0 (iPad)")
	if err := svc.Connect(ctx, c1); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := svc.Connect(ctx, c2); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := svc.GoOffline(ctx, user); err != nil {
		t.Fatalf("GoOffline: %v", err)
	}

	if svc.record(user) != nil {
		t.Error("in-memory record should be dropped on explicit logout")
	}
	signouts := fanout.sentToOfType(user, domain.EvPresenceSignout)
	if len(signouts) != 1 {
		t.Errorf("expected one signout push, got %d", len(signouts))
	}

	broadcasts := fanout.globalEvents()
	last := broadcasts[len(broadcasts)-1]
	if last.Payload["status"] != "offline" {
		t.Errorf("last broadcast status = %v, want offline", last.Payload["status"])
	}
}

func TestPresence_DNDExpiry(t *testing.T) {
	svc, _ := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()
	conn := domain.NewConnection(user, "dave", "")
	if err := svc.Connect(ctx, conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := svc.SetDND(ctx, user, true, 30*time.Millisecond, "focus time"); err != nil {
		t.Fatalf("SetDND: %v", err)
	}
	if !svc.DNDActive(user) {
		t.Error("DND should be active inside the window")
	}

	time.Sleep(60 * time.Millisecond)
	if svc.DNDActive(user) {
		t.Error("DND should expire after the window")
	}

	if err := svc.SetDND(ctx, user, true, 0, ""); err != nil {
		t.Fatalf("SetDND: %v", err)
	}
	if !svc.DNDActive(user) {
		t.Error("DND without expiry should stay active")
	}

	if err := svc.SetDND(ctx, user, false, 0, ""); err != nil {
		t.Fatalf("SetDND: %v", err)
	}
	if svc.DNDActive(user) {
		t.Error("DND should be off after disable")
	}
}

func TestPresence_HeartbeatRefreshesDevice(t *testing.T) {
	svc, fanout := newPresenceService(t)
	ctx := context.Background()
	user := uuid.New()
	conn := domain.NewConnection(user, "erin", "Mozilla/5.0 (Android)")
	if err := svc.Connect(ctx, conn); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	rec := svc.record(user)
	rec.Mutex.RLock()
	before := rec.Devices[conn.ID].LastSeen
	rec.Mutex.RUnlock()

	time.Sleep(5 * time.Millisecond)
	broadcastsBefore := len(fanout.globalEvents())
	if err := svc.Heartbeat(ctx, conn); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	rec.Mutex.RLock()
	after := rec.Devices[conn.ID].LastSeen
	rec.Mutex.RUnlock()
	if !after.After(before) {
		t.Error("heartbeat should refresh the device last-seen")
	}
	if len(fanout.globalEvents()) != broadcastsBefore {
		t.Error("heartbeat must not broadcast")
	}
}

func TestPresence_SnapshotSorted(t *testing.T) {
	svc, _ := newPresenceService(t)
	ctx := context.Background()

	for _, name := range []string{"zoe", "adam", "mia"} {
		conn := domain.NewConnection(uuid.New(), name, "")
		if err := svc.Connect(ctx, conn); err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	infos := svc.Snapshot(nil)
	if len(infos) != 3 {
		t.Fatalf("snapshot size = %d, want 3", len(infos))
	}
	for i, want := range []string{"adam", "mia", "zoe"} {
		if infos[i].Username != want {
			t.Errorf("infos[%d] = %s, want %s", i, infos[i].Username, want)
		}
	}
}
