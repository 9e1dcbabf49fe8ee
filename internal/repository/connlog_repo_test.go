package repository

import (
	"context"
	"testing"
	"time"

	"github.com/agent-event-relay/backend/internal/db"
	"github.com/agent-event-relay/backend/internal/model"
)

func TestConnectionLogLifecycle(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer testDB.Close()

	repo := NewConnectionLogRepository(testDB)
	ctx := context.Background()

	connectedAt := time.Now().Add(-time.Minute)
	if err := repo.RecordConnect(ctx, &model.ConnectionLogEntry{
		SessionID:   "s1",
		UserID:      "u1",
		RemoteAddr:  "10.0.0.1:4242",
		ConnectedAt: connectedAt,
	}); err != nil {
		t.Fatalf("record connect failed: %v", err)
	}

	entries, err := repo.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].DisconnectedAt != nil {
		t.Error("expected open entry to have no disconnect time")
	}

	now := time.Now()
	if err := repo.RecordDisconnect(ctx, "s1", &model.ConnectionLogEntry{
		DisconnectedAt: &now,
		BytesSent:      1024,
		BytesReceived:  256,
		MessageCount:   12,
		Reason:         "client closed",
	}); err != nil {
		t.Fatalf("record disconnect failed: %v", err)
	}

	entries, _ = repo.ListRecent(ctx, 10)
	got := entries[0]
	if got.DisconnectedAt == nil || got.BytesSent != 1024 || got.BytesReceived != 256 || got.MessageCount != 12 {
		t.Errorf("disconnect not persisted: %+v", got)
	}
	if got.Reason != "client closed" {
		t.Errorf("expected reason to be persisted, got %q", got.Reason)
	}
}

func TestConnectionAggregateSince(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer testDB.Close()

	repo := NewConnectionLogRepository(testDB)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	disconnectedAt := time.Now()

	for _, e := range []struct {
		id          string
		connectedAt time.Time
		sent        int64
	}{
		{"s-old", old, 100},
		{"s-new", recent, 200},
	} {
		if err := repo.RecordConnect(ctx, &model.ConnectionLogEntry{
			SessionID:   e.id,
			RemoteAddr:  "addr",
			ConnectedAt: e.connectedAt,
		}); err != nil {
			t.Fatalf("record connect failed: %v", err)
		}
		if err := repo.RecordDisconnect(ctx, e.id, &model.ConnectionLogEntry{
			DisconnectedAt: &disconnectedAt,
			BytesSent:      e.sent,
			MessageCount:   1,
		}); err != nil {
			t.Fatalf("record disconnect failed: %v", err)
		}
	}

	agg, err := repo.Aggregate(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.TotalConnections != 1 || agg.TotalBytesSent != 200 {
		t.Errorf("unexpected 24h aggregate: %+v", agg)
	}

	agg, err = repo.Aggregate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.TotalConnections != 2 || agg.TotalBytesSent != 300 || agg.TotalMessages != 2 {
		t.Errorf("unexpected all-time aggregate: %+v", agg)
	}
}
