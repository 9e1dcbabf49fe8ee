package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agent-event-relay/backend/internal/db"
	"github.com/agent-event-relay/backend/internal/model"
)

func setupNotificationRepo(t *testing.T) (*NotificationRepository, *sql.DB) {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewNotificationRepository(testDB), testDB
}

func newNotification(title string, modified time.Time) *model.Notification {
	return &model.Notification{
		ID:           uuid.New().String(),
		Type:         "execution_completed",
		Title:        title,
		Message:      "body",
		Metadata:     map[string]string{"executionId": "e1"},
		CreatedAt:    modified,
		LastModified: modified,
	}
}

func TestNotificationCreateAndGet(t *testing.T) {
	repo, _ := setupNotificationRepo(t)
	ctx := context.Background()

	n := newNotification("run finished", time.Now())
	if err := repo.Create(ctx, "u1", n); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != n.Title || got.Message != n.Message || got.Type != n.Type {
		t.Errorf("retrieved notification does not match: %+v", got)
	}
	if got.Metadata["executionId"] != "e1" {
		t.Errorf("metadata not round-tripped: %+v", got.Metadata)
	}

	if _, err := repo.GetByID(ctx, "missing"); err != model.ErrNotificationNotFound {
		t.Errorf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	repo, _ := setupNotificationRepo(t)
	ctx := context.Background()

	n := newNotification("run finished", time.Now())
	if err := repo.Create(ctx, "u1", n); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	got, err := repo.GetByID(ctx, n.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Read {
		t.Error("expected notification to be read")
	}
	firstModified := got.LastModified

	// A retried mark-read succeeds and does not bump last_modified.
	if err := repo.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("retried mark read failed: %v", err)
	}
	got, _ = repo.GetByID(ctx, n.ID)
	if !got.LastModified.Equal(firstModified) {
		t.Error("retried mark-read should not modify the record again")
	}

	// Marking a missing notification also succeeds.
	if err := repo.MarkRead(ctx, "missing"); err != nil {
		t.Errorf("mark read of missing notification should succeed, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo, _ := setupNotificationRepo(t)
	ctx := context.Background()

	n := newNotification("run finished", time.Now())
	if err := repo.Create(ctx, "u1", n); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Delete(ctx, n.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := repo.Delete(ctx, n.ID); err != nil {
		t.Errorf("retried delete should succeed, got %v", err)
	}
	if _, err := repo.GetByID(ctx, n.ID); err != model.ErrNotificationNotFound {
		t.Errorf("expected ErrNotificationNotFound after delete, got %v", err)
	}
}

func TestListChangedSinceWatermark(t *testing.T) {
	repo, _ := setupNotificationRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	old := newNotification("old", base)
	recent := newNotification("recent", base.Add(30*time.Minute))
	foreign := newNotification("foreign", base.Add(45*time.Minute))

	if err := repo.Create(ctx, "u1", old); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, "u1", recent); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, "u2", foreign); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Only u1's changes after the watermark, oldest first.
	got, err := repo.ListChangedSince(ctx, "u1", base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != recent.ID {
		t.Fatalf("unexpected result: %+v", got)
	}

	// A read-state change counts as a modification.
	if err := repo.MarkRead(ctx, old.ID); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	got, err = repo.ListChangedSince(ctx, "u1", base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 changed notifications, got %d", len(got))
	}
	// Ascending by last_modified: "recent" before the just-touched "old".
	if got[0].ID != recent.ID || got[1].ID != old.ID {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	// A zero watermark returns everything for the user.
	got, err = repo.ListChangedSince(ctx, "u1", time.Time{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 notifications for zero watermark, got %d", len(got))
	}
}
