package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agent-event-relay/backend/internal/model"
)

// NotificationRepository provides data access for server-side
// notifications. Mark-read and delete are idempotent so the client sync
// service can blindly retry them.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a new notification for a user.
func (r *NotificationRepository) Create(ctx context.Context, userID string, n *model.Notification) error {
	metadataJSON, err := metadataToJSON(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, type, title, message, metadata, read, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		n.ID,
		userID,
		n.Type,
		n.Title,
		n.Message,
		metadataJSON,
		n.Read,
		n.CreatedAt,
		n.LastModified,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetByID retrieves a notification by its ID.
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := `
		SELECT id, type, title, message, metadata, read, created_at, last_modified
		FROM notifications
		WHERE id = ?
	`

	n := &model.Notification{}
	var metadataJSON sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID,
		&n.Type,
		&n.Title,
		&n.Message,
		&metadataJSON,
		&n.Read,
		&n.CreatedAt,
		&n.LastModified,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotificationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}

	if metadataJSON.Valid {
		if err := metadataFromJSON(metadataJSON.String, n); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	return n, nil
}

// ListChangedSince retrieves all of a user's notifications modified
// after the given timestamp, oldest first. Read-state changes count as
// modifications.
func (r *NotificationRepository) ListChangedSince(ctx context.Context, userID string, since time.Time) ([]*model.Notification, error) {
	query := `
		SELECT id, type, title, message, metadata, read, created_at, last_modified
		FROM notifications
		WHERE user_id = ? AND last_modified > ?
		ORDER BY last_modified ASC
	`

	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var metadataJSON sql.NullString

		err := rows.Scan(
			&n.ID,
			&n.Type,
			&n.Title,
			&n.Message,
			&metadataJSON,
			&n.Read,
			&n.CreatedAt,
			&n.LastModified,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if metadataJSON.Valid {
			if err := metadataFromJSON(metadataJSON.String, n); err != nil {
				return nil, fmt.Errorf("failed to parse metadata: %w", err)
			}
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkRead marks a notification read. Idempotent: marking an already
// read or already deleted notification succeeds without effect.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET read = 1, last_modified = ?
		WHERE id = ? AND read = 0
	`

	if _, err := r.db.ExecContext(ctx, query, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	return nil
}

// Delete removes a notification. Idempotent: deleting a missing
// notification succeeds.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM notifications WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	return nil
}

func metadataToJSON(metadata map[string]string) (string, error) {
	if metadata == nil {
		return "", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func metadataFromJSON(data string, n *model.Notification) error {
	if data == "" {
		n.Metadata = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &n.Metadata)
}
