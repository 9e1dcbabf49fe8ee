package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agent-event-relay/backend/internal/model"
)

// ConnectionAggregate summarizes the connection log for the admin
// stats surface.
type ConnectionAggregate struct {
	TotalConnections   int64 `json:"totalConnections"`
	TotalBytesSent     int64 `json:"totalBytesSent"`
	TotalBytesReceived int64 `json:"totalBytesReceived"`
	TotalMessages      int64 `json:"totalMessages"`
}

// ConnectionLogRepository persists connection history. It implements
// the hub's ConnectionRecorder.
type ConnectionLogRepository struct {
	db *sql.DB
}

// NewConnectionLogRepository creates a new ConnectionLogRepository.
func NewConnectionLogRepository(db *sql.DB) *ConnectionLogRepository {
	return &ConnectionLogRepository{db: db}
}

// RecordConnect writes the connect half of a log entry.
func (r *ConnectionLogRepository) RecordConnect(ctx context.Context, entry *model.ConnectionLogEntry) error {
	query := `
		INSERT OR REPLACE INTO connection_log (session_id, user_id, remote_addr, connected_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID,
		entry.UserID,
		entry.RemoteAddr,
		entry.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record connect: %w", err)
	}

	return nil
}

// RecordDisconnect completes a log entry with the final counters.
func (r *ConnectionLogRepository) RecordDisconnect(ctx context.Context, sessionID string, entry *model.ConnectionLogEntry) error {
	query := `
		UPDATE connection_log
		SET disconnected_at = ?, bytes_sent = ?, bytes_received = ?, message_count = ?, reason = ?
		WHERE session_id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.DisconnectedAt,
		entry.BytesSent,
		entry.BytesReceived,
		entry.MessageCount,
		entry.Reason,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record disconnect: %w", err)
	}

	return nil
}

// ListRecent retrieves the most recent connection log entries.
func (r *ConnectionLogRepository) ListRecent(ctx context.Context, limit int) ([]*model.ConnectionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT session_id, user_id, remote_addr, connected_at, disconnected_at,
		       bytes_sent, bytes_received, message_count, reason
		FROM connection_log
		ORDER BY connected_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list connection log: %w", err)
	}
	defer rows.Close()

	var entries []*model.ConnectionLogEntry
	for rows.Next() {
		entry := &model.ConnectionLogEntry{}
		var userID sql.NullString
		var disconnectedAt sql.NullTime
		var reason sql.NullString

		err := rows.Scan(
			&entry.SessionID,
			&userID,
			&entry.RemoteAddr,
			&entry.ConnectedAt,
			&disconnectedAt,
			&entry.BytesSent,
			&entry.BytesReceived,
			&entry.MessageCount,
			&reason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection log entry: %w", err)
		}

		if userID.Valid {
			entry.UserID = userID.String
		}
		if disconnectedAt.Valid {
			t := disconnectedAt.Time
			entry.DisconnectedAt = &t
		}
		if reason.Valid {
			entry.Reason = reason.String
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connection log: %w", err)
	}

	return entries, nil
}

// Aggregate returns totals across the connection log since the given
// time. A zero time aggregates everything.
func (r *ConnectionLogRepository) Aggregate(ctx context.Context, since time.Time) (*ConnectionAggregate, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(bytes_sent), 0),
		       COALESCE(SUM(bytes_received), 0),
		       COALESCE(SUM(message_count), 0)
		FROM connection_log
		WHERE connected_at >= ?
	`

	agg := &ConnectionAggregate{}
	err := r.db.QueryRowContext(ctx, query, since).Scan(
		&agg.TotalConnections,
		&agg.TotalBytesSent,
		&agg.TotalBytesReceived,
		&agg.TotalMessages,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate connection log: %w", err)
	}

	return agg, nil
}
