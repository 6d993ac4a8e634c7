package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"registration-service/internal/models"
	"registration-service/internal/util"
)

const insertSecurityEvent = `INSERT INTO security_events (
    event_bucket, event_date, event_time, event_id, event_type,
    subject_hash, user_id, purpose, channel, details
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SecurityEventRepository appends audit events partitioned by
// (event_bucket, event_date).
type SecurityEventRepository struct {
	client *ScyllaClient
}

func NewSecurityEventRepository(client *ScyllaClient) *SecurityEventRepository {
	return &SecurityEventRepository{client: client}
}

func (r *SecurityEventRepository) Name() string { return "scylla" }

func (r *SecurityEventRepository) Write(ctx context.Context, e models.SecurityEvent) error {
	query := r.client.Session.Query(insertSecurityEvent,
		e.EventBucket, e.EventDate, e.EventTime, e.EventID, e.EventType,
		e.SubjectHash, e.UserID, e.Purpose, e.Channel, e.Details)

	if err := r.client.ExecuteWithRetry(ctx, query, 2); err != nil {
		util.Error("Failed to insert security event",
			zap.String("event_id", e.EventID),
			zap.String("event_type", e.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}
