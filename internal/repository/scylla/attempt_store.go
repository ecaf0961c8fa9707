package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/agent-dispatch/internal/domain"
)

// AttemptStore persists the append-only dispatch attempt log in Scylla.
// Attempts are partitioned by (instance, day bucket) and clustered newest
// first, which matches how the reporting layer reads them.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// Append inserts an attempt record. Records are never mutated afterwards.
func (s *AttemptStore) Append(ctx context.Context, attempt domain.CallAttempt) error {
	bucket := bucketDate(attempt.CreatedAt)
	if err := s.session.Query(`INSERT INTO call_attempts_by_instance (instance_id, bucket, created_at, attempt_id, target_agent_id, contact_address, direction, status, is_video, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.InstanceID.String(), bucket, attempt.CreatedAt, attempt.ID.String(), attempt.TargetAgentID.String(),
		attempt.ContactAddress, string(attempt.Direction), string(attempt.Status), attempt.IsVideo, attempt.ErrorMessage,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: insert: %w", err)
	}
	return nil
}

// ListByInstance lists attempts for an instance with pagination, newest
// first within each day bucket.
func (s *AttemptStore) ListByInstance(ctx context.Context, instanceID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT bucket, created_at, attempt_id, target_agent_id, contact_address, direction, status, is_video, error_message
		FROM call_attempts_by_instance WHERE instance_id = ?`, instanceID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.CallAttempt, 0, limit)

	var (
		bucket     time.Time
		created    time.Time
		idStr      string
		agentStr   string
		address    string
		direction  string
		status     string
		isVideo    bool
		errMessage *string
	)

	for iter.Scan(&bucket, &created, &idStr, &agentStr, &address, &direction, &status, &isVideo, &errMessage) {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		agentID, err := uuid.Parse(agentStr)
		if err != nil {
			continue
		}

		attempts = append(attempts, domain.CallAttempt{
			ID:             id,
			InstanceID:     instanceID,
			TargetAgentID:  agentID,
			ContactAddress: address,
			Direction:      domain.CallDirection(direction),
			Status:         domain.AttemptStatus(status),
			IsVideo:        isVideo,
			ErrorMessage:   errMessage,
			CreatedAt:      created,
		})
		errMessage = nil
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, iter.PageState(), nil
}

func bucketDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
