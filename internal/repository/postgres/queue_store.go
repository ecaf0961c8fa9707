package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/acme/agent-dispatch/internal/domain"
	"github.com/acme/agent-dispatch/internal/repository"
)

// QueueStore implements repository.QueueStore on PostgreSQL. The claim
// path locks candidate rows with SELECT ... FOR UPDATE so two concurrent
// dispatches on the same instance serialize on the head of the queue.
type QueueStore struct {
	db *sqlx.DB
}

// NewQueueStore constructs the store.
func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// Insert enrolls the agent at max(position)+1. Idempotent: an existing
// entry is returned untouched.
func (s *QueueStore) Insert(ctx context.Context, instanceID, agentID uuid.UUID) (domain.QueueEntry, bool, error) {
	var rec entryRecord
	created := false

	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx, `INSERT INTO queue_entries (instance_id, agent_id, position, is_available, calls_received, created_at, updated_at)
			VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM queue_entries WHERE instance_id = $1), TRUE, 0, NOW(), NOW())
			ON CONFLICT (instance_id, agent_id) DO NOTHING
			RETURNING instance_id, agent_id, position, is_available, last_served_at, calls_received, created_at, updated_at`,
			instanceID, agentID)

		if err := row.StructScan(&rec); err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("queue store: insert: %w", err)
			}
			// Entry already present; return it as-is.
			existing := tx.QueryRowxContext(ctx, selectEntry+` WHERE instance_id = $1 AND agent_id = $2`, instanceID, agentID)
			if err := existing.StructScan(&rec); err != nil {
				return fmt.Errorf("queue store: fetch existing: %w", err)
			}
			return nil
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.QueueEntry{}, false, err
	}
	return rec.toDomain(), created, nil
}

// Delete removes the entry without renumbering the remaining positions.
func (s *QueueStore) Delete(ctx context.Context, instanceID, agentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_entries WHERE instance_id = $1 AND agent_id = $2`, instanceID, agentID); err != nil {
		return fmt.Errorf("queue store: delete: %w", err)
	}
	return nil
}

// UpdateAvailability toggles is_available.
func (s *QueueStore) UpdateAvailability(ctx context.Context, instanceID, agentID uuid.UUID, available bool) (domain.QueueEntry, error) {
	row := s.db.QueryRowxContext(ctx, `UPDATE queue_entries SET is_available = $3, updated_at = NOW()
		WHERE instance_id = $1 AND agent_id = $2
		RETURNING instance_id, agent_id, position, is_available, last_served_at, calls_received, created_at, updated_at`,
		instanceID, agentID, available)

	var rec entryRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueueEntry{}, repository.ErrNotFound
		}
		return domain.QueueEntry{}, fmt.Errorf("queue store: update availability: %w", err)
	}
	return rec.toDomain(), nil
}

// List returns entries ordered by position.
func (s *QueueStore) List(ctx context.Context, instanceID uuid.UUID) ([]domain.QueueEntry, error) {
	rows, err := s.db.QueryxContext(ctx, selectEntry+` WHERE instance_id = $1 ORDER BY position ASC`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("queue store: list: %w", err)
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var rec entryRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("queue store: scan: %w", err)
		}
		entries = append(entries, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue store: rows err: %w", err)
	}
	return entries, nil
}

// Claim selects the head of the queue and requeues it in one transaction.
// The two smallest available rows are locked so a position tie can be
// detected instead of arbitrarily resolved.
func (s *QueueStore) Claim(ctx context.Context, instanceID uuid.UUID) (*repository.Claim, error) {
	var claim repository.Claim

	err := withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, selectEntry+` WHERE instance_id = $1 AND is_available
			ORDER BY position ASC LIMIT 2 FOR UPDATE`, instanceID)
		if err != nil {
			return fmt.Errorf("queue store: select candidates: %w", err)
		}

		var candidates []entryRecord
		for rows.Next() {
			var rec entryRecord
			if err := rows.StructScan(&rec); err != nil {
				rows.Close()
				return fmt.Errorf("queue store: scan candidate: %w", err)
			}
			candidates = append(candidates, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("queue store: candidates err: %w", err)
		}

		if len(candidates) == 0 {
			return repository.ErrNoCandidate
		}
		if len(candidates) == 2 && candidates[0].Position == candidates[1].Position {
			return fmt.Errorf("%w: instance %s position %d", repository.ErrPositionTie, instanceID, candidates[0].Position)
		}

		head := candidates[0]
		claim.PreviousPosition = head.Position

		row := tx.QueryRowxContext(ctx, `UPDATE queue_entries
			SET position = (SELECT COALESCE(MAX(position), 0) + 1 FROM queue_entries WHERE instance_id = $1),
			    last_served_at = NOW(), updated_at = NOW()
			WHERE instance_id = $1 AND agent_id = $2
			RETURNING instance_id, agent_id, position, is_available, last_served_at, calls_received, created_at, updated_at`,
			instanceID, head.AgentID)

		var updated entryRecord
		if err := row.StructScan(&updated); err != nil {
			return fmt.Errorf("queue store: requeue claimed entry: %w", err)
		}
		claim.Entry = updated.toDomain()
		return nil
	})
	if err != nil {
		if isSerializationFailure(err) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return &claim, nil
}

// RestorePosition is the compensating move for the no-turn-on-failure
// dispatch policy. The recorded position may have been taken by a
// compaction that ran between claim and restore, so the target is
// re-validated under lock and the agent is parked ahead of the current
// head when it is occupied.
func (s *QueueStore) RestorePosition(ctx context.Context, instanceID, agentID uuid.UUID, position int64) error {
	return withTx(ctx, s.db, func(tx *sqlx.Tx) error {
		var holder uuid.UUID
		err := tx.QueryRowxContext(ctx, `SELECT agent_id FROM queue_entries
			WHERE instance_id = $1 AND position = $2 AND agent_id <> $3 FOR UPDATE`,
			instanceID, position, agentID).Scan(&holder)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Target position is free.
		case err != nil:
			return fmt.Errorf("queue store: check restore target: %w", err)
		default:
			if err := tx.GetContext(ctx, &position, `SELECT COALESCE(MIN(position), 1) - 1
				FROM queue_entries WHERE instance_id = $1`, instanceID); err != nil {
				return fmt.Errorf("queue store: derive head position: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE queue_entries SET position = $3, updated_at = NOW()
			WHERE instance_id = $1 AND agent_id = $2`, instanceID, agentID, position); err != nil {
			return fmt.Errorf("queue store: restore position: %w", err)
		}
		return nil
	})
}

// IncrementCallsReceived bumps the reporting counter.
func (s *QueueStore) IncrementCallsReceived(ctx context.Context, instanceID, agentID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE queue_entries SET calls_received = calls_received + 1, updated_at = NOW()
		WHERE instance_id = $1 AND agent_id = $2`, instanceID, agentID); err != nil {
		return fmt.Errorf("queue store: increment calls received: %w", err)
	}
	return nil
}

// CompactPositions renumbers an instance 1..N preserving relative order.
func (s *QueueStore) CompactPositions(ctx context.Context, instanceID uuid.UUID) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE queue_entries q SET position = ranked.rn, updated_at = NOW()
		FROM (
			SELECT agent_id, ROW_NUMBER() OVER (ORDER BY position ASC) AS rn
			FROM queue_entries WHERE instance_id = $1 FOR UPDATE
		) ranked
		WHERE q.instance_id = $1 AND q.agent_id = ranked.agent_id AND q.position <> ranked.rn`, instanceID)
	if err != nil {
		return 0, fmt.Errorf("queue store: compact positions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("queue store: rows affected: %w", err)
	}
	return int(n), nil
}

// Instances lists instance ids with at least one entry.
func (s *QueueStore) Instances(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT DISTINCT instance_id FROM queue_entries`)
	if err != nil {
		return nil, fmt.Errorf("queue store: instances: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("queue store: scan instance: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue store: rows err: %w", err)
	}
	return ids, nil
}

// MaxPosition returns the highest position in the instance.
func (s *QueueStore) MaxPosition(ctx context.Context, instanceID uuid.UUID) (int64, error) {
	var max int64
	if err := s.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(position), 0) FROM queue_entries WHERE instance_id = $1`, instanceID); err != nil {
		return 0, fmt.Errorf("queue store: max position: %w", err)
	}
	return max, nil
}

const selectEntry = `SELECT instance_id, agent_id, position, is_available, last_served_at, calls_received, created_at, updated_at
	FROM queue_entries`

type entryRecord struct {
	InstanceID    uuid.UUID    `db:"instance_id"`
	AgentID       uuid.UUID    `db:"agent_id"`
	Position      int64        `db:"position"`
	IsAvailable   bool         `db:"is_available"`
	LastServedAt  sql.NullTime `db:"last_served_at"`
	CallsReceived int64        `db:"calls_received"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r entryRecord) toDomain() domain.QueueEntry {
	entry := domain.QueueEntry{
		InstanceID:    r.InstanceID,
		AgentID:       r.AgentID,
		Position:      r.Position,
		IsAvailable:   r.IsAvailable,
		CallsReceived: r.CallsReceived,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.LastServedAt.Valid {
		t := r.LastServedAt.Time
		entry.LastServedAt = &t
	}
	return entry
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure / deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
