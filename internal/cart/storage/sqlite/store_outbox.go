package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tkarolak/cartledger/internal/cart/event"
)

const (
	outboxDeadLetterThreshold = 8
	outboxProcessingLease     = 2 * time.Minute
)

// enqueueOutbox copies an appended event onto the projection outbox inside
// the append transaction, so the read model never misses a journal write.
// Fresh rows carry next_attempt_at_ms = 0: due immediately, no backoff
// before the first apply attempt.
func enqueueOutbox(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	const enqueueSQL = `
INSERT INTO projection_outbox (
    cart_id, version, event_type, payload, recorded_at_ms,
    status, attempts, next_attempt_at_ms, leased_until_ms, last_error, created_at_ms
) VALUES (?, ?, ?, ?, ?, 'pending', 0, 0, 0, '', ?)
ON CONFLICT(cart_id, version) DO NOTHING
`
	if _, err := tx.ExecContext(
		ctx,
		enqueueSQL,
		evt.CartID,
		int64(evt.Version),
		string(evt.Type),
		evt.PayloadJSON,
		toMillis(evt.Timestamp),
		toMillis(evt.Timestamp),
	); err != nil {
		return fmt.Errorf("enqueue projection outbox %s/%d: %w", evt.CartID, evt.Version, err)
	}
	return nil
}

type outboxRow struct {
	ID       int64
	Event    event.Event
	Attempts int
}

// OutboxSummary reports projection outbox depth by status plus the oldest
// row still waiting for an apply.
type OutboxSummary struct {
	PendingCount    int
	ProcessingCount int
	FailedCount     int
	DeadCount       int
	OldestCartID    string
	OldestVersion   uint64
	OldestDueAt     time.Time
}

// GetOutboxSummary returns queue depth by status and the oldest retry-eligible row.
func (s *EventStore) GetOutboxSummary(ctx context.Context) (OutboxSummary, error) {
	if err := ctx.Err(); err != nil {
		return OutboxSummary{}, err
	}
	if s == nil || s.sqlDB == nil {
		return OutboxSummary{}, fmt.Errorf("storage is not configured")
	}

	summary := OutboxSummary{}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT status, COUNT(*)
		 FROM projection_outbox
		 GROUP BY status`,
	)
	if err != nil {
		return OutboxSummary{}, fmt.Errorf("query outbox summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return OutboxSummary{}, fmt.Errorf("scan outbox summary count: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(status)) {
		case "pending":
			summary.PendingCount = count
		case "processing":
			summary.ProcessingCount = count
		case "failed":
			summary.FailedCount = count
		case "dead":
			summary.DeadCount = count
		}
	}
	if err := rows.Err(); err != nil {
		return OutboxSummary{}, fmt.Errorf("iterate outbox summary counts: %w", err)
	}

	var (
		cartID      string
		version     int64
		nextAttempt int64
	)
	err = s.sqlDB.QueryRowContext(
		ctx,
		`SELECT cart_id, version,
		        CASE WHEN next_attempt_at_ms = 0 THEN created_at_ms ELSE next_attempt_at_ms END AS due_at_ms
		 FROM projection_outbox
		 WHERE status IN ('pending', 'failed')
		 ORDER BY due_at_ms ASC, id ASC
		 LIMIT 1`,
	).Scan(&cartID, &version, &nextAttempt)
	if err == nil {
		summary.OldestCartID = cartID
		summary.OldestVersion = uint64(version)
		summary.OldestDueAt = fromMillis(nextAttempt)
		return summary, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return summary, nil
	}
	return OutboxSummary{}, fmt.Errorf("query oldest pending outbox row: %w", err)
}

// ProcessOutbox claims due outbox rows and feeds them through the apply
// callback in cart version order. Success removes the row; failure schedules
// an exponential-backoff retry that dead-letters after repeated exhaustion.
func (s *EventStore) ProcessOutbox(
	ctx context.Context,
	now time.Time,
	limit int,
	apply func(context.Context, event.Event) error,
) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if apply == nil {
		return 0, fmt.Errorf("projection apply callback is required")
	}
	if limit <= 0 {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rows, err := s.claimOutboxDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, row := range rows {
		if applyErr := apply(ctx, row.Event); applyErr != nil {
			attempt := row.Attempts + 1
			nextAttempt := now.Add(outboxRetryBackoff(attempt))
			if err := s.markOutboxRetry(ctx, row, attempt, nextAttempt, fmt.Sprintf("apply projection: %v", applyErr)); err != nil {
				return processed, err
			}
			processed++
			continue
		}
		if err := s.completeOutboxRow(ctx, row); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func (s *EventStore) claimOutboxDue(ctx context.Context, now time.Time, limit int) ([]outboxRow, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id, cart_id, version, event_type, payload, recorded_at_ms, attempts
		 FROM projection_outbox
		 WHERE (
			 status IN ('pending', 'failed') AND next_attempt_at_ms <= ?
		 ) OR (
			 status = 'processing' AND leased_until_ms <= ?
		 )
		 ORDER BY cart_id, version
		 LIMIT ?`,
		toMillis(now),
		toMillis(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	defer rows.Close()

	candidates := make([]outboxRow, 0, limit)
	for rows.Next() {
		var (
			row        outboxRow
			version    int64
			eventType  string
			recordedAt int64
		)
		if err := rows.Scan(&row.ID, &row.Event.CartID, &version, &eventType, &row.Event.PayloadJSON, &recordedAt, &row.Attempts); err != nil {
			return nil, fmt.Errorf("scan due outbox row: %w", err)
		}
		row.Event.Version = uint64(version)
		row.Event.Type = event.Type(eventType)
		row.Event.Timestamp = fromMillis(recordedAt)
		candidates = append(candidates, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due outbox rows: %w", err)
	}

	claimed := make([]outboxRow, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(
			ctx,
			`UPDATE projection_outbox
			 SET status = 'processing', leased_until_ms = ?
			 WHERE id = ?
			   AND (
			   	(status IN ('pending', 'failed') AND next_attempt_at_ms <= ?)
			   	OR (status = 'processing' AND leased_until_ms <= ?)
			   )`,
			toMillis(now.Add(outboxProcessingLease)),
			candidate.ID,
			toMillis(now),
			toMillis(now),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s/%d: %w", candidate.Event.CartID, candidate.Event.Version, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim outbox row rows affected %s/%d: %w", candidate.Event.CartID, candidate.Event.Version, err)
		}
		if affected == 1 {
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

func (s *EventStore) markOutboxRetry(ctx context.Context, row outboxRow, attempt int, nextAttempt time.Time, lastError string) error {
	status := "failed"
	if attempt >= outboxDeadLetterThreshold {
		status = "dead"
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE projection_outbox
		 SET status = ?,
		     attempts = ?,
		     next_attempt_at_ms = ?,
		     last_error = ?,
		     leased_until_ms = 0
		 WHERE id = ? AND status = 'processing'`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry for row %s/%d: %w", row.Event.CartID, row.Event.Version, err)
	}
	return ensureOutboxSingleRow(result, row, "mark outbox retry for row", "updated")
}

func (s *EventStore) completeOutboxRow(ctx context.Context, row outboxRow) error {
	result, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM projection_outbox WHERE id = ? AND status = 'processing'`,
		row.ID,
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %s/%d: %w", row.Event.CartID, row.Event.Version, err)
	}
	return ensureOutboxSingleRow(result, row, "complete outbox row", "deleted")
}

func ensureOutboxSingleRow(result sql.Result, row outboxRow, operation, verb string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected %s/%d: %w", operation, row.Event.CartID, row.Event.Version, err)
	}
	if affected != 1 {
		return fmt.Errorf("%s %s/%d: expected 1 row %s, got %d", operation, row.Event.CartID, row.Event.Version, verb, affected)
	}
	return nil
}

// RequeueDeadOutboxRows transitions up to limit dead outbox rows back to
// pending so workers retry them after a fix.
func (s *EventStore) RequeueDeadOutboxRows(ctx context.Context, limit int, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return 0, fmt.Errorf("outbox requeue limit must be greater than zero")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`WITH to_requeue AS (
			SELECT id
			FROM projection_outbox
			WHERE status = 'dead'
			ORDER BY next_attempt_at_ms ASC, id ASC
			LIMIT ?
		)
		UPDATE projection_outbox
		SET status = 'pending',
		    attempts = 0,
		    next_attempt_at_ms = ?,
		    last_error = '',
		    leased_until_ms = 0
		WHERE status = 'dead'
		  AND id IN (SELECT id FROM to_requeue)`,
		limit,
		toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue dead outbox rows affected: %w", err)
	}
	return int(affected), nil
}

func outboxRetryBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	backoff := time.Second << (attempt - 1)
	if backoff > 5*time.Minute {
		return 5 * time.Minute
	}
	return backoff
}
