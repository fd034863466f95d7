package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"tgqqbridge/internal/models"
)

// EnqueueRetryTask inserts a new pending task for a dispatch that failed
// with a transient error.
func (d *Database) EnqueueRetryTask(ctx context.Context, task *models.RetryTask) (int64, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO retry_tasks (
			target_platform, chat_id, body, source_platform, source_id,
			attempt_count, next_attempt_at, state, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var id int64
	err := retryableDBOperation(ctx, func() error {
		result, execErr := d.db.ExecContext(ctx, query,
			string(task.TargetPlatform),
			task.ChatID,
			task.Body,
			string(task.SourcePlatform),
			task.SourceID,
			task.AttemptCount,
			task.NextAttemptAt.UTC(),
			string(models.TaskStatePending),
			task.LastError,
			now,
			now,
		)
		if execErr != nil {
			return execErr
		}
		id, execErr = result.LastInsertId()
		return execErr
	}, "enqueue retry task")
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue retry task: %w", err)
	}

	return id, nil
}

// ClaimDueTasks atomically moves up to limit pending tasks whose
// next_attempt_at has passed into the processing state and returns them.
// A claimed task has exactly one delivery attempt in flight.
func (d *Database) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]*models.RetryTask, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		SELECT id, target_platform, chat_id, body, source_platform, source_id,
		       attempt_count, next_attempt_at, state, last_error, created_at, updated_at
		FROM retry_tasks
		WHERE state = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := tx.QueryContext(ctx, query, string(models.TaskStatePending), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due tasks: %w", err)
	}

	var tasks []*models.RetryTask
	for rows.Next() {
		task := &models.RetryTask{}
		if err := rows.Scan(
			&task.ID,
			&task.TargetPlatform,
			&task.ChatID,
			&task.Body,
			&task.SourcePlatform,
			&task.SourceID,
			&task.AttemptCount,
			&task.NextAttemptAt,
			&task.State,
			&task.LastError,
			&task.CreatedAt,
			&task.UpdatedAt,
		); err != nil {
			if closeErr := rows.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to scan task: %w (close error: %v)", err, closeErr)
			}
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to close rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading due tasks: %w", err)
	}

	for _, task := range tasks {
		if _, err := tx.ExecContext(ctx,
			`UPDATE retry_tasks SET state = ?, updated_at = ? WHERE id = ?`,
			string(models.TaskStateProcessing), time.Now().UTC(), task.ID,
		); err != nil {
			return nil, fmt.Errorf("failed to mark task processing: %w", err)
		}
		task.State = models.TaskStateProcessing
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return tasks, nil
}

// MarkTaskSucceeded finalizes a task after a successful re-dispatch.
func (d *Database) MarkTaskSucceeded(ctx context.Context, id int64) error {
	return d.setTaskState(ctx, id, models.TaskStateSucceeded, "")
}

// MarkTaskFailed finalizes a task that exhausted its attempts. Terminal
// tasks are never scheduled again.
func (d *Database) MarkTaskFailed(ctx context.Context, id int64, lastError string) error {
	return d.setTaskState(ctx, id, models.TaskStateFailed, lastError)
}

func (d *Database) setTaskState(ctx context.Context, id int64, state models.TaskState, lastError string) error {
	query := `UPDATE retry_tasks SET state = ?, last_error = ?, updated_at = ? WHERE id = ?`

	err := retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query, string(state), lastError, time.Now().UTC(), id)
		return execErr
	}, "update task state")
	if err != nil {
		return fmt.Errorf("failed to set task state: %w", err)
	}
	return nil
}

// RescheduleTask returns a task to pending with an incremented attempt
// count and its next backoff deadline.
func (d *Database) RescheduleTask(ctx context.Context, id int64, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	query := `
		UPDATE retry_tasks
		SET state = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`

	err := retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query,
			string(models.TaskStatePending), attemptCount, nextAttemptAt.UTC(), lastError, time.Now().UTC(), id)
		return execErr
	}, "reschedule task")
	if err != nil {
		return fmt.Errorf("failed to reschedule task: %w", err)
	}
	return nil
}

// ReleaseTask flushes an interrupted attempt back to a durable pending
// state without touching the attempt count. Used on shutdown and when an
// in-flight attempt is cancelled.
func (d *Database) ReleaseTask(ctx context.Context, id int64) error {
	query := `UPDATE retry_tasks SET state = ?, updated_at = ? WHERE id = ? AND state = ?`

	err := retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, query,
			string(models.TaskStatePending), time.Now().UTC(), id, string(models.TaskStateProcessing))
		return execErr
	}, "release task")
	if err != nil {
		return fmt.Errorf("failed to release task: %w", err)
	}
	return nil
}

// RequeueProcessingTasks converts every row left in processing back to
// pending. An interrupted attempt is assumed lost, never assumed
// completed. Called once at startup before scheduling resumes.
func (d *Database) RequeueProcessingTasks(ctx context.Context) (int64, error) {
	query := `UPDATE retry_tasks SET state = ?, updated_at = ? WHERE state = ?`

	result, err := d.db.ExecContext(ctx, query,
		string(models.TaskStatePending), time.Now().UTC(), string(models.TaskStateProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue processing tasks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// EarliestPendingAt returns the next_attempt_at of the soonest pending
// task. Returns (zero, nil) when the queue has no pending tasks.
func (d *Database) EarliestPendingAt(ctx context.Context) (time.Time, error) {
	query := `SELECT next_attempt_at FROM retry_tasks WHERE state = ? ORDER BY next_attempt_at ASC LIMIT 1`

	var next time.Time
	err := d.db.QueryRowContext(ctx, query, string(models.TaskStatePending)).Scan(&next)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get earliest pending task: %w", err)
	}

	return next, nil
}

// QueueStats reports non-terminal queue depth.
func (d *Database) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN state = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'processing' THEN 1 ELSE 0 END), 0)
		FROM retry_tasks
		WHERE state IN ('pending', 'processing')
	`

	stats := &models.QueueStats{}
	err := d.db.QueryRowContext(ctx, query).Scan(&stats.Total, &stats.Pending, &stats.Processing)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	return stats, nil
}

// PurgeTerminalTasks archives finished rows older than the retention window.
func (d *Database) PurgeTerminalTasks(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	query := `DELETE FROM retry_tasks WHERE state IN ('succeeded', 'failed') AND updated_at < ?`

	result, err := d.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal tasks: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}
