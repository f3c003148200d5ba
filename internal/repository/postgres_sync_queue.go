package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/lib/pq"
)

type PostgresSyncQueueRepo struct {
	db *sql.DB
}

func NewPostgresSyncQueueRepo(db *sql.DB) *PostgresSyncQueueRepo {
	return &PostgresSyncQueueRepo{db: db}
}

const syncQueueColumns = `
	item_id::text,
	tenant_id::text,
	entity_type,
	entity_id,
	operation,
	payload,
	status,
	retry_count,
	max_retries,
	scheduled_at,
	last_error,
	created_at,
	updated_at`

func scanSyncQueueItem(row interface{ Scan(...any) error }) (*domain.SyncQueueItem, error) {
	var item domain.SyncQueueItem
	if err := row.Scan(
		&item.ItemID,
		&item.TenantID,
		&item.EntityType,
		&item.EntityID,
		&item.Operation,
		&item.Payload,
		&item.Status,
		&item.RetryCount,
		&item.MaxRetries,
		&item.ScheduledAt,
		&item.LastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *PostgresSyncQueueRepo) Enqueue(ctx context.Context, item *domain.SyncQueueItem) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_queue (
			tenant_id, entity_type, entity_id, operation, payload,
			status, retry_count, max_retries, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING item_id::text
	`,
		item.TenantID,
		item.EntityType,
		item.EntityID,
		item.Operation,
		item.Payload,
		domain.SyncStatusPending,
		0,
		item.MaxRetries,
		item.ScheduledAt,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ClaimNext 取最早到期的 pending 项并原子置为 processing。
// status 条件兼作 CAS 守卫，两个重叠触发不会取到同一项。
func (r *PostgresSyncQueueRepo) ClaimNext(ctx context.Context, tenantID string, now time.Time) (*domain.SyncQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sync_queue
		SET status = $3, updated_at = $2
		WHERE item_id = (
			SELECT item_id
			FROM sync_queue
			WHERE tenant_id = $1 AND status = $4 AND scheduled_at <= $2
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $4
		RETURNING `+syncQueueColumns,
		tenantID, now, domain.SyncStatusProcessing, domain.SyncStatusPending)

	item, err := scanSyncQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *PostgresSyncQueueRepo) MarkSuccess(ctx context.Context, itemID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $2, last_error = NULL, updated_at = NOW()
		WHERE item_id = $1 AND status = $3
	`, itemID, domain.SyncStatusSuccess, domain.SyncStatusProcessing)
	return err
}

func (r *PostgresSyncQueueRepo) MarkRetry(ctx context.Context, itemID string, retryCount int, scheduledAt time.Time, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $2, retry_count = $3, scheduled_at = $4, last_error = $5, updated_at = NOW()
		WHERE item_id = $1 AND status = $6
	`, itemID, domain.SyncStatusPending, retryCount, scheduledAt, lastError, domain.SyncStatusProcessing)
	return err
}

func (r *PostgresSyncQueueRepo) MarkFailed(ctx context.Context, itemID string, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE item_id = $1 AND status = $4
	`, itemID, domain.SyncStatusFailed, lastError, domain.SyncStatusProcessing)
	return err
}

func (r *PostgresSyncQueueRepo) ResetFailed(ctx context.Context, tenantID string, itemIDs []string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = $3, retry_count = 0, scheduled_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE tenant_id = $1 AND item_id = ANY($2) AND status = $4
	`, tenantID, pq.Array(itemIDs), domain.SyncStatusPending, domain.SyncStatusFailed)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresSyncQueueRepo) CountByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM sync_queue
		WHERE tenant_id = $1
		GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[status] = count
	}
	return out, rows.Err()
}

func (r *PostgresSyncQueueRepo) ListItems(ctx context.Context, tenantID string, status string, page, size int) ([]domain.SyncQueueItem, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	q := `
		SELECT ` + syncQueueColumns + `
		FROM sync_queue
		WHERE ` + where + `
		ORDER BY scheduled_at DESC
		LIMIT ` + fmt.Sprintf("$%d", len(args)+1) + ` OFFSET ` + fmt.Sprintf("$%d", len(args)+2)
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []domain.SyncQueueItem{}
	for rows.Next() {
		item, err := scanSyncQueueItem(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *item)
	}
	return out, total, rows.Err()
}

// PurgeTerminal 只清理 success/failed；pending/processing 永不按龄清理
func (r *PostgresSyncQueueRepo) PurgeTerminal(ctx context.Context, horizon time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE status IN ($1, $2) AND updated_at < $3
	`, domain.SyncStatusSuccess, domain.SyncStatusFailed, horizon)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
