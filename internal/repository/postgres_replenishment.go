package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
)

type PostgresReplenishmentRepo struct {
	db *sql.DB
}

func NewPostgresReplenishmentRepo(db *sql.DB) *PostgresReplenishmentRepo {
	return &PostgresReplenishmentRepo{db: db}
}

func (r *PostgresReplenishmentRepo) CreateRequest(ctx context.Context, req *domain.ReplenishmentRequest) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO replenishment_requests (
			tenant_id, product_id, request_method, source_device_id,
			requester_id, status, priority, note, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING request_id::text
	`,
		req.TenantID,
		req.ProductID,
		req.RequestMethod,
		req.SourceDeviceID,
		req.RequesterID,
		req.Status,
		req.Priority,
		req.Note,
		req.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ExistsButtonRequestInWindow 去重窗口查询。窗口相对事件时间，
// created_at 存的就是事件时间（不是入库时间），见 EventReconciler。
func (r *PostgresReplenishmentRepo) ExistsButtonRequestInWindow(ctx context.Context, tenantID, productID, deviceID string, start, end time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM replenishment_requests
			WHERE tenant_id = $1
			  AND product_id = $2
			  AND source_device_id = $3
			  AND request_method = $4
			  AND created_at >= $5
			  AND created_at <= $6
		)
	`, tenantID, productID, deviceID, domain.RequestMethodButton, start, end).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresReplenishmentRepo) ListRequests(ctx context.Context, tenantID string, status string, page, size int) ([]domain.ReplenishmentRequest, int, error) {
	where := "tenant_id = $1"
	args := []any{tenantID}
	if status != "" {
		where += " AND status = $2"
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replenishment_requests WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	limitPos := len(args) + 1
	offsetPos := len(args) + 2
	args = append(args, size, offset)

	rows, err := r.db.QueryContext(ctx, `
		SELECT request_id::text, tenant_id::text, product_id::text, request_method,
		       source_device_id, requester_id::text, status, priority, note, created_at
		FROM replenishment_requests
		WHERE `+where+`
		ORDER BY created_at DESC
		LIMIT $`+fmt.Sprintf("%d", limitPos)+` OFFSET $`+fmt.Sprintf("%d", offsetPos), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []domain.ReplenishmentRequest{}
	for rows.Next() {
		var req domain.ReplenishmentRequest
		if err := rows.Scan(
			&req.RequestID,
			&req.TenantID,
			&req.ProductID,
			&req.RequestMethod,
			&req.SourceDeviceID,
			&req.RequesterID,
			&req.Status,
			&req.Priority,
			&req.Note,
			&req.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}
