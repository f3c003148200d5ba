package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
)

type PostgresDeviceStatusRepo struct {
	db *sql.DB
}

func NewPostgresDeviceStatusRepo(db *sql.DB) *PostgresDeviceStatusRepo {
	return &PostgresDeviceStatusRepo{db: db}
}

const deviceStatusColumns = `
	device_status_id::text,
	tenant_id::text,
	device_id,
	device_type,
	name,
	location,
	is_online,
	battery_level,
	last_sync_at,
	CASE WHEN cloud_store_id IS NULL THEN NULL ELSE cloud_store_id::text END as cloud_store_id,
	bound,
	bound_goods_id,
	bound_at`

func scanDeviceStatus(row interface{ Scan(...any) error }) (*domain.DeviceStatus, error) {
	var d domain.DeviceStatus
	if err := row.Scan(
		&d.DeviceStatusID,
		&d.TenantID,
		&d.DeviceID,
		&d.DeviceType,
		&d.Name,
		&d.Location,
		&d.IsOnline,
		&d.BatteryLevel,
		&d.LastSyncAt,
		&d.CloudStoreID,
		&d.Bound,
		&d.BoundGoodsID,
		&d.BoundAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresDeviceStatusRepo) GetByDeviceID(ctx context.Context, tenantID, deviceID string) (*domain.DeviceStatus, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+deviceStatusColumns+`
		FROM device_status
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID)
	return scanDeviceStatus(row)
}

func (r *PostgresDeviceStatusRepo) ListByTenant(ctx context.Context, tenantID string) ([]domain.DeviceStatus, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceStatusColumns+`
		FROM device_status
		WHERE tenant_id = $1
		ORDER BY device_id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DeviceStatus{}
	for rows.Next() {
		d, err := scanDeviceStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpsertFromSync 同步发现的新价签建档，已存在则刷新同步字段
// 首次云端发现也走这里（注册以外的创建路径）
func (r *PostgresDeviceStatusRepo) UpsertFromSync(ctx context.Context, d *domain.DeviceStatus) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_status (
			tenant_id, device_id, device_type, is_online, battery_level,
			last_sync_at, cloud_store_id, bound, bound_goods_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, device_id)
		DO UPDATE SET device_type    = EXCLUDED.device_type,
		              is_online      = EXCLUDED.is_online,
		              battery_level  = EXCLUDED.battery_level,
		              last_sync_at   = EXCLUDED.last_sync_at,
		              cloud_store_id = EXCLUDED.cloud_store_id,
		              bound          = EXCLUDED.bound,
		              bound_goods_id = EXCLUDED.bound_goods_id
	`,
		d.TenantID,
		d.DeviceID,
		d.DeviceType,
		d.IsOnline,
		d.BatteryLevel,
		d.LastSyncAt,
		d.CloudStoreID,
		d.Bound,
		d.BoundGoodsID,
	)
	return err
}

func (r *PostgresDeviceStatusRepo) UpdateSyncState(ctx context.Context, tenantID, deviceID string, isOnline bool, batteryLevel *int, lastSyncAt time.Time) error {
	var battery sql.NullInt64
	if batteryLevel != nil {
		battery = sql.NullInt64{Int64: int64(*batteryLevel), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_status
		SET is_online = $3, battery_level = $4, last_sync_at = $5
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID, isOnline, battery, lastSyncAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresDeviceStatusRepo) SetBinding(ctx context.Context, tenantID, deviceID string, bound bool, goodsID string, boundAt time.Time) error {
	var goods sql.NullString
	var at sql.NullTime
	if bound {
		goods = sql.NullString{String: goodsID, Valid: true}
		at = sql.NullTime{Time: boundAt, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_status
		SET bound = $3, bound_goods_id = $4, bound_at = $5
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID, bound, goods, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresDeviceStatusRepo) SetOnline(ctx context.Context, tenantID, deviceID string, online bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_status
		SET is_online = $3
		WHERE tenant_id = $1 AND device_id = $2
	`, tenantID, deviceID, online)
	return err
}

// UpdateMetadata 人工元数据（name/location）更新，同步字段不可经此路径写入
func (r *PostgresDeviceStatusRepo) UpdateMetadata(ctx context.Context, tenantID, deviceID string, payload map[string]any) error {
	set := []string{}
	args := []any{tenantID, deviceID}
	argN := 3
	add := func(col string, v any) {
		set = append(set, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, v)
		argN++
	}
	if v, ok := payload["name"]; ok {
		add("name", v)
	}
	if v, ok := payload["location"]; ok {
		add("location", v)
	}

	if len(set) == 0 {
		return nil
	}
	q := "UPDATE device_status SET " + strings.Join(set, ", ") + " WHERE tenant_id = $1 AND device_id = $2"
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}
