package domain

import (
	"database/sql"
)

// DeviceStatus 价签设备影子（对应 device_status 表）
// device_id 存小写无分隔符 MAC。除名称/位置等人工元数据外，
// 本记录只由同步操作写入，UI 不直接改动。
// 被商品引用期间不会自动删除。
type DeviceStatus struct {
	DeviceStatusID string         `db:"device_status_id"`
	TenantID       string         `db:"tenant_id"` // NOT NULL
	DeviceID       string         `db:"device_id"` // NOT NULL, 小写规范 MAC
	DeviceType     string         `db:"device_type"`
	Name           sql.NullString `db:"name"`     // 人工元数据
	Location       sql.NullString `db:"location"` // 人工元数据
	IsOnline       bool           `db:"is_online"`
	BatteryLevel   sql.NullInt64  `db:"battery_level"` // 0-100, null = 未上报
	LastSyncAt     sql.NullTime   `db:"last_sync_at"`
	CloudStoreID   sql.NullString `db:"cloud_store_id"`
	Bound          bool           `db:"bound"`
	BoundGoodsID   sql.NullString `db:"bound_goods_id"`
	BoundAt        sql.NullTime   `db:"bound_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (d *DeviceStatus) ToJSON() map[string]any {
	m := map[string]any{
		"device_status_id": d.DeviceStatusID,
		"tenant_id":        d.TenantID,
		"device_id":        d.DeviceID,
		"device_type":      d.DeviceType,
		"is_online":        d.IsOnline,
		"bound":            d.Bound,
	}
	if d.Name.Valid {
		m["name"] = d.Name.String
	}
	if d.Location.Valid {
		m["location"] = d.Location.String
	}
	if d.BatteryLevel.Valid {
		m["battery_level"] = d.BatteryLevel.Int64
	} else {
		m["battery_level"] = nil
	}
	if d.LastSyncAt.Valid {
		m["last_sync_at"] = d.LastSyncAt.Time
	} else {
		m["last_sync_at"] = nil
	}
	if d.CloudStoreID.Valid {
		m["cloud_store_id"] = d.CloudStoreID.String
	}
	if d.BoundGoodsID.Valid {
		m["bound_goods_id"] = d.BoundGoodsID.String
	} else {
		m["bound_goods_id"] = nil
	}
	if d.BoundAt.Valid {
		m["bound_at"] = d.BoundAt.Time
	}
	return m
}
