package domain

import (
	"database/sql"
	"time"
)

// 队列项实体类型
const (
	SyncEntityGoods   = "goods"
	SyncEntityTag     = "tag"
	SyncEntityGateway = "gateway"
)

// 队列项操作
const (
	SyncOpCreate = "create"
	SyncOpUpdate = "update"
	SyncOpDelete = "delete"
	SyncOpBind   = "bind"
	SyncOpUnbind = "unbind"
)

// 队列项状态机: pending -> processing -> {success | pending(retry) | failed}
const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusSuccess    = "success"
	SyncStatusFailed     = "failed"
)

// SyncQueueItem 外发变更队列项（对应 sync_queue 表）
// 本地变更需要回传厂家云时入队；success/failed 为终态，
// 只有人工 reset 能把 failed 拉回 pending。
type SyncQueueItem struct {
	ItemID      string         `db:"item_id"`
	TenantID    string         `db:"tenant_id"`   // NOT NULL
	EntityType  string         `db:"entity_type"` // goods / tag / gateway
	EntityID    string         `db:"entity_id"`
	Operation   string         `db:"operation"`
	Payload     sql.NullString `db:"payload"` // JSONB，操作参数快照
	Status      string         `db:"status"`
	RetryCount  int            `db:"retry_count"`
	MaxRetries  int            `db:"max_retries"`
	ScheduledAt time.Time      `db:"scheduled_at"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (s *SyncQueueItem) ToJSON() map[string]any {
	m := map[string]any{
		"item_id":      s.ItemID,
		"tenant_id":    s.TenantID,
		"entity_type":  s.EntityType,
		"entity_id":    s.EntityID,
		"operation":    s.Operation,
		"status":       s.Status,
		"retry_count":  s.RetryCount,
		"max_retries":  s.MaxRetries,
		"scheduled_at": s.ScheduledAt,
		"created_at":   s.CreatedAt,
		"updated_at":   s.UpdatedAt,
	}
	if s.Payload.Valid {
		m["payload"] = s.Payload.String
	}
	if s.LastError.Valid {
		m["last_error"] = s.LastError.String
	}
	return m
}
