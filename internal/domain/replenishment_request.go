package domain

import (
	"database/sql"
	"time"
)

// 补货请求来源
const (
	RequestMethodButton = "BUTTON" // 价签按钮触发
	RequestMethodManual = "MANUAL" // 人工创建
)

// 补货请求状态
const (
	RequestStatusPending   = "PENDING"
	RequestStatusApproved  = "APPROVED"
	RequestStatusRejected  = "REJECTED"
	RequestStatusOrdered   = "ORDERED"
	RequestStatusCompleted = "COMPLETED"
)

// 补货请求优先级
const (
	RequestPriorityLow    = "LOW"
	RequestPriorityNormal = "NORMAL"
	RequestPriorityHigh   = "HIGH"
)

// ReplenishmentRequest 补货请求领域事件（对应 replenishment_requests 表）
// BUTTON 来源的请求在 (tenant, product, source_device) 维度上受 ±去重窗口约束：
// 窗口相对事件时间而非入库时间，所以在创建时检查而不是靠数据库约束。
type ReplenishmentRequest struct {
	RequestID      string         `db:"request_id"`
	TenantID       string         `db:"tenant_id"`      // NOT NULL
	ProductID      string         `db:"product_id"`     // NOT NULL
	RequestMethod  string         `db:"request_method"` // BUTTON / MANUAL
	SourceDeviceID sql.NullString `db:"source_device_id"`
	RequesterID    string         `db:"requester_id"` // BUTTON 请求归属系统账号
	Status         string         `db:"status"`
	Priority       string         `db:"priority"`
	Note           sql.NullString `db:"note"` // 事件时间、来源网关等留痕
	CreatedAt      time.Time      `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (r *ReplenishmentRequest) ToJSON() map[string]any {
	m := map[string]any{
		"request_id":     r.RequestID,
		"tenant_id":      r.TenantID,
		"product_id":     r.ProductID,
		"request_method": r.RequestMethod,
		"requester_id":   r.RequesterID,
		"status":         r.Status,
		"priority":       r.Priority,
		"created_at":     r.CreatedAt,
	}
	if r.SourceDeviceID.Valid {
		m["source_device_id"] = r.SourceDeviceID.String
	}
	if r.Note.Valid {
		m["note"] = r.Note.String
	}
	return m
}
