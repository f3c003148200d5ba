package repository

import (
	"context"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/lib/pq"
)

// 数据访问边界。所有查询都以 tenant_id 限定，跨租户访问在这里拦截，
// 不依赖路由层。

// GatewaysRepo 网关表访问
type GatewaysRepo interface {
	CreateGateway(ctx context.Context, g *domain.Gateway) (string, error)
	GetGateway(ctx context.Context, tenantID, gatewayID string) (*domain.Gateway, error)
	GetGatewayByMac(ctx context.Context, tenantID, mac string) (*domain.Gateway, error)
	ListGateways(ctx context.Context, tenantID string) ([]domain.Gateway, error)
	DeleteGateway(ctx context.Context, tenantID, gatewayID string) error
}

// DeviceStatusRepo 价签影子表访问
// 同步操作以外的写入只允许人工元数据（name/location）
type DeviceStatusRepo interface {
	GetByDeviceID(ctx context.Context, tenantID, deviceID string) (*domain.DeviceStatus, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.DeviceStatus, error)
	UpsertFromSync(ctx context.Context, d *domain.DeviceStatus) error
	UpdateSyncState(ctx context.Context, tenantID, deviceID string, isOnline bool, batteryLevel *int, lastSyncAt time.Time) error
	SetBinding(ctx context.Context, tenantID, deviceID string, bound bool, goodsID string, boundAt time.Time) error
	SetOnline(ctx context.Context, tenantID, deviceID string, online bool) error
	UpdateMetadata(ctx context.Context, tenantID, deviceID string, payload map[string]any) error
}

// ProductsRepo 商品表访问
type ProductsRepo interface {
	GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error)
	GetByCloudGoodsID(ctx context.Context, tenantID, cloudGoodsID string) (*domain.Product, error)
	ListProducts(ctx context.Context, tenantID string, productIDs []string) ([]domain.Product, error)
	SetCloudGoodsID(ctx context.Context, tenantID, productID, cloudGoodsID string) error
}

// ReplenishmentRepo 补货请求表访问
type ReplenishmentRepo interface {
	CreateRequest(ctx context.Context, r *domain.ReplenishmentRequest) (string, error)
	// ExistsButtonRequestInWindow 查询 (tenant, product, device) 在
	// [start, end] 窗口内是否已有 BUTTON 请求（按事件时间去重）
	ExistsButtonRequestInWindow(ctx context.Context, tenantID, productID, deviceID string, start, end time.Time) (bool, error)
	ListRequests(ctx context.Context, tenantID string, status string, page, size int) ([]domain.ReplenishmentRequest, int, error)
}

// SyncQueueRepo 外发变更队列表访问
type SyncQueueRepo interface {
	Enqueue(ctx context.Context, item *domain.SyncQueueItem) (string, error)
	// ClaimNext 取最早到期的 pending 项并置为 processing；无可取项返回 nil
	ClaimNext(ctx context.Context, tenantID string, now time.Time) (*domain.SyncQueueItem, error)
	MarkSuccess(ctx context.Context, itemID string) error
	MarkRetry(ctx context.Context, itemID string, retryCount int, scheduledAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, itemID string, lastError string) error
	// ResetFailed 人工把 failed 项拉回 pending，retry_count 归零
	ResetFailed(ctx context.Context, tenantID string, itemIDs []string) (int, error)
	CountByStatus(ctx context.Context, tenantID string) (map[string]int, error)
	ListItems(ctx context.Context, tenantID string, status string, page, size int) ([]domain.SyncQueueItem, int, error)
	// PurgeTerminal 清理早于 horizon 的终态项；pending/processing 永不按龄清理
	PurgeTerminal(ctx context.Context, horizon time.Time) (int64, error)
}

// UsersRepo 用户表访问（只用于解析系统账号）
type UsersRepo interface {
	// ResolveSystemActor 解析租户的系统账号 ID，不存在则惰性创建
	ResolveSystemActor(ctx context.Context, tenantID string) (string, error)
}

// IsUniqueViolation 判断 postgres 唯一键冲突
func IsUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
