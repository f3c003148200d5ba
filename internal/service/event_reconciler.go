package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/config"
	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// reconcilerCloud 事件对账需要的厂家云操作子集
type reconcilerCloud interface {
	WakeupTags(ctx context.Context, storeID string, macs []string) error
	GetButtonEvents(ctx context.Context, storeID string, start, end time.Time) ([]ButtonEventSource, error)
}

// ButtonEventSource 是 cloud.ButtonEvent 的别名，避免消费方直接耦合 cloud 包的其它类型
type ButtonEventSource = cloud.ButtonEvent

// EventReconciler 按钮事件对账：拉取厂家侧按钮事件，按去重窗口转换为补货请求。
// 厂家不提供稳定事件 ID，幂等靠 (tenant, product, device) + 事件时间窗口实现。
type EventReconciler interface {
	ReconcileButtonEvents(ctx context.Context, req ReconcileRequest) (*ReconcileResponse, error)
}

type eventReconciler struct {
	deviceRepo    repository.DeviceStatusRepo
	productsRepo  repository.ProductsRepo
	replenishRepo repository.ReplenishmentRepo
	usersRepo     repository.UsersRepo
	cloud         reconcilerCloud
	stores        storeResolver
	cfg           config.SyncConfig
	logger        *zap.Logger
	now           func() time.Time
}

// NewEventReconciler 创建 EventReconciler 实例
func NewEventReconciler(
	deviceRepo repository.DeviceStatusRepo,
	productsRepo repository.ProductsRepo,
	replenishRepo repository.ReplenishmentRepo,
	usersRepo repository.UsersRepo,
	cloudClient reconcilerCloud,
	stores storeResolver,
	cfg config.SyncConfig,
	logger *zap.Logger,
) EventReconciler {
	return &eventReconciler{
		deviceRepo:    deviceRepo,
		productsRepo:  productsRepo,
		replenishRepo: replenishRepo,
		usersRepo:     usersRepo,
		cloud:         cloudClient,
		stores:        stores,
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

// ReconcileRequest 对账请求
type ReconcileRequest struct {
	TenantID string    // 必填
	Start    time.Time // 事件窗口起点；零值取 End 前 24h
	End      time.Time // 事件窗口终点；零值取当前时间
}

// ReconcileResponse 对账结果汇总
type ReconcileResponse struct {
	Fetched   int      // 拉取到的事件数
	Processed int      // 新建补货请求数
	Skipped   int      // 跳过的事件数（去重、未绑定等）
	Errors    []string // 单事件处理失败明细（不中断整体）
}

func (s *eventReconciler) ReconcileButtonEvents(ctx context.Context, req ReconcileRequest) (*ReconcileResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	end := req.End
	if end.IsZero() {
		end = s.now()
	}
	start := req.Start
	if start.IsZero() {
		start = end.Add(-24 * time.Hour)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("invalid event window")
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		s.logger.Error("Failed to resolve store", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to resolve store")
	}

	// 2. 先唤醒休眠价签，让事件缓冲上报；失败不阻断拉取
	if s.cfg.WakeBeforePoll {
		if err := s.cloud.WakeupTags(ctx, storeID, nil); err != nil {
			s.logger.Warn("Wakeup before poll failed", zap.String("store_id", storeID), zap.Error(err))
		}
	}

	// 3. 拉取窗口内按钮事件
	events, err := s.cloud.GetButtonEvents(ctx, storeID, start, end)
	if err != nil {
		s.logger.Error("GetButtonEvents failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("store_id", storeID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch button events")
	}

	resp := &ReconcileResponse{Fetched: len(events)}
	if len(events) == 0 {
		return resp, nil
	}

	// 4. 系统账号惰性解析（BUTTON 请求的 requester）
	actorID, err := s.usersRepo.ResolveSystemActor(ctx, req.TenantID)
	if err != nil {
		s.logger.Error("ResolveSystemActor failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to resolve system actor")
	}

	// 5. 逐事件处理；单事件失败只记录，不中断其它事件
	for _, ev := range events {
		created, reason, err := s.processEvent(ctx, req.TenantID, actorID, ev)
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("event %s/%s: %v", ev.TagMac, ev.EventTime.Format(time.RFC3339), err))
			continue
		}
		if created {
			resp.Processed++
		} else {
			resp.Skipped++
			s.logger.Debug("Button event skipped",
				zap.String("tag_mac", ev.TagMac),
				zap.Time("event_time", ev.EventTime),
				zap.String("reason", reason),
			)
		}
	}

	s.logger.Info("Button event reconcile finished",
		zap.String("tenant_id", req.TenantID),
		zap.Int("fetched", resp.Fetched),
		zap.Int("processed", resp.Processed),
		zap.Int("skipped", resp.Skipped),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

// processEvent 单事件流水线。返回是否新建请求及跳过原因。
func (s *eventReconciler) processEvent(ctx context.Context, tenantID, actorID string, ev ButtonEventSource) (bool, string, error) {
	// 事件必须能归到已绑定商品，否则无法确定补什么货
	if ev.GoodsID == "" {
		return false, "unbound", nil
	}

	deviceID := identity.NormalizeMacLower(ev.TagMac)
	if !identity.IsValidMac(deviceID) {
		return false, "", fmt.Errorf("invalid tag mac: %s", ev.TagMac)
	}

	// 云端商品 ID 反查本地商品；查不到说明该商品尚未同步
	product, err := s.productsRepo.GetByCloudGoodsID(ctx, tenantID, ev.GoodsID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, "not synced", nil
		}
		return false, "", fmt.Errorf("lookup product: %w", err)
	}

	// 去重窗口以事件时间为中心，重复投递与重放在这里吸收
	winStart := ev.EventTime.Add(-s.cfg.DedupWindow)
	winEnd := ev.EventTime.Add(s.cfg.DedupWindow)
	exists, err := s.replenishRepo.ExistsButtonRequestInWindow(ctx, tenantID, product.ProductID, deviceID, winStart, winEnd)
	if err != nil {
		return false, "", fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		return false, "duplicate", nil
	}

	// rowId 留档：厂家侧事件行号，将来可迁移为幂等键
	note := fmt.Sprintf("button press at %s via gateway %s (event %s)",
		ev.EventTime.UTC().Format(time.RFC3339),
		identity.NormalizeMacUpper(ev.GatewayMac),
		ev.RowID,
	)
	request := &domain.ReplenishmentRequest{
		TenantID:       tenantID,
		ProductID:      product.ProductID,
		RequestMethod:  domain.RequestMethodButton,
		SourceDeviceID: sql.NullString{String: deviceID, Valid: true},
		RequesterID:    actorID,
		Status:         domain.RequestStatusPending,
		Priority:       domain.RequestPriorityNormal,
		Note:           sql.NullString{String: note, Valid: true},
		CreatedAt:      ev.EventTime, // 存事件时间，窗口查询按事件时间去重
	}
	if _, err := s.replenishRepo.CreateRequest(ctx, request); err != nil {
		return false, "", fmt.Errorf("create request: %w", err)
	}
	return true, "", nil
}
