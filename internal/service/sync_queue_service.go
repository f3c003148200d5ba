package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/config"
	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// queueCloud SyncQueue 派发需要的厂家云操作子集
type queueCloud interface {
	CreateGoods(ctx context.Context, storeID, barcode, name, price string) (string, error)
	UpdateGoods(ctx context.Context, storeID, goodsID, name, price string) error
	DeleteGoods(ctx context.Context, storeID, goodsID string) error
	BindManual(ctx context.Context, storeID, mac, goodsID, templateID string) error
	BindAutomatic(ctx context.Context, storeID, mac, goodsID string) error
	Unbind(ctx context.Context, storeID, mac string) error
	AddGateway(ctx context.Context, storeID, mac, name string) error
	DeleteGateway(ctx context.Context, storeID, mac string) error
}

// storeResolver 解析租户默认厂家门店
type storeResolver interface {
	GetDefaultStoreID(ctx context.Context) (string, error)
}

// SyncQueueService 外发变更队列：入队、派发、状态查询、人工重试、保留清理
type SyncQueueService interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResponse, error)
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error)
	GetStatus(ctx context.Context, req QueueStatusRequest) (*QueueStatusResponse, error)
	RetryFailed(ctx context.Context, req RetryFailedRequest) (*RetryFailedResponse, error)
	PurgeTerminal(ctx context.Context, req PurgeRequest) (*PurgeResponse, error)
}

type syncQueueService struct {
	queueRepo    repository.SyncQueueRepo
	productsRepo repository.ProductsRepo
	deviceRepo   repository.DeviceStatusRepo
	cloud        queueCloud
	stores       storeResolver
	entityLocks  *KeyedMutex
	cfg          config.SyncConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewSyncQueueService 创建 SyncQueueService 实例
func NewSyncQueueService(
	queueRepo repository.SyncQueueRepo,
	productsRepo repository.ProductsRepo,
	deviceRepo repository.DeviceStatusRepo,
	cloudClient queueCloud,
	stores storeResolver,
	cfg config.SyncConfig,
	logger *zap.Logger,
) SyncQueueService {
	return &syncQueueService{
		queueRepo:    queueRepo,
		productsRepo: productsRepo,
		deviceRepo:   deviceRepo,
		cloud:        cloudClient,
		stores:       stores,
		entityLocks:  NewKeyedMutex(),
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// EnqueueRequest 入队请求
type EnqueueRequest struct {
	TenantID   string // 必填
	EntityType string // goods / tag / gateway
	EntityID   string
	Operation  string         // create / update / delete / bind / unbind
	Payload    map[string]any // 操作参数快照（可选）
}

// EnqueueResponse 入队响应
type EnqueueResponse struct {
	ItemID string
}

func (s *syncQueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if req.EntityType == "" || req.EntityID == "" {
		return nil, fmt.Errorf("entity_type and entity_id are required")
	}
	switch req.Operation {
	case domain.SyncOpCreate, domain.SyncOpUpdate, domain.SyncOpDelete, domain.SyncOpBind, domain.SyncOpUnbind:
	default:
		return nil, fmt.Errorf("unknown operation: %s", req.Operation)
	}

	// 2. 构造队列项
	item := &domain.SyncQueueItem{
		TenantID:    req.TenantID,
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Operation:   req.Operation,
		MaxRetries:  s.cfg.MaxRetries,
		ScheduledAt: s.now(),
	}
	if req.Payload != nil {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		item.Payload = sql.NullString{String: string(raw), Valid: true}
	}

	id, err := s.queueRepo.Enqueue(ctx, item)
	if err != nil {
		s.logger.Error("Enqueue failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("entity_id", req.EntityID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to enqueue sync item")
	}
	return &EnqueueResponse{ItemID: id}, nil
}

// DispatchRequest 派发请求（外部触发，每次处理至多 MaxItems 项）
type DispatchRequest struct {
	TenantID string
	MaxItems int // 默认 50
}

// DispatchResponse 派发结果汇总（部分成功，不整体失败）
type DispatchResponse struct {
	Processed int
	Succeeded int
	Retried   int
	Failed    int
}

func (s *syncQueueService) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	max := req.MaxItems
	if max <= 0 {
		max = 50
	}

	resp := &DispatchResponse{}
	for i := 0; i < max; i++ {
		item, err := s.queueRepo.ClaimNext(ctx, req.TenantID, s.now())
		if err != nil {
			return resp, fmt.Errorf("failed to claim queue item: %w", err)
		}
		if item == nil {
			break
		}
		resp.Processed++

		stop := s.dispatchOne(ctx, item, resp)
		if stop {
			break
		}
	}
	return resp, nil
}

// dispatchOne 执行单项；返回 true 表示终止本次派发（token 失效等全局性失败）
func (s *syncQueueService) dispatchOne(ctx context.Context, item *domain.SyncQueueItem, resp *DispatchResponse) bool {
	// 同一 entity 的冲突操作串行执行
	unlock := s.entityLocks.Lock(item.EntityType + ":" + item.EntityID)
	defer unlock()

	err := s.execute(ctx, item)
	if err == nil {
		if mErr := s.queueRepo.MarkSuccess(ctx, item.ItemID); mErr != nil {
			s.logger.Error("MarkSuccess failed", zap.String("item_id", item.ItemID), zap.Error(mErr))
		}
		resp.Succeeded++
		return false
	}

	switch {
	case cloud.IsAuth(err):
		// token 问题影响所有后续项：原样放回，结束本次派发
		if mErr := s.queueRepo.MarkRetry(ctx, item.ItemID, item.RetryCount, s.now().Add(s.cfg.BackoffBase), err.Error()); mErr != nil {
			s.logger.Error("MarkRetry failed", zap.String("item_id", item.ItemID), zap.Error(mErr))
		}
		s.logger.Warn("Dispatch stopped: authentication failure", zap.Error(err))
		resp.Retried++
		return true

	case cloud.IsTransient(err):
		retryCount := item.RetryCount + 1
		if retryCount < item.MaxRetries {
			delay := backoff(s.cfg.BackoffBase, s.cfg.BackoffCap, retryCount)
			if mErr := s.queueRepo.MarkRetry(ctx, item.ItemID, retryCount, s.now().Add(delay), err.Error()); mErr != nil {
				s.logger.Error("MarkRetry failed", zap.String("item_id", item.ItemID), zap.Error(mErr))
			}
			resp.Retried++
		} else {
			if mErr := s.queueRepo.MarkFailed(ctx, item.ItemID, err.Error()); mErr != nil {
				s.logger.Error("MarkFailed failed", zap.String("item_id", item.ItemID), zap.Error(mErr))
			}
			s.logger.Warn("Queue item exhausted retries",
				zap.String("item_id", item.ItemID),
				zap.String("entity_id", item.EntityID),
				zap.Error(err),
			)
			resp.Failed++
		}
		return false

	default:
		// 校验错误等永久失败：跳过重试直接终态
		if mErr := s.queueRepo.MarkFailed(ctx, item.ItemID, err.Error()); mErr != nil {
			s.logger.Error("MarkFailed failed", zap.String("item_id", item.ItemID), zap.Error(mErr))
		}
		s.logger.Warn("Queue item failed permanently",
			zap.String("item_id", item.ItemID),
			zap.String("entity_id", item.EntityID),
			zap.Error(err),
		)
		resp.Failed++
		return false
	}
}

// backoff 指数退避: base * 2^(retry-1)，封顶 maxDelay
func backoff(base, maxDelay time.Duration, retryCount int) time.Duration {
	d := base
	for i := 1; i < retryCount; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// execute 按 entity_type + operation 调用厂家云
func (s *syncQueueService) execute(ctx context.Context, item *domain.SyncQueueItem) error {
	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return err
	}

	var payload map[string]string
	if item.Payload.Valid {
		if err := json.Unmarshal([]byte(item.Payload.String), &payload); err != nil {
			return &cloud.ValidationError{Field: "payload", Msg: err.Error()}
		}
	}

	switch item.EntityType {
	case domain.SyncEntityGoods:
		return s.executeGoods(ctx, storeID, item, payload)
	case domain.SyncEntityTag:
		return s.executeTag(ctx, storeID, item, payload)
	case domain.SyncEntityGateway:
		return s.executeGateway(ctx, storeID, item, payload)
	default:
		return &cloud.ValidationError{Field: "entity_type", Msg: item.EntityType}
	}
}

func (s *syncQueueService) executeGoods(ctx context.Context, storeID string, item *domain.SyncQueueItem, payload map[string]string) error {
	switch item.Operation {
	case domain.SyncOpCreate, domain.SyncOpUpdate:
		// 读最新商品数据而不是入队时的快照，避免覆盖更晚的修改
		product, err := s.productsRepo.GetProduct(ctx, item.TenantID, item.EntityID)
		if err != nil {
			if err == sql.ErrNoRows {
				return &cloud.ValidationError{Field: "product", Msg: "product no longer exists: " + item.EntityID}
			}
			return &cloud.TransientError{Op: "getProduct", Err: err}
		}
		if !product.CloudGoodsID.Valid {
			goodsID, err := s.cloud.CreateGoods(ctx, storeID, product.Barcode, product.Name, product.Price)
			if err != nil {
				return err
			}
			if err := s.productsRepo.SetCloudGoodsID(ctx, item.TenantID, item.EntityID, goodsID); err != nil {
				// 云端已建档；本地回填失败留给下次重试收敛
				return &cloud.TransientError{Op: "setCloudGoodsID", Err: err}
			}
			return nil
		}
		return s.cloud.UpdateGoods(ctx, storeID, product.CloudGoodsID.String, product.Name, product.Price)

	case domain.SyncOpDelete:
		goodsID := payload["cloud_goods_id"]
		if goodsID == "" {
			return &cloud.ValidationError{Field: "cloud_goods_id", Msg: "required for goods delete"}
		}
		err := s.cloud.DeleteGoods(ctx, storeID, goodsID)
		if cloud.IsNotFound(err) {
			// 云端已不存在，删除视为幂等成功
			return nil
		}
		return err

	default:
		return &cloud.ValidationError{Field: "operation", Msg: item.Operation + " not valid for goods"}
	}
}

func (s *syncQueueService) executeTag(ctx context.Context, storeID string, item *domain.SyncQueueItem, payload map[string]string) error {
	mac := identity.NormalizeMacLower(item.EntityID)
	switch item.Operation {
	case domain.SyncOpBind:
		goodsID := payload["goods_id"]
		if goodsID == "" {
			return &cloud.ValidationError{Field: "goods_id", Msg: "required for bind"}
		}
		templateID := payload["template_id"]
		var err error
		if templateID == "" {
			err = s.cloud.BindAutomatic(ctx, storeID, mac, goodsID)
		} else {
			err = s.cloud.BindManual(ctx, storeID, mac, goodsID, templateID)
		}
		if err != nil {
			return err
		}
		// 云端成功后刷新本地影子；失败只记录，由绑定对账收敛
		if lErr := s.deviceRepo.SetBinding(ctx, item.TenantID, mac, true, goodsID, s.now()); lErr != nil {
			s.logger.Warn("Local binding update failed after cloud success",
				zap.String("device_id", mac),
				zap.Error(lErr),
			)
		}
		return nil

	case domain.SyncOpUnbind:
		err := s.cloud.Unbind(ctx, storeID, mac)
		if err != nil && !cloud.IsNotFound(err) {
			return err
		}
		if lErr := s.deviceRepo.SetBinding(ctx, item.TenantID, mac, false, "", s.now()); lErr != nil {
			s.logger.Warn("Local unbind update failed after cloud success",
				zap.String("device_id", mac),
				zap.Error(lErr),
			)
		}
		return nil

	default:
		return &cloud.ValidationError{Field: "operation", Msg: item.Operation + " not valid for tag"}
	}
}

func (s *syncQueueService) executeGateway(ctx context.Context, storeID string, item *domain.SyncQueueItem, payload map[string]string) error {
	mac := identity.NormalizeMacUpper(item.EntityID)
	switch item.Operation {
	case domain.SyncOpCreate:
		return s.cloud.AddGateway(ctx, storeID, mac, payload["name"])
	case domain.SyncOpDelete:
		err := s.cloud.DeleteGateway(ctx, storeID, mac)
		if cloud.IsNotFound(err) {
			return nil
		}
		return err
	default:
		return &cloud.ValidationError{Field: "operation", Msg: item.Operation + " not valid for gateway"}
	}
}

// QueueStatusRequest 队列状态查询请求
type QueueStatusRequest struct {
	TenantID string
	Status   string // 可选：按状态过滤明细
	Page     int
	Size     int
}

// QueueStatusResponse 队列状态响应
type QueueStatusResponse struct {
	Counts map[string]int
	Items  []*domain.SyncQueueItem
	Total  int
}

func (s *syncQueueService) GetStatus(ctx context.Context, req QueueStatusRequest) (*QueueStatusResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	counts, err := s.queueRepo.CountByStatus(ctx, req.TenantID)
	if err != nil {
		s.logger.Error("CountByStatus failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to get queue status")
	}

	items, total, err := s.queueRepo.ListItems(ctx, req.TenantID, req.Status, req.Page, req.Size)
	if err != nil {
		s.logger.Error("ListItems failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list queue items")
	}

	out := make([]*domain.SyncQueueItem, len(items))
	for i := range items {
		out[i] = &items[i]
	}
	return &QueueStatusResponse{Counts: counts, Items: out, Total: total}, nil
}

// RetryFailedRequest 人工重试请求
type RetryFailedRequest struct {
	TenantID string
	ItemIDs  []string
}

// RetryFailedResponse 人工重试响应
type RetryFailedResponse struct {
	Reset int
}

func (s *syncQueueService) RetryFailed(ctx context.Context, req RetryFailedRequest) (*RetryFailedResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("item_ids is required")
	}

	n, err := s.queueRepo.ResetFailed(ctx, req.TenantID, req.ItemIDs)
	if err != nil {
		s.logger.Error("ResetFailed failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to reset queue items")
	}
	return &RetryFailedResponse{Reset: n}, nil
}

// PurgeRequest 保留清理请求
type PurgeRequest struct {
	TenantID string // 仅作审计记录，清理按全局保留期执行
}

// PurgeResponse 保留清理响应
type PurgeResponse struct {
	Purged int64
}

func (s *syncQueueService) PurgeTerminal(ctx context.Context, req PurgeRequest) (*PurgeResponse, error) {
	horizon := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	n, err := s.queueRepo.PurgeTerminal(ctx, horizon)
	if err != nil {
		s.logger.Error("PurgeTerminal failed", zap.Error(err))
		return nil, fmt.Errorf("failed to purge queue items")
	}
	if n > 0 {
		s.logger.Info("Purged terminal queue items",
			zap.Int64("purged", n),
			zap.Time("horizon", horizon),
		)
	}
	return &PurgeResponse{Purged: n}, nil
}
