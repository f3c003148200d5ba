package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// productCloud 商品/价签同步需要的厂家云操作子集
type productCloud interface {
	ListTags(ctx context.Context, storeID string, filters cloud.TagFilters) ([]cloud.CloudTag, int, error)
}

// ProductSyncService 商品外发同步与价签影子回刷
type ProductSyncService interface {
	// SyncProducts 把本地商品变更排入外发队列（不直接调云端）
	SyncProducts(ctx context.Context, req SyncProductsRequest) (*SyncProductsResponse, error)
	// RefreshDeviceShadows 按云端价签清单刷新本地影子（电量、在线、绑定）
	RefreshDeviceShadows(ctx context.Context, req RefreshShadowsRequest) (*RefreshShadowsResponse, error)
}

type productSyncService struct {
	productsRepo repository.ProductsRepo
	deviceRepo   repository.DeviceStatusRepo
	queue        SyncQueueService
	cloud        productCloud
	stores       storeResolver
	logger       *zap.Logger
	now          func() time.Time
}

// NewProductSyncService 创建 ProductSyncService 实例
func NewProductSyncService(
	productsRepo repository.ProductsRepo,
	deviceRepo repository.DeviceStatusRepo,
	queue SyncQueueService,
	cloudClient productCloud,
	stores storeResolver,
	logger *zap.Logger,
) ProductSyncService {
	return &productSyncService{
		productsRepo: productsRepo,
		deviceRepo:   deviceRepo,
		queue:        queue,
		cloud:        cloudClient,
		stores:       stores,
		logger:       logger,
		now:          time.Now,
	}
}

// SyncProductsRequest 商品同步请求
type SyncProductsRequest struct {
	TenantID   string   // 必填
	ProductIDs []string // 为空同步全部商品
}

// SyncProductsResponse 商品同步响应（逐项入队，部分成功）
type SyncProductsResponse struct {
	Enqueued int
	Errors   []string
}

func (s *productSyncService) SyncProducts(ctx context.Context, req SyncProductsRequest) (*SyncProductsResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	// 2. 读取待同步商品
	products, err := s.productsRepo.ListProducts(ctx, req.TenantID, req.ProductIDs)
	if err != nil {
		s.logger.Error("ListProducts failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list products")
	}
	if len(req.ProductIDs) > 0 && len(products) != len(req.ProductIDs) {
		return nil, fmt.Errorf("some products not found")
	}

	// 3. 逐项入队；已有 cloud_goods_id 的走 update，否则 create
	resp := &SyncProductsResponse{}
	for _, p := range products {
		op := domain.SyncOpCreate
		if p.CloudGoodsID.Valid {
			op = domain.SyncOpUpdate
		}
		_, err := s.queue.Enqueue(ctx, EnqueueRequest{
			TenantID:   req.TenantID,
			EntityType: domain.SyncEntityGoods,
			EntityID:   p.ProductID,
			Operation:  op,
		})
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("product %s: %v", p.ProductID, err))
			continue
		}
		resp.Enqueued++
	}

	s.logger.Info("Products enqueued for sync",
		zap.String("tenant_id", req.TenantID),
		zap.Int("enqueued", resp.Enqueued),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}

// RefreshShadowsRequest 影子回刷请求
type RefreshShadowsRequest struct {
	TenantID string
	PageSize int // 云端分页大小（0 取默认 100）
}

// RefreshShadowsResponse 影子回刷结果
type RefreshShadowsResponse struct {
	Fetched int
	Updated int
	Errors  []string
}

func (s *productSyncService) RefreshDeviceShadows(ctx context.Context, req RefreshShadowsRequest) (*RefreshShadowsResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	size := req.PageSize
	if size <= 0 {
		size = 100
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	resp := &RefreshShadowsResponse{}
	now := s.now()
	// 厂家分页拉取，直到取尽
	for page := 1; ; page++ {
		tags, total, err := s.cloud.ListTags(ctx, storeID, cloud.TagFilters{Page: page, PageSize: size})
		if err != nil {
			s.logger.Error("ListTags failed",
				zap.String("store_id", storeID),
				zap.Int("page", page),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to fetch cloud tags")
		}
		if len(tags) == 0 {
			break
		}
		resp.Fetched += len(tags)

		for _, tag := range tags {
			deviceID := identity.NormalizeMacLower(tag.Mac)
			if !identity.IsValidMac(deviceID) {
				resp.Errors = append(resp.Errors, fmt.Sprintf("tag %s: invalid mac", tag.Mac))
				continue
			}
			shadow := &domain.DeviceStatus{
				TenantID:     req.TenantID,
				DeviceID:     deviceID,
				DeviceType:   "tag",
				IsOnline:     tag.IsOnline,
				LastSyncAt:   sql.NullTime{Time: now, Valid: true},
				CloudStoreID: sql.NullString{String: storeID, Valid: true},
				Bound:        tag.Bound,
			}
			// -1 表示厂家未上报电量，落 NULL 而不是假数值
			if tag.BatteryLevel >= 0 {
				shadow.BatteryLevel = sql.NullInt64{Int64: int64(tag.BatteryLevel), Valid: true}
			}
			if tag.BoundGoodsID != "" {
				shadow.BoundGoodsID = sql.NullString{String: tag.BoundGoodsID, Valid: true}
			}
			if err := s.deviceRepo.UpsertFromSync(ctx, shadow); err != nil {
				resp.Errors = append(resp.Errors, fmt.Sprintf("tag %s: %v", deviceID, err))
				continue
			}
			resp.Updated++
		}

		if resp.Fetched >= total {
			break
		}
	}

	s.logger.Info("Device shadows refreshed",
		zap.String("tenant_id", req.TenantID),
		zap.Int("fetched", resp.Fetched),
		zap.Int("updated", resp.Updated),
		zap.Int("errors", len(resp.Errors)),
	)
	return resp, nil
}
