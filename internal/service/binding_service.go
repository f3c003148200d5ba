package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/cloud"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// bindingCloud 绑定编排需要的厂家云操作子集
type bindingCloud interface {
	CheckBinding(ctx context.Context, storeID, mac string) (*cloud.BindingInfo, error)
	BindManual(ctx context.Context, storeID, mac, goodsID, templateID string) error
	BindAutomatic(ctx context.Context, storeID, mac, goodsID string) error
	BatchBind(ctx context.Context, storeID string, items []cloud.BatchBindItem) ([]cloud.BatchBindFailure, error)
	Unbind(ctx context.Context, storeID, mac string) error
	RefreshDisplays(ctx context.Context, storeID string, macs []string) error
}

// BindingService 价签-商品绑定编排。云端是绑定关系的权威来源：
// 一律先改云端、成功后再落本地影子，云端失败不留半套状态。
type BindingService interface {
	Bind(ctx context.Context, req BindRequest) (*BindResponse, error)
	Unbind(ctx context.Context, req UnbindRequest) (*UnbindResponse, error)
	BatchBind(ctx context.Context, req BatchBindRequest) (*BatchBindResponse, error)
	ReconcileBindings(ctx context.Context, req ReconcileBindingsRequest) (*ReconcileBindingsResponse, error)
}

type bindingService struct {
	deviceRepo   repository.DeviceStatusRepo
	productsRepo repository.ProductsRepo
	cloud        bindingCloud
	stores       storeResolver
	entityLocks  *KeyedMutex
	logger       *zap.Logger
	now          func() time.Time
}

// NewBindingService 创建 BindingService 实例
func NewBindingService(
	deviceRepo repository.DeviceStatusRepo,
	productsRepo repository.ProductsRepo,
	cloudClient bindingCloud,
	stores storeResolver,
	logger *zap.Logger,
) BindingService {
	return &bindingService{
		deviceRepo:   deviceRepo,
		productsRepo: productsRepo,
		cloud:        cloudClient,
		stores:       stores,
		entityLocks:  NewKeyedMutex(),
		logger:       logger,
		now:          time.Now,
	}
}

// BindRequest 绑定请求
type BindRequest struct {
	TenantID   string // 必填
	DeviceMac  string // 价签 MAC（任意书写格式）
	ProductID  string // 本地商品 ID
	TemplateID string // 可选；为空用厂家自动模板
}

// BindResponse 绑定响应
type BindResponse struct {
	DeviceID     string
	CloudGoodsID string
}

func (s *bindingService) Bind(ctx context.Context, req BindRequest) (*BindResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	deviceID := identity.NormalizeMacLower(req.DeviceMac)
	if !identity.IsValidMac(deviceID) {
		return nil, fmt.Errorf("invalid device mac: %s", req.DeviceMac)
	}
	if req.ProductID == "" {
		return nil, fmt.Errorf("product_id is required")
	}

	// 2. 商品必须已同步到云端，否则没有可绑定的 goodsId
	product, err := s.productsRepo.GetProduct(ctx, req.TenantID, req.ProductID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product not found: %s", req.ProductID)
		}
		s.logger.Error("GetProduct failed", zap.String("product_id", req.ProductID), zap.Error(err))
		return nil, fmt.Errorf("failed to load product")
	}
	if !product.CloudGoodsID.Valid {
		return nil, fmt.Errorf("product not yet synced, run product sync first")
	}
	goodsID := product.CloudGoodsID.String

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	// 同一价签的绑定/解绑串行执行
	unlock := s.entityLocks.Lock("tag:" + deviceID)
	defer unlock()

	// 3. 先改云端；失败时本地保持原状
	if req.TemplateID == "" {
		err = s.cloud.BindAutomatic(ctx, storeID, deviceID, goodsID)
	} else {
		err = s.cloud.BindManual(ctx, storeID, deviceID, goodsID, req.TemplateID)
	}
	if err != nil {
		s.logger.Warn("Cloud bind failed",
			zap.String("device_id", deviceID),
			zap.String("goods_id", goodsID),
			zap.Error(err),
		)
		return nil, err
	}

	// 4. 云端成功后落本地影子；失败只告警，由绑定对账收敛
	if lErr := s.deviceRepo.SetBinding(ctx, req.TenantID, deviceID, true, goodsID, s.now()); lErr != nil {
		s.logger.Warn("Local binding update failed after cloud success",
			zap.String("device_id", deviceID),
			zap.Error(lErr),
		)
	}

	s.logger.Info("Tag bound",
		zap.String("tenant_id", req.TenantID),
		zap.String("device_id", deviceID),
		zap.String("goods_id", goodsID),
	)
	return &BindResponse{DeviceID: deviceID, CloudGoodsID: goodsID}, nil
}

// UnbindRequest 解绑请求
type UnbindRequest struct {
	TenantID  string
	DeviceMac string
}

// UnbindResponse 解绑响应
type UnbindResponse struct {
	DeviceID string
}

func (s *bindingService) Unbind(ctx context.Context, req UnbindRequest) (*UnbindResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	deviceID := identity.NormalizeMacLower(req.DeviceMac)
	if !identity.IsValidMac(deviceID) {
		return nil, fmt.Errorf("invalid device mac: %s", req.DeviceMac)
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	unlock := s.entityLocks.Lock("tag:" + deviceID)
	defer unlock()

	// 云端已无绑定视为幂等成功
	if err := s.cloud.Unbind(ctx, storeID, deviceID); err != nil && !cloud.IsNotFound(err) {
		s.logger.Warn("Cloud unbind failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, err
	}

	if lErr := s.deviceRepo.SetBinding(ctx, req.TenantID, deviceID, false, "", s.now()); lErr != nil {
		s.logger.Warn("Local unbind update failed after cloud success",
			zap.String("device_id", deviceID),
			zap.Error(lErr),
		)
	}

	s.logger.Info("Tag unbound",
		zap.String("tenant_id", req.TenantID),
		zap.String("device_id", deviceID),
	)
	return &UnbindResponse{DeviceID: deviceID}, nil
}

// BatchBindItem 批量绑定单项
type BatchBindItem struct {
	DeviceMac  string
	ProductID  string
	TemplateID string
}

// BatchBindRequest 批量绑定请求
type BatchBindRequest struct {
	TenantID string
	Items    []BatchBindItem
	Refresh  bool // 绑定后是否触发显示刷新
}

// BatchBindFailure 批量绑定单项失败
type BatchBindFailure struct {
	DeviceMac string
	Reason    string
}

// BatchBindResponse 批量绑定响应（部分成功；失败逐项列出）
type BatchBindResponse struct {
	Bound    int
	Failures []BatchBindFailure
}

func (s *bindingService) BatchBind(ctx context.Context, req BatchBindRequest) (*BatchBindResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("items is required")
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	// 2. 本地预检：MAC 合法、商品已同步；不合格项直接进失败清单
	resp := &BatchBindResponse{}
	cloudItems := make([]cloud.BatchBindItem, 0, len(req.Items))
	goodsByMac := make(map[string]string, len(req.Items))
	for _, it := range req.Items {
		deviceID := identity.NormalizeMacLower(it.DeviceMac)
		if !identity.IsValidMac(deviceID) {
			resp.Failures = append(resp.Failures, BatchBindFailure{DeviceMac: it.DeviceMac, Reason: "invalid mac"})
			continue
		}
		product, err := s.productsRepo.GetProduct(ctx, req.TenantID, it.ProductID)
		if err != nil {
			if err == sql.ErrNoRows {
				resp.Failures = append(resp.Failures, BatchBindFailure{DeviceMac: it.DeviceMac, Reason: "product not found"})
				continue
			}
			return nil, fmt.Errorf("failed to load product")
		}
		if !product.CloudGoodsID.Valid {
			resp.Failures = append(resp.Failures, BatchBindFailure{DeviceMac: it.DeviceMac, Reason: "product not synced"})
			continue
		}
		cloudItems = append(cloudItems, cloud.BatchBindItem{
			Mac:        deviceID,
			GoodsID:    product.CloudGoodsID.String,
			TemplateID: it.TemplateID,
		})
		goodsByMac[deviceID] = product.CloudGoodsID.String
	}
	if len(cloudItems) == 0 {
		return resp, nil
	}

	// 3. 云端批量绑定；厂家逐项执行并返回失败清单
	failures, err := s.cloud.BatchBind(ctx, storeID, cloudItems)
	if err != nil {
		s.logger.Error("BatchBind failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, err
	}
	failedMacs := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		mac := identity.NormalizeMacLower(f.Mac)
		failedMacs[mac] = struct{}{}
		resp.Failures = append(resp.Failures, BatchBindFailure{DeviceMac: mac, Reason: f.Reason})
	}

	// 4. 成功项落本地影子
	boundMacs := make([]string, 0, len(cloudItems))
	for _, it := range cloudItems {
		if _, failed := failedMacs[it.Mac]; failed {
			continue
		}
		if lErr := s.deviceRepo.SetBinding(ctx, req.TenantID, it.Mac, true, goodsByMac[it.Mac], s.now()); lErr != nil {
			s.logger.Warn("Local binding update failed after cloud success",
				zap.String("device_id", it.Mac),
				zap.Error(lErr),
			)
		}
		boundMacs = append(boundMacs, it.Mac)
		resp.Bound++
	}

	// 5. 可选的显示刷新；失败不影响绑定结果
	if req.Refresh && len(boundMacs) > 0 {
		if rErr := s.cloud.RefreshDisplays(ctx, storeID, boundMacs); rErr != nil {
			s.logger.Warn("Display refresh failed", zap.Int("macs", len(boundMacs)), zap.Error(rErr))
		}
	}

	s.logger.Info("Batch bind finished",
		zap.String("tenant_id", req.TenantID),
		zap.Int("bound", resp.Bound),
		zap.Int("failed", len(resp.Failures)),
	)
	return resp, nil
}

// ReconcileBindingsRequest 绑定对账请求
type ReconcileBindingsRequest struct {
	TenantID string
}

// ReconcileBindingsResponse 绑定对账结果
type ReconcileBindingsResponse struct {
	Checked   int
	Corrected int
	Errors    []string
}

// ReconcileBindings 逐台核对本地影子与云端绑定，以云端为准修正本地。
// 处理云端成功但本地落库失败留下的偏差。
func (s *bindingService) ReconcileBindings(ctx context.Context, req ReconcileBindingsRequest) (*ReconcileBindingsResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	devices, err := s.deviceRepo.ListByTenant(ctx, req.TenantID)
	if err != nil {
		s.logger.Error("ListByTenant failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list devices")
	}

	resp := &ReconcileBindingsResponse{}
	for i := range devices {
		d := &devices[i]
		resp.Checked++

		info, err := s.cloud.CheckBinding(ctx, storeID, d.DeviceID)
		if err != nil {
			if cloud.IsNotFound(err) {
				// 云端不认识该价签：影子保留，绑定状态清掉
				info = &cloud.BindingInfo{TagMac: d.DeviceID, Bound: false}
			} else {
				resp.Errors = append(resp.Errors, fmt.Sprintf("device %s: %v", d.DeviceID, err))
				continue
			}
		}

		cloudGoods := info.GoodsID
		localGoods := ""
		if d.BoundGoodsID.Valid {
			localGoods = d.BoundGoodsID.String
		}
		if d.Bound == info.Bound && localGoods == cloudGoods {
			continue
		}

		if lErr := s.deviceRepo.SetBinding(ctx, req.TenantID, d.DeviceID, info.Bound, cloudGoods, s.now()); lErr != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("device %s: %v", d.DeviceID, lErr))
			continue
		}
		resp.Corrected++
		s.logger.Info("Binding corrected from cloud",
			zap.String("device_id", d.DeviceID),
			zap.Bool("bound", info.Bound),
			zap.String("goods_id", cloudGoods),
		)
	}
	return resp, nil
}
