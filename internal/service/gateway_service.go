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

// gatewayCloud 网关管理需要的厂家云操作子集
type gatewayCloud interface {
	ListGateways(ctx context.Context, storeID string) ([]cloud.CloudGatewayInfo, error)
	AddGateway(ctx context.Context, storeID, mac, name string) error
	DeleteGateway(ctx context.Context, storeID, mac string) error
}

// GatewayService 网关注册、删除与在线状态同步
type GatewayService interface {
	RegisterGateway(ctx context.Context, req RegisterGatewayRequest) (*RegisterGatewayResponse, error)
	DeleteGateway(ctx context.Context, req DeleteGatewayRequest) error
	ListGateways(ctx context.Context, tenantID string) ([]domain.Gateway, error)
	SyncGatewayStatus(ctx context.Context, req SyncGatewayStatusRequest) (*SyncGatewayStatusResponse, error)
}

type gatewayService struct {
	gatewaysRepo repository.GatewaysRepo
	deviceRepo   repository.DeviceStatusRepo
	cloud        gatewayCloud
	stores       storeResolver
	logger       *zap.Logger
}

// NewGatewayService 创建 GatewayService 实例
func NewGatewayService(
	gatewaysRepo repository.GatewaysRepo,
	deviceRepo repository.DeviceStatusRepo,
	cloudClient gatewayCloud,
	stores storeResolver,
	logger *zap.Logger,
) GatewayService {
	return &gatewayService{
		gatewaysRepo: gatewaysRepo,
		deviceRepo:   deviceRepo,
		cloud:        cloudClient,
		stores:       stores,
		logger:       logger,
	}
}

// RegisterGatewayRequest 网关注册请求
type RegisterGatewayRequest struct {
	TenantID string // 必填
	Mac      string // 任意书写格式
	Name     string
}

// RegisterGatewayResponse 网关注册响应
type RegisterGatewayResponse struct {
	GatewayID string
	Mac       string // 规范化后的大写 MAC
}

func (s *gatewayService) RegisterGateway(ctx context.Context, req RegisterGatewayRequest) (*RegisterGatewayResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	mac := identity.NormalizeMacUpper(req.Mac)
	if !identity.IsValidMac(mac) {
		return nil, fmt.Errorf("invalid gateway mac: %s", req.Mac)
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	// 2. 先在云端注册；云端失败不落本地
	if err := s.cloud.AddGateway(ctx, storeID, mac, req.Name); err != nil {
		// 云端已存在视为可继续（本地可能是上次中断后的补登）
		if !cloud.IsConflict(err) {
			s.logger.Warn("Cloud gateway add failed", zap.String("mac", mac), zap.Error(err))
			return nil, err
		}
	}

	// 3. 落本地；(tenant, mac) 唯一键冲突转为冲突错误
	g := &domain.Gateway{
		TenantID:   req.TenantID,
		Name:       req.Name,
		MacAddress: mac,
	}
	id, err := s.gatewaysRepo.CreateGateway(ctx, g)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, &cloud.ConflictError{Msg: "gateway already registered: " + mac}
		}
		s.logger.Error("CreateGateway failed", zap.String("mac", mac), zap.Error(err))
		return nil, fmt.Errorf("failed to register gateway")
	}

	s.logger.Info("Gateway registered",
		zap.String("tenant_id", req.TenantID),
		zap.String("gateway_id", id),
		zap.String("mac", mac),
	)
	return &RegisterGatewayResponse{GatewayID: id, Mac: mac}, nil
}

// DeleteGatewayRequest 网关删除请求
type DeleteGatewayRequest struct {
	TenantID  string
	GatewayID string
	// Force 为 true 时忽略云端删除失败，仅删本地记录
	Force bool
}

func (s *gatewayService) DeleteGateway(ctx context.Context, req DeleteGatewayRequest) error {
	if req.TenantID == "" || req.GatewayID == "" {
		return fmt.Errorf("tenant_id and gateway_id are required")
	}

	g, err := s.gatewaysRepo.GetGateway(ctx, req.TenantID, req.GatewayID)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("gateway not found: %s", req.GatewayID)
		}
		s.logger.Error("GetGateway failed", zap.String("gateway_id", req.GatewayID), zap.Error(err))
		return fmt.Errorf("failed to load gateway")
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve store")
	}

	// 先删云端；云端不存在视为幂等成功
	if err := s.cloud.DeleteGateway(ctx, storeID, g.MacAddress); err != nil && !cloud.IsNotFound(err) {
		if !req.Force {
			s.logger.Warn("Cloud gateway delete failed", zap.String("mac", g.MacAddress), zap.Error(err))
			return err
		}
		s.logger.Warn("Cloud gateway delete failed, forcing local delete",
			zap.String("mac", g.MacAddress),
			zap.Error(err),
		)
	}

	if err := s.gatewaysRepo.DeleteGateway(ctx, req.TenantID, req.GatewayID); err != nil {
		s.logger.Error("DeleteGateway failed", zap.String("gateway_id", req.GatewayID), zap.Error(err))
		return fmt.Errorf("failed to delete gateway")
	}

	s.logger.Info("Gateway deleted",
		zap.String("tenant_id", req.TenantID),
		zap.String("gateway_id", req.GatewayID),
		zap.String("mac", g.MacAddress),
	)
	return nil
}

func (s *gatewayService) ListGateways(ctx context.Context, tenantID string) ([]domain.Gateway, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	gateways, err := s.gatewaysRepo.ListGateways(ctx, tenantID)
	if err != nil {
		s.logger.Error("ListGateways failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list gateways")
	}
	return gateways, nil
}

// SyncGatewayStatusRequest 网关状态同步请求
type SyncGatewayStatusRequest struct {
	TenantID string
	// SuffixLen 模糊匹配的 MAC 后缀长度（0 取默认 6）
	SuffixLen int
}

// SyncGatewayStatusResponse 网关状态同步结果
type SyncGatewayStatusResponse struct {
	Matched   int
	Unmatched int
	Online    int
}

// SyncGatewayStatus 用云端网关清单刷新本地网关的在线状态。
// 厂家列表里的 MAC 书写格式不稳定，先精确匹配、再按后缀模糊匹配；
// 匹配不到的本地网关按离线处理，宁可误报离线也不误报在线。
func (s *gatewayService) SyncGatewayStatus(ctx context.Context, req SyncGatewayStatusRequest) (*SyncGatewayStatusResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	suffixLen := req.SuffixLen
	if suffixLen <= 0 {
		suffixLen = 6
	}

	storeID, err := s.stores.GetDefaultStoreID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store")
	}

	cloudGateways, err := s.cloud.ListGateways(ctx, storeID)
	if err != nil {
		s.logger.Error("ListGateways from cloud failed", zap.String("store_id", storeID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch cloud gateways")
	}

	locals, err := s.gatewaysRepo.ListGateways(ctx, req.TenantID)
	if err != nil {
		s.logger.Error("ListGateways failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list gateways")
	}

	candidates := make([]string, len(cloudGateways))
	onlineByMac := make(map[string]bool, len(cloudGateways))
	for i, cg := range cloudGateways {
		mac := identity.NormalizeMacUpper(cg.Mac)
		candidates[i] = mac
		onlineByMac[mac] = cg.IsOnline
	}

	resp := &SyncGatewayStatusResponse{}
	now := time.Now()
	for i := range locals {
		g := &locals[i]
		matched := identity.FuzzyMacMatch(g.MacAddress, candidates, suffixLen)
		online := false
		if matched != "" {
			resp.Matched++
			online = onlineByMac[matched]
		} else {
			resp.Unmatched++
		}
		if online {
			resp.Online++
		}
		// 网关在 device_status 里也有一条影子记录，承载在线状态
		if err := s.deviceRepo.UpsertFromSync(ctx, &domain.DeviceStatus{
			TenantID:     g.TenantID,
			DeviceID:     identity.NormalizeMacLower(g.MacAddress),
			DeviceType:   "gateway",
			IsOnline:     online,
			LastSyncAt:   sql.NullTime{Time: now, Valid: true},
			CloudStoreID: sql.NullString{String: storeID, Valid: true},
		}); err != nil {
			s.logger.Warn("Gateway shadow upsert failed",
				zap.String("mac", g.MacAddress),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Gateway status synced",
		zap.String("tenant_id", req.TenantID),
		zap.Int("matched", resp.Matched),
		zap.Int("unmatched", resp.Unmatched),
		zap.Int("online", resp.Online),
	)
	return resp, nil
}
