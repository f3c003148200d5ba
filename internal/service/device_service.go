package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// DeviceService 价签影子查询与人工元数据维护。
// 同步字段（在线、电量、绑定）只由同步流程写入，这里只放开 name/location。
type DeviceService interface {
	ListDevices(ctx context.Context, tenantID string) ([]domain.DeviceStatus, error)
	GetDevice(ctx context.Context, tenantID, deviceMac string) (*domain.DeviceStatus, error)
	UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) error
}

type deviceService struct {
	deviceRepo repository.DeviceStatusRepo
	logger     *zap.Logger
}

// NewDeviceService 创建 DeviceService 实例
func NewDeviceService(deviceRepo repository.DeviceStatusRepo, logger *zap.Logger) DeviceService {
	return &deviceService{deviceRepo: deviceRepo, logger: logger}
}

func (s *deviceService) ListDevices(ctx context.Context, tenantID string) ([]domain.DeviceStatus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	devices, err := s.deviceRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		s.logger.Error("ListByTenant failed", zap.String("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list devices")
	}
	return devices, nil
}

func (s *deviceService) GetDevice(ctx context.Context, tenantID, deviceMac string) (*domain.DeviceStatus, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	deviceID := identity.NormalizeMacLower(deviceMac)
	if !identity.IsValidMac(deviceID) {
		return nil, fmt.Errorf("invalid device mac: %s", deviceMac)
	}
	d, err := s.deviceRepo.GetByDeviceID(ctx, tenantID, deviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device not found: %s", deviceID)
		}
		s.logger.Error("GetByDeviceID failed", zap.String("device_id", deviceID), zap.Error(err))
		return nil, fmt.Errorf("failed to load device")
	}
	return d, nil
}

// UpdateMetadataRequest 人工元数据更新请求
type UpdateMetadataRequest struct {
	TenantID  string
	DeviceMac string
	Name      *string // nil = 不修改
	Location  *string // nil = 不修改
}

func (s *deviceService) UpdateMetadata(ctx context.Context, req UpdateMetadataRequest) error {
	// 1. 参数验证
	if req.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	deviceID := identity.NormalizeMacLower(req.DeviceMac)
	if !identity.IsValidMac(deviceID) {
		return fmt.Errorf("invalid device mac: %s", req.DeviceMac)
	}
	payload := map[string]any{}
	if req.Name != nil {
		payload["name"] = *req.Name
	}
	if req.Location != nil {
		payload["location"] = *req.Location
	}
	if len(payload) == 0 {
		return fmt.Errorf("nothing to update")
	}

	// 2. 目标设备必须存在（影子由同步流程创建，这里不补建）
	if _, err := s.deviceRepo.GetByDeviceID(ctx, req.TenantID, deviceID); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("device not found: %s", deviceID)
		}
		s.logger.Error("GetByDeviceID failed", zap.String("device_id", deviceID), zap.Error(err))
		return fmt.Errorf("failed to load device")
	}

	if err := s.deviceRepo.UpdateMetadata(ctx, req.TenantID, deviceID, payload); err != nil {
		s.logger.Error("UpdateMetadata failed", zap.String("device_id", deviceID), zap.Error(err))
		return fmt.Errorf("failed to update device metadata")
	}
	return nil
}
