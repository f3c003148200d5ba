package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/identity"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// ReplenishmentService 补货请求查询与人工创建。
// 按钮来源的请求由 EventReconciler 生成，这里只处理 MANUAL。
type ReplenishmentService interface {
	CreateManualRequest(ctx context.Context, req CreateManualRequest) (*CreateManualResponse, error)
	ListRequests(ctx context.Context, req ListRequestsRequest) (*ListRequestsResponse, error)
}

type replenishmentService struct {
	replenishRepo repository.ReplenishmentRepo
	productsRepo  repository.ProductsRepo
	logger        *zap.Logger
	now           func() time.Time
}

// NewReplenishmentService 创建 ReplenishmentService 实例
func NewReplenishmentService(
	replenishRepo repository.ReplenishmentRepo,
	productsRepo repository.ProductsRepo,
	logger *zap.Logger,
) ReplenishmentService {
	return &replenishmentService{
		replenishRepo: replenishRepo,
		productsRepo:  productsRepo,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateManualRequest 人工补货请求
type CreateManualRequest struct {
	TenantID    string
	ProductID   string
	RequesterID string
	Priority    string // 空取 NORMAL
	Note        string
	DeviceMac   string // 可选：关联来源价签
}

// CreateManualResponse 人工补货响应
type CreateManualResponse struct {
	RequestID string
}

func (s *replenishmentService) CreateManualRequest(ctx context.Context, req CreateManualRequest) (*CreateManualResponse, error) {
	// 1. 参数验证
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}
	if req.ProductID == "" || req.RequesterID == "" {
		return nil, fmt.Errorf("product_id and requester_id are required")
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.RequestPriorityNormal
	}
	switch priority {
	case domain.RequestPriorityLow, domain.RequestPriorityNormal, domain.RequestPriorityHigh:
	default:
		return nil, fmt.Errorf("unknown priority: %s", req.Priority)
	}

	// 2. 商品存在性校验
	if _, err := s.productsRepo.GetProduct(ctx, req.TenantID, req.ProductID); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product not found: %s", req.ProductID)
		}
		s.logger.Error("GetProduct failed", zap.String("product_id", req.ProductID), zap.Error(err))
		return nil, fmt.Errorf("failed to load product")
	}

	request := &domain.ReplenishmentRequest{
		TenantID:      req.TenantID,
		ProductID:     req.ProductID,
		RequestMethod: domain.RequestMethodManual,
		RequesterID:   req.RequesterID,
		Status:        domain.RequestStatusPending,
		Priority:      priority,
		CreatedAt:     s.now(),
	}
	if req.DeviceMac != "" {
		deviceID := identity.NormalizeMacLower(req.DeviceMac)
		if !identity.IsValidMac(deviceID) {
			return nil, fmt.Errorf("invalid device mac: %s", req.DeviceMac)
		}
		request.SourceDeviceID = sql.NullString{String: deviceID, Valid: true}
	}
	if req.Note != "" {
		request.Note = sql.NullString{String: req.Note, Valid: true}
	}

	id, err := s.replenishRepo.CreateRequest(ctx, request)
	if err != nil {
		s.logger.Error("CreateRequest failed",
			zap.String("tenant_id", req.TenantID),
			zap.String("product_id", req.ProductID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create replenishment request")
	}
	return &CreateManualResponse{RequestID: id}, nil
}

// ListRequestsRequest 补货请求列表查询
type ListRequestsRequest struct {
	TenantID string
	Status   string // 可选过滤
	Page     int
	Size     int
}

// ListRequestsResponse 补货请求列表响应
type ListRequestsResponse struct {
	Requests []*domain.ReplenishmentRequest
	Total    int
}

func (s *replenishmentService) ListRequests(ctx context.Context, req ListRequestsRequest) (*ListRequestsResponse, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant_id is required")
	}

	requests, total, err := s.replenishRepo.ListRequests(ctx, req.TenantID, req.Status, req.Page, req.Size)
	if err != nil {
		s.logger.Error("ListRequests failed", zap.String("tenant_id", req.TenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list replenishment requests")
	}

	out := make([]*domain.ReplenishmentRequest, len(requests))
	for i := range requests {
		out[i] = &requests[i]
	}
	return &ListRequestsResponse{Requests: out, Total: total}, nil
}
