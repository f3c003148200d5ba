package httpapi

import (
	"fmt"
	"net/http"

	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// ReplenishmentHandler 补货请求查询与人工创建
type ReplenishmentHandler struct {
	replenishments service.ReplenishmentService
	logger         *zap.Logger
}

// NewReplenishmentHandler 创建 ReplenishmentHandler
func NewReplenishmentHandler(replenishments service.ReplenishmentService, logger *zap.Logger) *ReplenishmentHandler {
	return &ReplenishmentHandler{replenishments: replenishments, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *ReplenishmentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/esl/api/v1/replenishments" && r.Method == http.MethodGet:
		h.ListRequests(w, r)
	case r.URL.Path == "/esl/api/v1/replenishments" && r.Method == http.MethodPost:
		h.CreateRequest(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListRequests 补货请求列表
func (h *ReplenishmentHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.replenishments.ListRequests(ctx, service.ListRequestsRequest{
		TenantID: tenantID(r),
		Status:   r.URL.Query().Get("status"),
		Page:     parseInt(r.URL.Query().Get("page"), 1),
		Size:     parseInt(r.URL.Query().Get("size"), 100),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list replenishment requests: %v", err)))
		return
	}

	out := make([]any, 0, len(resp.Requests))
	for _, req := range resp.Requests {
		out = append(out, req.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": out,
		"total": resp.Total,
	}))
}

// CreateRequest 人工创建补货请求
func (h *ReplenishmentHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		ProductID   string `json:"product_id"`
		RequesterID string `json:"requester_id"`
		Priority    string `json:"priority"`
		Note        string `json:"note"`
		Mac         string `json:"mac"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.replenishments.CreateManualRequest(ctx, service.CreateManualRequest{
		TenantID:    tenantID(r),
		ProductID:   payload.ProductID,
		RequesterID: payload.RequesterID,
		Priority:    payload.Priority,
		Note:        payload.Note,
		DeviceMac:   payload.Mac,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to create replenishment request: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"request_id": resp.RequestID}))
}
