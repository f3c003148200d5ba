package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// GatewayHandler 网关管理
type GatewayHandler struct {
	gateways service.GatewayService
	logger   *zap.Logger
}

// NewGatewayHandler 创建 GatewayHandler
func NewGatewayHandler(gateways service.GatewayService, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{gateways: gateways, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *GatewayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/esl/api/v1/gateways" && r.Method == http.MethodGet:
		h.ListGateways(w, r)
	case r.URL.Path == "/esl/api/v1/gateways" && r.Method == http.MethodPost:
		h.RegisterGateway(w, r)
	case r.URL.Path == "/esl/api/v1/gateways/status-sync" && r.Method == http.MethodPost:
		h.SyncStatus(w, r)
	case strings.HasPrefix(r.URL.Path, "/esl/api/v1/gateways/") && r.Method == http.MethodDelete:
		id := strings.TrimPrefix(r.URL.Path, "/esl/api/v1/gateways/")
		if id == "" || strings.Contains(id, "/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.DeleteGateway(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListGateways 网关列表
func (h *GatewayHandler) ListGateways(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gateways, err := h.gateways.ListGateways(ctx, tenantID(r))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list gateways: %v", err)))
		return
	}

	out := make([]any, 0, len(gateways))
	for i := range gateways {
		out = append(out, gateways[i].ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": out,
		"total": len(out),
	}))
}

// RegisterGateway 注册网关（云端先行）
func (h *GatewayHandler) RegisterGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Mac  string `json:"mac"`
		Name string `json:"name"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.gateways.RegisterGateway(ctx, service.RegisterGatewayRequest{
		TenantID: tenantID(r),
		Mac:      payload.Mac,
		Name:     payload.Name,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to register gateway: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"gateway_id": resp.GatewayID,
		"mac":        resp.Mac,
	}))
}

// DeleteGateway 删除网关；?force=true 时忽略云端失败
func (h *GatewayHandler) DeleteGateway(w http.ResponseWriter, r *http.Request, gatewayID string) {
	ctx := r.Context()

	err := h.gateways.DeleteGateway(ctx, service.DeleteGatewayRequest{
		TenantID:  tenantID(r),
		GatewayID: gatewayID,
		Force:     r.URL.Query().Get("force") == "true",
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to delete gateway: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"success": true}))
}

// SyncStatus 用云端清单刷新网关在线状态
func (h *GatewayHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		SuffixLen int `json:"suffix_len"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.gateways.SyncGatewayStatus(ctx, service.SyncGatewayStatusRequest{
		TenantID:  tenantID(r),
		SuffixLen: payload.SuffixLen,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to sync gateway status: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"matched":   resp.Matched,
		"unmatched": resp.Unmatched,
		"online":    resp.Online,
	}))
}
