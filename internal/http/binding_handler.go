package httpapi

import (
	"fmt"
	"net/http"

	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// BindingHandler 价签-商品绑定
type BindingHandler struct {
	bindings service.BindingService
	logger   *zap.Logger
}

// NewBindingHandler 创建 BindingHandler
func NewBindingHandler(bindings service.BindingService, logger *zap.Logger) *BindingHandler {
	return &BindingHandler{bindings: bindings, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *BindingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	// 路由分发
	switch r.URL.Path {
	case "/esl/api/v1/bindings/bind":
		h.Bind(w, r)
	case "/esl/api/v1/bindings/unbind":
		h.Unbind(w, r)
	case "/esl/api/v1/bindings/batch":
		h.BatchBind(w, r)
	case "/esl/api/v1/bindings/reconcile":
		h.Reconcile(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// Bind 绑定单个价签
func (h *BindingHandler) Bind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Mac        string `json:"mac"`
		ProductID  string `json:"product_id"`
		TemplateID string `json:"template_id"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.bindings.Bind(ctx, service.BindRequest{
		TenantID:   tenantID(r),
		DeviceMac:  payload.Mac,
		ProductID:  payload.ProductID,
		TemplateID: payload.TemplateID,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to bind tag: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"device_id":      resp.DeviceID,
		"cloud_goods_id": resp.CloudGoodsID,
	}))
}

// Unbind 解绑单个价签
func (h *BindingHandler) Unbind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Mac string `json:"mac"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.bindings.Unbind(ctx, service.UnbindRequest{
		TenantID:  tenantID(r),
		DeviceMac: payload.Mac,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to unbind tag: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": resp.DeviceID}))
}

// BatchBind 批量绑定；部分失败逐项列出
func (h *BindingHandler) BatchBind(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Items []struct {
			Mac        string `json:"mac"`
			ProductID  string `json:"product_id"`
			TemplateID string `json:"template_id"`
		} `json:"items"`
		Refresh bool `json:"refresh"`
	}
	if err := readBodyJSON(r, 4<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	items := make([]service.BatchBindItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		items = append(items, service.BatchBindItem{
			DeviceMac:  it.Mac,
			ProductID:  it.ProductID,
			TemplateID: it.TemplateID,
		})
	}

	resp, err := h.bindings.BatchBind(ctx, service.BatchBindRequest{
		TenantID: tenantID(r),
		Items:    items,
		Refresh:  payload.Refresh,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to batch bind: %v", err)))
		return
	}

	failures := make([]any, 0, len(resp.Failures))
	for _, f := range resp.Failures {
		failures = append(failures, map[string]any{"mac": f.DeviceMac, "reason": f.Reason})
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"bound":    resp.Bound,
		"failures": failures,
	}))
}

// Reconcile 以云端为准修正本地绑定影子
func (h *BindingHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.bindings.ReconcileBindings(ctx, service.ReconcileBindingsRequest{TenantID: tenantID(r)})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to reconcile bindings: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"checked":   resp.Checked,
		"corrected": resp.Corrected,
		"errors":    resp.Errors,
	}))
}
