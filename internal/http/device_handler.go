package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// DeviceHandler 价签影子查询与人工元数据维护
type DeviceHandler struct {
	devices     service.DeviceService
	productSync service.ProductSyncService
	logger      *zap.Logger
}

// NewDeviceHandler 创建 DeviceHandler
func NewDeviceHandler(devices service.DeviceService, productSync service.ProductSyncService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, productSync: productSync, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *DeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/esl/api/v1/devices" && r.Method == http.MethodGet:
		h.ListDevices(w, r)
	case r.URL.Path == "/esl/api/v1/devices/refresh" && r.Method == http.MethodPost:
		h.RefreshShadows(w, r)
	case strings.HasPrefix(r.URL.Path, "/esl/api/v1/devices/"):
		rest := strings.TrimPrefix(r.URL.Path, "/esl/api/v1/devices/")
		switch {
		case r.Method == http.MethodGet && !strings.Contains(rest, "/"):
			h.GetDevice(w, r, rest)
		case r.Method == http.MethodPut && strings.HasSuffix(rest, "/metadata"):
			h.UpdateMetadata(w, r, strings.TrimSuffix(rest, "/metadata"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// ListDevices 价签影子列表
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := h.devices.ListDevices(ctx, tenantID(r))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to list devices: %v", err)))
		return
	}

	out := make([]any, 0, len(devices))
	for i := range devices {
		out = append(out, devices[i].ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": out,
		"total": len(out),
	}))
}

// GetDevice 单台价签影子
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request, mac string) {
	ctx := r.Context()

	d, err := h.devices.GetDevice(ctx, tenantID(r), mac)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to get device: %v", err)))
		return
	}
	writeJSON(w, http.StatusOK, Ok(d.ToJSON()))
}

// UpdateMetadata 人工元数据（名称/位置）更新；同步字段不可改
func (h *DeviceHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request, mac string) {
	ctx := r.Context()

	var payload struct {
		Name     *string `json:"name"`
		Location *string `json:"location"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	err := h.devices.UpdateMetadata(ctx, service.UpdateMetadataRequest{
		TenantID:  tenantID(r),
		DeviceMac: mac,
		Name:      payload.Name,
		Location:  payload.Location,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to update device metadata: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"success": true}))
}

// RefreshShadows 按云端价签清单回刷影子
func (h *DeviceHandler) RefreshShadows(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.productSync.RefreshDeviceShadows(ctx, service.RefreshShadowsRequest{TenantID: tenantID(r)})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to refresh device shadows: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"fetched": resp.Fetched,
		"updated": resp.Updated,
		"errors":  resp.Errors,
	}))
}
