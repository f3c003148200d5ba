package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spider10584329/hkanban-sub001/internal/service"

	"go.uber.org/zap"
)

// SyncHandler 同步引擎入口：商品外发、按钮事件对账、队列管理
type SyncHandler struct {
	queue       service.SyncQueueService
	reconciler  service.EventReconciler
	productSync service.ProductSyncService
	logger      *zap.Logger
}

// NewSyncHandler 创建 SyncHandler
func NewSyncHandler(
	queue service.SyncQueueService,
	reconciler service.EventReconciler,
	productSync service.ProductSyncService,
	logger *zap.Logger,
) *SyncHandler {
	return &SyncHandler{
		queue:       queue,
		reconciler:  reconciler,
		productSync: productSync,
		logger:      logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *SyncHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/esl/api/v1/sync/products" && r.Method == http.MethodPost:
		h.SyncProducts(w, r)
	case r.URL.Path == "/esl/api/v1/sync/button-events" && r.Method == http.MethodPost:
		h.ReconcileButtonEvents(w, r)
	case r.URL.Path == "/esl/api/v1/sync/queue" && r.Method == http.MethodGet:
		h.QueueStatus(w, r)
	case r.URL.Path == "/esl/api/v1/sync/queue/dispatch" && r.Method == http.MethodPost:
		h.DispatchQueue(w, r)
	case r.URL.Path == "/esl/api/v1/sync/queue/retry" && r.Method == http.MethodPost:
		h.RetryFailed(w, r)
	case r.URL.Path == "/esl/api/v1/sync/queue/purge" && r.Method == http.MethodPost:
		h.PurgeQueue(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// SyncProducts 把商品变更排入外发队列
func (h *SyncHandler) SyncProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		ProductIDs []string `json:"product_ids"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.productSync.SyncProducts(ctx, service.SyncProductsRequest{
		TenantID:   tenantID(r),
		ProductIDs: payload.ProductIDs,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to sync products: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"enqueued": resp.Enqueued,
		"errors":   resp.Errors,
	}))
}

// ReconcileButtonEvents 拉取厂家按钮事件并转换为补货请求
func (h *SyncHandler) ReconcileButtonEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		Start string `json:"start"` // RFC3339，可空
		End   string `json:"end"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	req := service.ReconcileRequest{TenantID: tenantID(r)}
	if payload.Start != "" {
		start, err := time.Parse(time.RFC3339, payload.Start)
		if err != nil {
			writeJSON(w, http.StatusOK, Fail("invalid start time"))
			return
		}
		req.Start = start
	}
	if payload.End != "" {
		end, err := time.Parse(time.RFC3339, payload.End)
		if err != nil {
			writeJSON(w, http.StatusOK, Fail("invalid end time"))
			return
		}
		req.End = end
	}

	resp, err := h.reconciler.ReconcileButtonEvents(ctx, req)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to reconcile button events: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"fetched":   resp.Fetched,
		"processed": resp.Processed,
		"skipped":   resp.Skipped,
		"errors":    resp.Errors,
	}))
}

// QueueStatus 队列状态查询
func (h *SyncHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.queue.GetStatus(ctx, service.QueueStatusRequest{
		TenantID: tenantID(r),
		Status:   r.URL.Query().Get("status"),
		Page:     parseInt(r.URL.Query().Get("page"), 1),
		Size:     parseInt(r.URL.Query().Get("size"), 100),
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to get queue status: %v", err)))
		return
	}

	items := make([]any, 0, len(resp.Items))
	for _, it := range resp.Items {
		items = append(items, it.ToJSON())
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"counts": resp.Counts,
		"items":  items,
		"total":  resp.Total,
	}))
}

// DispatchQueue 触发一轮队列派发
func (h *SyncHandler) DispatchQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		MaxItems int `json:"max_items"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.queue.Dispatch(ctx, service.DispatchRequest{
		TenantID: tenantID(r),
		MaxItems: payload.MaxItems,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to dispatch queue: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"processed": resp.Processed,
		"succeeded": resp.Succeeded,
		"retried":   resp.Retried,
		"failed":    resp.Failed,
	}))
}

// RetryFailed 人工把 failed 项拉回待派发
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload struct {
		ItemIDs []string `json:"item_ids"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}

	resp, err := h.queue.RetryFailed(ctx, service.RetryFailedRequest{
		TenantID: tenantID(r),
		ItemIDs:  payload.ItemIDs,
	})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to retry queue items: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"reset": resp.Reset}))
}

// PurgeQueue 清理超过保留期的终态队列项
func (h *SyncHandler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	resp, err := h.queue.PurgeTerminal(ctx, service.PurgeRequest{TenantID: tenantID(r)})
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to purge queue: %v", err)))
		return
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{"purged": resp.Purged}))
}
