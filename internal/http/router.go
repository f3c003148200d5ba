package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 pprof 等）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterSyncRoutes 同步引擎路由
func (r *Router) RegisterSyncRoutes(h *SyncHandler) {
	r.HandleHandler("/esl/api/v1/sync/products", h)
	r.HandleHandler("/esl/api/v1/sync/button-events", h)
	r.HandleHandler("/esl/api/v1/sync/queue", h)
	r.HandleHandler("/esl/api/v1/sync/queue/dispatch", h)
	r.HandleHandler("/esl/api/v1/sync/queue/retry", h)
	r.HandleHandler("/esl/api/v1/sync/queue/purge", h)
}

// RegisterGatewayRoutes 网关管理路由
func (r *Router) RegisterGatewayRoutes(h *GatewayHandler) {
	r.HandleHandler("/esl/api/v1/gateways", h)
	r.HandleHandler("/esl/api/v1/gateways/", h)
}

// RegisterBindingRoutes 绑定编排路由
func (r *Router) RegisterBindingRoutes(h *BindingHandler) {
	r.HandleHandler("/esl/api/v1/bindings/", h)
}

// RegisterDeviceRoutes 价签影子路由
func (r *Router) RegisterDeviceRoutes(h *DeviceHandler) {
	r.HandleHandler("/esl/api/v1/devices", h)
	r.HandleHandler("/esl/api/v1/devices/", h)
}

// RegisterReplenishmentRoutes 补货请求路由
func (r *Router) RegisterReplenishmentRoutes(h *ReplenishmentHandler) {
	r.HandleHandler("/esl/api/v1/replenishments", h)
}

// RegisterTagStoreRoutes 价签库存导入导出路由
func (r *Router) RegisterTagStoreRoutes(h *TagStoreHandler) {
	r.HandleHandler("/esl/api/v1/tags/", h)
}

// RegisterHealthRoutes 探活
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
