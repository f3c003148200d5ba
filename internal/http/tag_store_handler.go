package httpapi

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
	"github.com/spider10584329/hkanban-sub001/internal/repository"

	"go.uber.org/zap"
)

// tagCloud 价签库存导入需要的厂家云操作子集
type tagCloud interface {
	ImportTags(ctx context.Context, storeID string, macs []string) error
}

type tagStoreResolver interface {
	GetDefaultStoreID(ctx context.Context) (string, error)
}

// TagStoreHandler 价签库存 Excel 导入/导出
// 业务逻辑简单，不经 Service 层，直接使用 Repository 和厂家云
type TagStoreHandler struct {
	deviceRepo repository.DeviceStatusRepo
	cloud      tagCloud
	stores     tagStoreResolver
	logger     *zap.Logger
}

// NewTagStoreHandler 创建 TagStoreHandler
func NewTagStoreHandler(
	deviceRepo repository.DeviceStatusRepo,
	cloudClient tagCloud,
	stores tagStoreResolver,
	logger *zap.Logger,
) *TagStoreHandler {
	return &TagStoreHandler{
		deviceRepo: deviceRepo,
		cloud:      cloudClient,
		stores:     stores,
		logger:     logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *TagStoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/esl/api/v1/tags/import-template" && r.Method == http.MethodGet:
		h.GetImportTemplate(w, r)
	case r.URL.Path == "/esl/api/v1/tags/import" && r.Method == http.MethodPost:
		h.ImportTags(w, r)
	case r.URL.Path == "/esl/api/v1/tags/export" && r.Method == http.MethodGet:
		h.ExportTags(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetImportTemplate 下载导入模板
func (h *TagStoreHandler) GetImportTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := GenerateTagImportTemplate()
	if err != nil {
		h.logger.Error("GenerateTagImportTemplate failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to generate import template"))
		return
	}
	writeExcel(w, "esl-tag-import-template.xlsx", data)
}

// ImportTags 解析上传文件，把价签登记到厂家云并建本地影子。
// 逐行处理，非法行不阻断其它行。
func (h *TagStoreHandler) ImportTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid multipart form"))
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("file field is required"))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(io.LimitReader(file, 8<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("failed to read file"))
		return
	}

	rows, rowErrs, err := ParseTagImportWorkbook(raw)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to parse workbook: %v", err)))
		return
	}
	if len(rows) == 0 {
		writeJSON(w, http.StatusOK, Fail("no valid rows in workbook"))
		return
	}

	storeID, err := h.stores.GetDefaultStoreID(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, Fail("failed to resolve store"))
		return
	}

	// 1. 先在厂家云登记
	macs := make([]string, len(rows))
	for i, row := range rows {
		macs[i] = row.Mac
	}
	if err := h.cloud.ImportTags(ctx, storeID, macs); err != nil {
		h.logger.Error("Cloud tag import failed", zap.Int("count", len(macs)), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to import tags: %v", err)))
		return
	}

	// 2. 云端成功后建本地影子并写入人工元数据
	tenant := tenantID(r)
	imported := 0
	for _, row := range rows {
		if err := h.deviceRepo.UpsertFromSync(ctx, newTagShadow(tenant, row.Mac, storeID)); err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("tag %s: %v", row.Mac, err))
			continue
		}
		meta := map[string]any{}
		if row.Name != "" {
			meta["name"] = row.Name
		}
		if row.Location != "" {
			meta["location"] = row.Location
		}
		if len(meta) > 0 {
			if err := h.deviceRepo.UpdateMetadata(ctx, tenant, row.Mac, meta); err != nil {
				rowErrs = append(rowErrs, fmt.Sprintf("tag %s: %v", row.Mac, err))
				continue
			}
		}
		imported++
	}

	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"imported": imported,
		"errors":   rowErrs,
	}))
}

// ExportTags 导出当前价签影子库存
func (h *TagStoreHandler) ExportTags(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := h.deviceRepo.ListByTenant(ctx, tenantID(r))
	if err != nil {
		h.logger.Error("ListByTenant failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to list devices"))
		return
	}

	items := make([]map[string]any, 0, len(devices))
	for i := range devices {
		items = append(items, devices[i].ToJSON())
	}
	data, err := GenerateTagExport(items)
	if err != nil {
		h.logger.Error("GenerateTagExport failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail("failed to generate export"))
		return
	}
	writeExcel(w, "esl-tag-inventory.xlsx", data)
}

func newTagShadow(tenant, mac, storeID string) *domain.DeviceStatus {
	return &domain.DeviceStatus{
		TenantID:     tenant,
		DeviceID:     mac,
		DeviceType:   "tag",
		CloudStoreID: sql.NullString{String: storeID, Valid: true},
	}
}

func writeExcel(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
