package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TokenSource 提供当前有效 token（由 TokenManager 实现）
type TokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate(ctx context.Context)
}

// Client ESL 厂家云 API 客户端。
// 所有进入本边界的 MAC 参数必须已按 identity 包归一化。
type Client struct {
	httpClient *resty.Client
	tokens     TokenSource
	logger     *zap.Logger
}

// NewClient 创建 ESL 厂家云客户端
// 每次外呼都带超时；超时按瞬时失败处理，由队列退避重试
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// UseTokenSource 注入 token 来源（Login 本身不需要 token，其余操作需要）
func (c *Client) UseTokenSource(ts TokenSource) {
	c.tokens = ts
}

// Login 厂家平台登录，返回 token 与默认门店
func (c *Client) Login(ctx context.Context, username, passwordHash string) (*LoginResult, error) {
	if username == "" || passwordHash == "" {
		return nil, &ValidationError{Field: "credentials", Msg: "username and password are required"}
	}

	var response eslResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"account":  username,
			"password": passwordHash,
		}).
		SetResult(&response).
		Post("/user/login")
	if err != nil {
		return nil, &TransientError{Op: "login", Err: err}
	}
	if !resp.IsSuccess() {
		return nil, classifyHTTP("login", resp.StatusCode(), string(resp.Body()))
	}
	if response.Code != eslCodeOK {
		// 登录的业务失败一律按认证失败处理
		return nil, &AuthError{Msg: fmt.Sprintf("%s (code: %d)", response.Message, response.Code)}
	}

	var data struct {
		Token      string `json:"token"`
		ExpiryTime int64  `json:"expiryTime"` // 毫秒时间戳
		StoreID    string `json:"storeId"`
	}
	if err := json.Unmarshal(response.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login result: %w", err)
	}
	if data.Token == "" {
		return nil, &AuthError{Msg: "login succeeded but no token returned"}
	}

	expires := time.UnixMilli(data.ExpiryTime)
	if data.ExpiryTime == 0 {
		// 厂家偶尔不回过期时间，按 2 小时处理
		expires = time.Now().Add(2 * time.Hour)
	}

	c.logger.Info("ESL cloud login succeeded",
		zap.String("store_id", data.StoreID),
		zap.Time("expires_at", expires),
	)
	return &LoginResult{Token: data.Token, ExpiresAt: expires, StoreID: data.StoreID}, nil
}

// post 统一的带 token 请求封装
// out 为 nil 时丢弃 data 字段
func (c *Client) post(ctx context.Context, op, path string, body any, out any) error {
	if c.tokens == nil {
		return &AuthError{Msg: "no token source configured"}
	}
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return err
	}

	var response eslResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", token).
		SetBody(body).
		SetResult(&response).
		Post(path)
	if err != nil {
		// resty 的 err 覆盖超时与连接失败，都按瞬时处理
		return &TransientError{Op: op, Err: err}
	}
	if !resp.IsSuccess() {
		return classifyHTTP(op, resp.StatusCode(), string(resp.Body()))
	}

	switch response.Code {
	case eslCodeOK:
		// fallthrough to data decode
	case eslCodeTokenExpired:
		c.tokens.Invalidate(ctx)
		return &AuthError{Msg: "token expired"}
	case eslCodeNotFound:
		return &NotFoundError{Resource: op, ID: response.Message}
	case eslCodeDuplicate:
		return &ConflictError{Msg: response.Message}
	default:
		return &ValidationError{Field: op, Msg: fmt.Sprintf("%s (code: %d)", response.Message, response.Code)}
	}

	if out != nil && len(response.Data) > 0 {
		if err := json.Unmarshal(response.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", op, err)
		}
	}
	return nil
}

// --- 门店 ---

// ListStores 列出账号可见的厂家门店
func (c *Client) ListStores(ctx context.Context) ([]CloudStore, error) {
	var data []struct {
		StoreID   string `json:"storeId"`
		StoreName string `json:"storeName"`
		Status    int    `json:"status"` // 0/1
	}
	if err := c.post(ctx, "listStores", "/store/list", map[string]any{}, &data); err != nil {
		return nil, err
	}
	out := make([]CloudStore, len(data))
	for i, s := range data {
		out[i] = CloudStore{StoreID: s.StoreID, StoreName: s.StoreName, Enabled: s.Status == 1}
	}
	return out, nil
}

// CreateStore 创建厂家门店
func (c *Client) CreateStore(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", &ValidationError{Field: "store_name", Msg: "required"}
	}
	var data struct {
		StoreID string `json:"storeId"`
	}
	err := c.post(ctx, "createStore", "/store/add", map[string]any{"storeName": name}, &data)
	if err != nil {
		return "", err
	}
	return data.StoreID, nil
}

// ToggleStore 启用/停用门店
func (c *Client) ToggleStore(ctx context.Context, storeID string, enabled bool) error {
	status := 0
	if enabled {
		status = 1
	}
	return c.post(ctx, "toggleStore", "/store/status", map[string]any{
		"storeId": storeID,
		"status":  status,
	}, nil)
}

// --- 网关 ---

// ListGateways 列出门店下的网关
func (c *Client) ListGateways(ctx context.Context, storeID string) ([]CloudGatewayInfo, error) {
	var data []wireGateway
	if err := c.post(ctx, "listGateways", "/gateway/list", map[string]any{"storeId": storeID}, &data); err != nil {
		return nil, err
	}
	out := make([]CloudGatewayInfo, len(data))
	for i, g := range data {
		out[i] = g.toDomain()
	}
	return out, nil
}

// AddGateway 在厂家云注册网关
func (c *Client) AddGateway(ctx context.Context, storeID, mac, name string) error {
	if mac == "" {
		return &ValidationError{Field: "mac", Msg: "required"}
	}
	return c.post(ctx, "addGateway", "/gateway/add", map[string]any{
		"storeId": storeID,
		"mac":     mac,
		"name":    name,
	}, nil)
}

// DeleteGateway 从厂家云删除网关
func (c *Client) DeleteGateway(ctx context.Context, storeID, mac string) error {
	return c.post(ctx, "deleteGateway", "/gateway/delete", map[string]any{
		"storeId": storeID,
		"mac":     mac,
	}, nil)
}

// --- 价签 ---

// TagFilters ListTags 过滤条件
type TagFilters struct {
	Bound    *bool  // nil = 不过滤
	Keyword  string // MAC 模糊搜索
	Page     int
	PageSize int
}

// ListTags 列出门店下的价签
func (c *Client) ListTags(ctx context.Context, storeID string, filters TagFilters) ([]CloudTag, int, error) {
	body := map[string]any{"storeId": storeID}
	if filters.Bound != nil {
		if *filters.Bound {
			body["bind"] = "1"
		} else {
			body["bind"] = "0"
		}
	}
	if filters.Keyword != "" {
		body["keyword"] = filters.Keyword
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	size := filters.PageSize
	if size <= 0 {
		size = 100
	}
	body["page"] = page
	body["size"] = size

	var data struct {
		Total int       `json:"total"`
		Items []wireTag `json:"items"`
	}
	if err := c.post(ctx, "listTags", "/esl/list", body, &data); err != nil {
		return nil, 0, err
	}
	out := make([]CloudTag, len(data.Items))
	for i, t := range data.Items {
		out[i] = t.toDomain()
	}
	return out, data.Total, nil
}

// GetTag 查询单个价签
func (c *Client) GetTag(ctx context.Context, mac string) (*CloudTag, error) {
	var data wireTag
	if err := c.post(ctx, "getTag", "/esl/get", map[string]any{"mac": mac}, &data); err != nil {
		return nil, err
	}
	tag := data.toDomain()
	return &tag, nil
}

// ImportTags 批量导入价签到门店
func (c *Client) ImportTags(ctx context.Context, storeID string, macs []string) error {
	if len(macs) == 0 {
		return &ValidationError{Field: "macs", Msg: "at least one mac required"}
	}
	return c.post(ctx, "importTags", "/esl/import", map[string]any{
		"storeId": storeID,
		"macs":    macs,
	}, nil)
}

// WakeupTags 唤醒休眠固件价签（拉取事件前的前置副作用）
func (c *Client) WakeupTags(ctx context.Context, storeID string, macs []string) error {
	body := map[string]any{"storeId": storeID}
	if len(macs) > 0 {
		body["macs"] = macs
	}
	return c.post(ctx, "wakeupTags", "/esl/awaken", body, nil)
}

// LocateTag 闪灯定位价签
func (c *Client) LocateTag(ctx context.Context, storeID, mac string) error {
	return c.post(ctx, "locateTag", "/esl/flash", map[string]any{
		"storeId": storeID,
		"mac":     mac,
	}, nil)
}

// DeleteTags 从门店删除价签
func (c *Client) DeleteTags(ctx context.Context, storeID string, macs []string) error {
	if len(macs) == 0 {
		return &ValidationError{Field: "macs", Msg: "at least one mac required"}
	}
	return c.post(ctx, "deleteTags", "/esl/delete", map[string]any{
		"storeId": storeID,
		"macs":    macs,
	}, nil)
}

// --- 绑定 ---

// CheckBinding 查询价签当前绑定（后台对账用，云端是绑定的事实来源）
func (c *Client) CheckBinding(ctx context.Context, storeID, mac string) (*BindingInfo, error) {
	var data wireBinding
	if err := c.post(ctx, "checkBinding", "/esl/binding", map[string]any{
		"storeId": storeID,
		"mac":     mac,
	}, &data); err != nil {
		return nil, err
	}
	info := data.toDomain()
	return &info, nil
}

// BindAutomatic 自动选模板绑定
func (c *Client) BindAutomatic(ctx context.Context, storeID, mac, goodsID string) error {
	return c.post(ctx, "bindAutomatic", "/esl/bind/auto", map[string]any{
		"storeId": storeID,
		"mac":     mac,
		"goodsId": goodsID,
	}, nil)
}

// BindManual 指定模板绑定
func (c *Client) BindManual(ctx context.Context, storeID, mac, goodsID, templateID string) error {
	return c.post(ctx, "bindManual", "/esl/bind/manual", map[string]any{
		"storeId": storeID,
		"mac":     mac,
		"goodsId": goodsID,
		"demoId":  templateID,
	}, nil)
}

// BatchBindItem 批量绑定单项
type BatchBindItem struct {
	Mac        string `json:"mac"`
	GoodsID    string `json:"goodsId"`
	TemplateID string `json:"demoId"`
}

// BatchBindFailure 批量绑定的单项失败
type BatchBindFailure struct {
	Mac    string `json:"mac"`
	Reason string `json:"reason"`
}

// BatchBind 批量绑定；厂家逐项执行，返回失败清单而非整体失败
func (c *Client) BatchBind(ctx context.Context, storeID string, items []BatchBindItem) ([]BatchBindFailure, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Msg: "at least one item required"}
	}
	var data struct {
		Failures []BatchBindFailure `json:"failures"`
	}
	if err := c.post(ctx, "batchBind", "/esl/bind/batch", map[string]any{
		"storeId": storeID,
		"items":   items,
	}, &data); err != nil {
		return nil, err
	}
	return data.Failures, nil
}

// Unbind 解绑价签
func (c *Client) Unbind(ctx context.Context, storeID, mac string) error {
	return c.post(ctx, "unbind", "/esl/unbind", map[string]any{
		"storeId": storeID,
		"mac":     mac,
	}, nil)
}

// RefreshDisplays 触发价签重新刷屏
func (c *Client) RefreshDisplays(ctx context.Context, storeID string, macs []string) error {
	return c.post(ctx, "refreshDisplays", "/esl/refresh", map[string]any{
		"storeId": storeID,
		"macs":    macs,
	}, nil)
}

// --- 事件/日志 ---

// GetButtonEvents 查询时间窗内的按钮事件（毫秒时间戳，含两端）
func (c *Client) GetButtonEvents(ctx context.Context, storeID string, start, end time.Time) ([]ButtonEvent, error) {
	var data []wireButtonEvent
	if err := c.post(ctx, "getButtonEvents", "/esl/events/button", map[string]any{
		"storeId":   storeID,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}, &data); err != nil {
		return nil, err
	}
	out := make([]ButtonEvent, len(data))
	for i, e := range data {
		out[i] = e.toDomain()
	}
	return out, nil
}

// GetActionLogs 查询厂家操作日志
func (c *Client) GetActionLogs(ctx context.Context, storeID string, start, end time.Time) ([]ActionLog, error) {
	var data []struct {
		LogID      string `json:"logId"`
		ActionType string `json:"actionType"`
		Mac        string `json:"mac"`
		Detail     string `json:"detail"`
		CreateTime int64  `json:"createTime"`
	}
	if err := c.post(ctx, "getActionLogs", "/esl/logs", map[string]any{
		"storeId":   storeID,
		"startTime": start.UnixMilli(),
		"endTime":   end.UnixMilli(),
	}, &data); err != nil {
		return nil, err
	}
	out := make([]ActionLog, len(data))
	for i, l := range data {
		out[i] = ActionLog{
			LogID:      l.LogID,
			ActionType: l.ActionType,
			TagMac:     l.Mac,
			Detail:     l.Detail,
			CreateTime: time.UnixMilli(l.CreateTime),
		}
	}
	return out, nil
}

// --- 模板 ---

// ListTemplates 列出门店可用显示模板
func (c *Client) ListTemplates(ctx context.Context, storeID string) ([]CloudTemplate, error) {
	var data []struct {
		DemoID   string `json:"demoId"`
		DemoName string `json:"demoName"`
		Size     string `json:"size"`
	}
	if err := c.post(ctx, "listTemplates", "/template/list", map[string]any{"storeId": storeID}, &data); err != nil {
		return nil, err
	}
	out := make([]CloudTemplate, len(data))
	for i, t := range data {
		out[i] = CloudTemplate{TemplateID: t.DemoID, TemplateName: t.DemoName, Size: t.Size}
	}
	return out, nil
}

// --- 商品（goods） ---

// ListGoods 分页列出门店商品
func (c *Client) ListGoods(ctx context.Context, storeID string, page, size int) ([]CloudGoods, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 100
	}
	var data struct {
		Total int `json:"total"`
		Items []struct {
			GoodsID    string `json:"goodsId"`
			Barcode    string `json:"barCode"`
			Name       string `json:"goodsName"`
			Price      string `json:"price"`
			StoreID    string `json:"storeId"`
			UpdateTime int64  `json:"updateTime"`
		} `json:"items"`
	}
	if err := c.post(ctx, "listGoods", "/goods/list", map[string]any{
		"storeId": storeID,
		"page":    page,
		"size":    size,
	}, &data); err != nil {
		return nil, 0, err
	}
	out := make([]CloudGoods, len(data.Items))
	for i, g := range data.Items {
		out[i] = CloudGoods{
			GoodsID:   g.GoodsID,
			Barcode:   g.Barcode,
			Name:      g.Name,
			Price:     g.Price,
			StoreID:   g.StoreID,
			UpdatedAt: time.UnixMilli(g.UpdateTime),
		}
	}
	return out, data.Total, nil
}

// CreateGoods 创建厂家商品，返回云端 goodsId
func (c *Client) CreateGoods(ctx context.Context, storeID, barcode, name, price string) (string, error) {
	if barcode == "" {
		return "", &ValidationError{Field: "barcode", Msg: "required"}
	}
	var data struct {
		GoodsID string `json:"goodsId"`
	}
	if err := c.post(ctx, "createGoods", "/goods/add", map[string]any{
		"storeId":   storeID,
		"barCode":   barcode,
		"goodsName": name,
		"price":     price,
	}, &data); err != nil {
		return "", err
	}
	return data.GoodsID, nil
}

// UpdateGoods 更新厂家商品（价格/名称变更会触发绑定价签刷屏）
func (c *Client) UpdateGoods(ctx context.Context, storeID, goodsID, name, price string) error {
	if goodsID == "" {
		return &ValidationError{Field: "goods_id", Msg: "required"}
	}
	return c.post(ctx, "updateGoods", "/goods/update", map[string]any{
		"storeId":   storeID,
		"goodsId":   goodsID,
		"goodsName": name,
		"price":     price,
	}, nil)
}

// DeleteGoods 删除厂家商品
func (c *Client) DeleteGoods(ctx context.Context, storeID, goodsID string) error {
	return c.post(ctx, "deleteGoods", "/goods/delete", map[string]any{
		"storeId": storeID,
		"goodsId": goodsID,
	}, nil)
}
