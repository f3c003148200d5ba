package cloud

import (
	"encoding/json"
	"time"
)

// 厂家 API 的哨兵编码（isOnline: 0/1, bind: "0"/"1"）在本文件入口处
// 立即转换为 bool/枚举，不允许泄漏进领域逻辑。

// LoginResult 登录结果
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	StoreID   string // 账号默认门店（厂家称 merchant/agency store）
}

// CloudStore 厂家门店
type CloudStore struct {
	StoreID   string
	StoreName string
	Enabled   bool
}

// CloudGatewayInfo 厂家侧网关信息
type CloudGatewayInfo struct {
	GatewayID string
	Mac       string
	Name      string
	IsOnline  bool
}

// CloudTag 厂家侧价签信息
type CloudTag struct {
	Mac          string
	StoreID      string
	Bound        bool
	BoundGoodsID string
	TemplateID   string
	BatteryLevel int // 0-100，-1 表示厂家未上报
	IsOnline     bool
	FirmwareType string // "standard" | "sleep"（休眠省电固件，轮询前需唤醒）
	LastSeen     time.Time
}

// ButtonEvent 价签按钮事件
type ButtonEvent struct {
	RowID      string // 厂家行号，不保证稳定，仅用于留痕
	TagMac     string
	GoodsID    string // 云端商品 ID，可能为空（未绑定）
	GatewayMac string
	EventTime  time.Time
}

// ActionLog 厂家操作日志
type ActionLog struct {
	LogID      string
	ActionType string
	TagMac     string
	Detail     string
	CreateTime time.Time
}

// CloudTemplate 显示模板
type CloudTemplate struct {
	TemplateID   string
	TemplateName string
	Size         string
}

// CloudGoods 厂家侧商品（goods）记录
type CloudGoods struct {
	GoodsID   string
	Barcode   string
	Name      string
	Price     string
	StoreID   string
	UpdatedAt time.Time
}

// BindingInfo checkBinding 查询结果
type BindingInfo struct {
	TagMac     string
	Bound      bool
	GoodsID    string
	TemplateID string
}

// --- 厂家 wire 格式（仅本包内使用） ---

type wireGateway struct {
	ID       string `json:"id"`
	Mac      string `json:"mac"`
	Name     string `json:"name"`
	IsOnline int    `json:"isOnline"` // 0/1
}

func (w wireGateway) toDomain() CloudGatewayInfo {
	return CloudGatewayInfo{
		GatewayID: w.ID,
		Mac:       w.Mac,
		Name:      w.Name,
		IsOnline:  w.IsOnline == 1,
	}
}

type wireTag struct {
	Mac          string `json:"mac"`
	StoreID      string `json:"storeId"`
	Bind         string `json:"bind"` // "0"/"1"
	GoodsID      string `json:"goodsId"`
	TemplateID   string `json:"demoId"`
	Battery      *int   `json:"battery"` // null = 未上报
	IsOnline     int    `json:"isOnline"`
	FirmwareType string `json:"firmwareType"`
	LastSeen     int64  `json:"lastSeen"` // 毫秒时间戳，0 = 未知
}

func (w wireTag) toDomain() CloudTag {
	battery := -1
	if w.Battery != nil {
		battery = *w.Battery
	}
	var lastSeen time.Time
	if w.LastSeen > 0 {
		lastSeen = time.UnixMilli(w.LastSeen)
	}
	return CloudTag{
		Mac:          w.Mac,
		StoreID:      w.StoreID,
		Bound:        w.Bind == "1",
		BoundGoodsID: w.GoodsID,
		TemplateID:   w.TemplateID,
		BatteryLevel: battery,
		IsOnline:     w.IsOnline == 1,
		FirmwareType: w.FirmwareType,
		LastSeen:     lastSeen,
	}
}

type wireButtonEvent struct {
	RowID      string `json:"rowId"`
	Mac        string `json:"mac"`
	GoodsID    string `json:"goodsId"`
	GatewayMac string `json:"gatewayMac"`
	CreateTime int64  `json:"createTime"` // 毫秒时间戳
}

func (w wireButtonEvent) toDomain() ButtonEvent {
	return ButtonEvent{
		RowID:      w.RowID,
		TagMac:     w.Mac,
		GoodsID:    w.GoodsID,
		GatewayMac: w.GatewayMac,
		EventTime:  time.UnixMilli(w.CreateTime),
	}
}

type wireBinding struct {
	Mac        string `json:"mac"`
	Bind       string `json:"bind"` // "0"/"1"
	GoodsID    string `json:"goodsId"`
	TemplateID string `json:"demoId"`
}

func (w wireBinding) toDomain() BindingInfo {
	return BindingInfo{
		TagMac:     w.Mac,
		Bound:      w.Bind == "1",
		GoodsID:    w.GoodsID,
		TemplateID: w.TemplateID,
	}
}

// eslResponse 厂家 API 统一响应包
type eslResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const eslCodeOK = 200

// 厂家业务码（与 HTTP 状态码独立）
const (
	eslCodeTokenExpired = 1001
	eslCodeNotFound     = 1404
	eslCodeDuplicate    = 1409
)
