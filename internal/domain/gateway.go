package domain

import (
	"time"
)

// Gateway 网关领域模型（对应 gateways 表）
// mac_address 存大写无分隔符规范形式；(tenant_id, mac_address) 唯一
type Gateway struct {
	GatewayID  string    `db:"gateway_id"`
	TenantID   string    `db:"tenant_id"`   // NOT NULL
	Name       string    `db:"name"`        // NOT NULL
	MacAddress string    `db:"mac_address"` // NOT NULL, 大写规范形式
	CreatedAt  time.Time `db:"created_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (g *Gateway) ToJSON() map[string]any {
	return map[string]any{
		"gateway_id":  g.GatewayID,
		"tenant_id":   g.TenantID,
		"name":        g.Name,
		"mac_address": g.MacAddress,
		"created_at":  g.CreatedAt,
	}
}
