package domain

import (
	"database/sql"
	"time"
)

// Product 商品领域模型（对应 products 表）
// cloud_goods_id 为厂家云端的 goods 标识，首次同步成功后回填
type Product struct {
	ProductID    string         `db:"product_id"`
	TenantID     string         `db:"tenant_id"` // NOT NULL
	Name         string         `db:"name"`      // NOT NULL
	Barcode      string         `db:"barcode"`
	Price        string         `db:"price"` // 价格按字符串透传厂家（小数位由模板控制）
	CloudGoodsID sql.NullString `db:"cloud_goods_id"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// ToJSON 转换为JSON格式（用于HTTP响应）
func (p *Product) ToJSON() map[string]any {
	m := map[string]any{
		"product_id": p.ProductID,
		"tenant_id":  p.TenantID,
		"name":       p.Name,
		"barcode":    p.Barcode,
		"price":      p.Price,
		"updated_at": p.UpdatedAt,
	}
	if p.CloudGoodsID.Valid {
		m["cloud_goods_id"] = p.CloudGoodsID.String
	} else {
		m["cloud_goods_id"] = nil
	}
	return m
}
