package repository

import (
	"context"
	"database/sql"

	"github.com/spider10584329/hkanban-sub001/internal/domain"

	"github.com/lib/pq"
)

type PostgresProductsRepo struct {
	db *sql.DB
}

func NewPostgresProductsRepo(db *sql.DB) *PostgresProductsRepo {
	return &PostgresProductsRepo{db: db}
}

const productColumns = `
	product_id::text,
	tenant_id::text,
	name,
	barcode,
	price,
	cloud_goods_id,
	updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	if err := row.Scan(
		&p.ProductID,
		&p.TenantID,
		&p.Name,
		&p.Barcode,
		&p.Price,
		&p.CloudGoodsID,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PostgresProductsRepo) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID)
	return scanProduct(row)
}

func (r *PostgresProductsRepo) GetByCloudGoodsID(ctx context.Context, tenantID, cloudGoodsID string) (*domain.Product, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND cloud_goods_id = $2
	`, tenantID, cloudGoodsID)
	return scanProduct(row)
}

// ListProducts productIDs 为空时返回租户全部商品
func (r *PostgresProductsRepo) ListProducts(ctx context.Context, tenantID string, productIDs []string) ([]domain.Product, error) {
	q := `
		SELECT ` + productColumns + `
		FROM products
		WHERE tenant_id = $1`
	args := []any{tenantID}
	if len(productIDs) > 0 {
		q += ` AND product_id = ANY($2)`
		args = append(args, pq.Array(productIDs))
	}
	q += ` ORDER BY name`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PostgresProductsRepo) SetCloudGoodsID(ctx context.Context, tenantID, productID, cloudGoodsID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET cloud_goods_id = $3
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID, cloudGoodsID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
