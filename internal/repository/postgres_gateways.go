package repository

import (
	"context"
	"database/sql"

	"github.com/spider10584329/hkanban-sub001/internal/domain"
)

type PostgresGatewaysRepo struct {
	db *sql.DB
}

func NewPostgresGatewaysRepo(db *sql.DB) *PostgresGatewaysRepo {
	return &PostgresGatewaysRepo{db: db}
}

func (r *PostgresGatewaysRepo) CreateGateway(ctx context.Context, g *domain.Gateway) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO gateways (tenant_id, name, mac_address)
		VALUES ($1, $2, $3)
		RETURNING gateway_id::text
	`, g.TenantID, g.Name, g.MacAddress).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *PostgresGatewaysRepo) GetGateway(ctx context.Context, tenantID, gatewayID string) (*domain.Gateway, error) {
	return r.scanOne(ctx, `
		SELECT gateway_id::text, tenant_id::text, name, mac_address, created_at
		FROM gateways
		WHERE tenant_id = $1 AND gateway_id = $2
	`, tenantID, gatewayID)
}

func (r *PostgresGatewaysRepo) GetGatewayByMac(ctx context.Context, tenantID, mac string) (*domain.Gateway, error) {
	return r.scanOne(ctx, `
		SELECT gateway_id::text, tenant_id::text, name, mac_address, created_at
		FROM gateways
		WHERE tenant_id = $1 AND mac_address = $2
	`, tenantID, mac)
}

func (r *PostgresGatewaysRepo) scanOne(ctx context.Context, q string, args ...any) (*domain.Gateway, error) {
	var g domain.Gateway
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(
		&g.GatewayID,
		&g.TenantID,
		&g.Name,
		&g.MacAddress,
		&g.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *PostgresGatewaysRepo) ListGateways(ctx context.Context, tenantID string) ([]domain.Gateway, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT gateway_id::text, tenant_id::text, name, mac_address, created_at
		FROM gateways
		WHERE tenant_id = $1
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Gateway{}
	for rows.Next() {
		var g domain.Gateway
		if err := rows.Scan(&g.GatewayID, &g.TenantID, &g.Name, &g.MacAddress, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *PostgresGatewaysRepo) DeleteGateway(ctx context.Context, tenantID, gatewayID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM gateways
		WHERE tenant_id = $1 AND gateway_id = $2
	`, tenantID, gatewayID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
