package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresUsersRepo struct {
	db *sql.DB
}

func NewPostgresUsersRepo(db *sql.DB) *PostgresUsersRepo {
	return &PostgresUsersRepo{db: db}
}

const systemActorAccount = "esl-system"

// ResolveSystemActor 解析租户的系统账号（BUTTON 补货请求的归属者）。
// 不存在则惰性创建；并发创建靠 (tenant_id, user_account) 唯一键收敛。
func (r *PostgresUsersRepo) ResolveSystemActor(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id::text
		FROM users
		WHERE tenant_id = $1 AND user_account = $2
	`, tenantID, systemActorAccount).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("failed to query system actor: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (tenant_id, user_account, nickname, role, status)
		VALUES ($1, $2, 'ESL System', 'System', 'active')
		ON CONFLICT (tenant_id, user_account)
		DO UPDATE SET status = 'active'
		RETURNING user_id::text
	`, tenantID, systemActorAccount).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create system actor: %w", err)
	}
	return id, nil
}
