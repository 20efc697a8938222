package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Tenant 租户行（tenants 表）
type Tenant struct {
	ID   string
	Name string
}

// Membership 成员关系行（tenant_members 表）
type Membership struct {
	TenantID string
	UserID   string
	Email    string
	Role     string
}

// TenantsForUser 查用户所在的全部租户（加入时间升序，第一条作为默认租户）
func TenantsForUser(ctx context.Context, userEmail string) ([]Tenant, error) {
	rows, err := GetPool().Query(ctx, `
		SELECT t.id, t.name
		FROM tenants t
		JOIN tenant_members m ON m.tenant_id = t.id
		WHERE m.email = $1
		ORDER BY m.joined_at ASC`, userEmail)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, t)
	}
	return out, errors.WithStack(rows.Err())
}

// TenantByID 按 ID 查租户，查不到返回 nil
func TenantByID(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := GetPool().QueryRow(ctx,
		`SELECT id, name FROM tenants WHERE id = $1`, tenantID).Scan(&t.ID, &t.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}
	return &t, nil
}

// IsMember 用户是否属于租户
func IsMember(ctx context.Context, tenantID, userEmail string) (bool, error) {
	var n int
	err := GetPool().QueryRow(ctx, `
		SELECT COUNT(1) FROM tenant_members
		WHERE tenant_id = $1 AND email = $2`, tenantID, userEmail).Scan(&n)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return n > 0, nil
}

// MembersOfTenant 租户全部成员邮箱（fan-out 未读计数用）
func MembersOfTenant(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := GetPool().Query(ctx,
		`SELECT email FROM tenant_members WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, e)
	}
	return out, errors.WithStack(rows.Err())
}
