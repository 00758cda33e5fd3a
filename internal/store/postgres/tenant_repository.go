package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	platformv1alpha1 "github.com/shieldx-bot/tenant-platform/api/v1alpha1"
	"github.com/shieldx-bot/tenant-platform/internal/store"
)

const (
	uniqueViolation        = "23505"
	namespaceUniqueKeyName = "tenants_namespace_key"
	primaryKeyName         = "tenants_pkey"

	tenantColumns = `id, name, namespace, email, status, tier, quota, settings, created_by, created_at, updated_at`
)

// TenantRepository implements store.Store on PostgreSQL.
type TenantRepository struct {
	db    *DB
	Clock clock.Clock
}

var _ store.Store = &TenantRepository{}

func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db, Clock: clock.New()}
}

func (r *TenantRepository) Create(ctx context.Context, tenant *platformv1alpha1.Tenant) error {
	quota, err := json.Marshal(tenant.Quota)
	if err != nil {
		return errors.Wrap(err, "encode quota")
	}
	settings, err := json.Marshal(orEmpty(tenant.Settings))
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}

	now := r.Clock.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		tenant.ID, tenant.Name, tenant.Namespace, tenant.Email,
		string(tenant.Status), string(tenant.Tier), string(quota), string(settings),
		tenant.CreatedBy, tenant.CreatedAt, tenant.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case primaryKeyName:
				return store.ErrDuplicateID
			case namespaceUniqueKeyName:
				return store.ErrNamespaceTaken
			}
		}
		return errors.Wrapf(err, "insert tenant %s", tenant.ID)
	}
	return nil
}

func (r *TenantRepository) FindByID(ctx context.Context, id string) (*platformv1alpha1.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func (r *TenantRepository) FindByNamespace(ctx context.Context, namespace string) (*platformv1alpha1.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE namespace = $1`, namespace)
	return scanTenant(row)
}

func (r *TenantRepository) List(ctx context.Context, filter store.Filter) ([]*platformv1alpha1.Tenant, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	if filter.Tier != "" {
		args = append(args, string(filter.Tier))
		where = append(where, "tier = $"+strconv.Itoa(len(args)))
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list tenants")
	}
	defer rows.Close()

	var out []*platformv1alpha1.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate tenants")
}

func (r *TenantRepository) UpdateStatus(ctx context.Context, id string, from, to platformv1alpha1.Status) (*platformv1alpha1.Tenant, error) {
	row := r.db.pool.QueryRow(ctx, `
		UPDATE tenants SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
		RETURNING `+tenantColumns,
		id, string(from), string(to), r.Clock.Now().UTC(),
	)
	t, err := scanTenant(row)
	if !errors.Is(err, store.ErrNotFound) {
		return t, err
	}

	// Nothing matched: either the tenant is gone or its status moved on.
	var exists bool
	if err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, errors.Wrapf(err, "check tenant %s", id)
	}
	if exists {
		return nil, store.ErrStatusConflict
	}
	return nil, store.ErrNotFound
}

func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "delete tenant %s", id)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (*platformv1alpha1.Tenant, error) {
	var (
		t                    platformv1alpha1.Tenant
		status, tier         string
		quota, settings      []byte
		createdAt, updatedAt time.Time
	)
	err := row.Scan(&t.ID, &t.Name, &t.Namespace, &t.Email, &status, &tier,
		&quota, &settings, &t.CreatedBy, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan tenant")
	}

	t.Status = platformv1alpha1.Status(status)
	t.Tier = platformv1alpha1.Tier(tier)
	t.CreatedAt = createdAt.UTC()
	t.UpdatedAt = updatedAt.UTC()

	if err := json.Unmarshal(quota, &t.Quota); err != nil {
		return nil, errors.Wrapf(err, "decode quota of tenant %s", t.ID)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, errors.Wrapf(err, "decode settings of tenant %s", t.ID)
		}
	}
	return &t, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
