package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/caseload/pkg/rbac"
)

const catalogCacheEntries = 64

// Catalog reads plans and storage add-ons. Rows are cached for a short TTL;
// firm limits and permissions are never cached here.
type Catalog struct {
	db     *sql.DB
	plans  *lru.LRU[string, *Plan]
	addOns *lru.LRU[string, *StorageAddOn]
}

// NewCatalog creates a catalog whose cached rows expire after ttl
func NewCatalog(db *sql.DB, ttl time.Duration) *Catalog {
	return &Catalog{
		db:     db,
		plans:  lru.NewLRU[string, *Plan](catalogCacheEntries, nil, ttl),
		addOns: lru.NewLRU[string, *StorageAddOn](catalogCacheEntries, nil, ttl),
	}
}

// GetPlan returns a plan by id
func (c *Catalog) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	if plan, ok := c.plans.Get(planID); ok {
		return plan, nil
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, max_users, storage_per_user_gb, price_cents, active, created_at
		FROM plans WHERE id = $1
	`, planID)
	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	c.plans.Add(planID, plan)
	return plan, nil
}

// ListPlans returns every plan still offered, cheapest first
func (c *Catalog) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, max_users, storage_per_user_gb, price_cents, active, created_at
		FROM plans WHERE active ORDER BY price_cents, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*Plan{}
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

// GetAddOn returns a storage add-on by id
func (c *Catalog) GetAddOn(ctx context.Context, addOnID string) (*StorageAddOn, error) {
	if addOn, ok := c.addOns.Get(addOnID); ok {
		return addOn, nil
	}

	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, storage_gb, price_cents, active, created_at
		FROM storage_addons WHERE id = $1
	`, addOnID)
	addOn, err := scanAddOn(row)
	if err == sql.ErrNoRows {
		return nil, ErrAddOnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get add-on: %w", err)
	}

	c.addOns.Add(addOnID, addOn)
	return addOn, nil
}

// ListAddOns returns every add-on still offered
func (c *Catalog) ListAddOns(ctx context.Context) ([]*StorageAddOn, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, storage_gb, price_cents, active, created_at
		FROM storage_addons WHERE active ORDER BY storage_gb, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list add-ons: %w", err)
	}
	defer rows.Close()

	addOns := []*StorageAddOn{}
	for rows.Next() {
		addOn, err := scanAddOn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan add-on: %w", err)
		}
		addOns = append(addOns, addOn)
	}
	return addOns, rows.Err()
}

// Seed upserts the catalog rows and drops the cache
func (c *Catalog) Seed(ctx context.Context, file CatalogFile) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range file.Plans {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, name, max_users, storage_per_user_gb, price_cents, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, max_users = EXCLUDED.max_users,
			    storage_per_user_gb = EXCLUDED.storage_per_user_gb,
			    price_cents = EXCLUDED.price_cents, active = EXCLUDED.active
		`, p.ID, p.Name, p.MaxUsers, p.StoragePerUserGB, p.PriceCents, p.Active)
		if err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.ID, err)
		}
	}
	for _, a := range file.AddOns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO storage_addons (id, name, storage_gb, price_cents, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, storage_gb = EXCLUDED.storage_gb,
			    price_cents = EXCLUDED.price_cents, active = EXCLUDED.active
		`, a.ID, a.Name, a.StorageGB, a.PriceCents, a.Active)
		if err != nil {
			return fmt.Errorf("failed to seed add-on %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog: %w", err)
	}
	c.Invalidate()
	return nil
}

// Invalidate drops every cached catalog row
func (c *Catalog) Invalidate() {
	c.plans.Purge()
	c.addOns.Purge()
}

func scanPlan(scanner rbac.RowScanner) (*Plan, error) {
	var p Plan
	var maxUsers sql.NullInt64
	if err := scanner.Scan(&p.ID, &p.Name, &maxUsers, &p.StoragePerUserGB, &p.PriceCents, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		p.MaxUsers = &n
	}
	return &p, nil
}

func scanAddOn(scanner rbac.RowScanner) (*StorageAddOn, error) {
	var a StorageAddOn
	if err := scanner.Scan(&a.ID, &a.Name, &a.StorageGB, &a.PriceCents, &a.Active, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
