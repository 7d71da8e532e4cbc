package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/itemloc_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TenantGuardPlugin scopes queries, updates and deletes on item sites, distribution
// and lot/serial tables to the business_id carried by the context.
//
// NOTE: Raw SQL is not scoped. Callers must filter business_id themselves.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Query().Before("gorm:query").Register("tenant_guard:query", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Row().Before("gorm:row").Register("tenant_guard:row", tenantGuardCallback); err != nil {
		return err
	}
	if err := db.Callback().Update().Before("gorm:update").Register("tenant_guard:update", tenantGuardCallback); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").Register("tenant_guard:delete", tenantGuardCallback)
}

func tenantGuardCallback(db *gorm.DB) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return
	}
	ctx := db.Statement.Context
	if skip, ok := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); ok && skip {
		return
	}
	businessID := businessIdFromContext(ctx)
	if businessID == "" {
		return
	}
	if db.Statement.Schema.LookUpField("business_id") == nil {
		return
	}
	if whereHasBusinessID(db.Statement.Clauses["WHERE"]) {
		return
	}
	db.Statement.AddClause(clause.Where{
		Exprs: []clause.Expression{
			clause.Eq{
				Column: clause.Column{Table: db.Statement.Table, Name: "business_id"},
				Value:  businessID,
			},
		},
	})
}

func businessIdFromContext(ctx context.Context) string {
	v, _ := appctx.GetString(ctx, appctx.ContextKeyBusinessId)
	return v
}

func whereHasBusinessID(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		switch v := e.(type) {
		case clause.Eq:
			if col, ok := v.Column.(clause.Column); ok && strings.EqualFold(col.Name, "business_id") {
				return true
			}
			if col, ok := v.Column.(string); ok && strings.EqualFold(col, "business_id") {
				return true
			}
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), "business_id") {
				return true
			}
		}
	}
	return false
}
