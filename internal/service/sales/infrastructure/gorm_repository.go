package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storepulse/internal/pkg/tenant"
	"storepulse/internal/service/sales/domain"
)

// GormSaleRepository reads sales and products from the analytics database.
type GormSaleRepository struct {
	db *gorm.DB
}

func NewGormSaleRepository(db *gorm.DB) *GormSaleRepository {
	return &GormSaleRepository{db: db}
}

func scoped(tx *gorm.DB, table string, scope tenant.Scope) *gorm.DB {
	tx = tx.Where(table+".user_id = ?", scope.UserID)
	if scope.OrganizationID != "" {
		tx = tx.Where(table+".organization_id = ?", scope.OrganizationID)
	}
	return tx
}

func (r *GormSaleRepository) FindSales(ctx context.Context, q domain.SaleQuery) ([]domain.SaleRecord, error) {
	tx := r.db.WithContext(ctx).
		Table("sales").
		Select("sales.*, products.name AS product_name, products.category_name AS category_name").
		Joins("LEFT JOIN products ON products.id = sales.product_id")
	tx = scoped(tx, "sales", q.Scope)
	if q.From != nil {
		tx = tx.Where("sales.sale_date >= ?", *q.From)
	}
	if q.To != nil {
		tx = tx.Where("sales.sale_date <= ?", *q.To)
	}
	switch q.CustomerID {
	case "":
	case domain.UnknownCustomerID:
		tx = tx.Where("(sales.order_id = '' OR sales.order_id IS NULL)")
	default:
		tx = tx.Where("sales.order_id = ?", q.CustomerID)
	}

	var rows []saleRow
	err := tx.Order("sales.sale_date DESC").Limit(q.EffectiveLimit()).Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query sales")
	}
	out := make([]domain.SaleRecord, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainSale(&rows[i]))
	}
	return out, nil
}

func (r *GormSaleRepository) FindByCategory(ctx context.Context, scope tenant.Scope, category string, excludeIDs []string, limit int) ([]domain.Product, error) {
	tx := scoped(r.db.WithContext(ctx).Model(&ProductModel{}), "products", scope).
		Where("products.category_name = ?", category)
	if len(excludeIDs) > 0 {
		tx = tx.Where("products.id NOT IN ?", excludeIDs)
	}
	var models []ProductModel
	if err := tx.Order("products.name ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "query products by category")
	}
	out := make([]domain.Product, 0, len(models))
	for i := range models {
		out = append(out, toDomainProduct(&models[i]))
	}
	return out, nil
}
