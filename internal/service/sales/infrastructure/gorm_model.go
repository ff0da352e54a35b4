package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// SaleModel maps the sales table written by the ledger ingestion job.
type SaleModel struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)"`
	UserID         string          `gorm:"type:varchar(64);index:idx_sales_scope_date,priority:1"`
	OrganizationID string          `gorm:"type:varchar(64);index:idx_sales_scope_date,priority:2"`
	OrderID        string          `gorm:"type:varchar(128);index"`
	ProductID      string          `gorm:"type:varchar(64)"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Profit         decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	SaleDate       time.Time       `gorm:"index:idx_sales_scope_date,priority:3"`
	CreatedAt      time.Time
}

func (SaleModel) TableName() string {
	return "sales"
}

type ProductModel struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)"`
	UserID         string          `gorm:"type:varchar(64);index:idx_products_scope_category,priority:1"`
	OrganizationID string          `gorm:"type:varchar(64);index:idx_products_scope_category,priority:2"`
	Name           string          `gorm:"type:varchar(255)"`
	CategoryName   string          `gorm:"type:varchar(128);index:idx_products_scope_category,priority:3"`
	Price          decimal.Decimal `gorm:"type:decimal(14,2)"`
	CreatedAt      time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// saleRow is a sale joined with its product.
type saleRow struct {
	SaleModel
	ProductName  string
	CategoryName string
}

// Models lists the tables owned by this context, for migrations.
func Models() []any {
	return []any{&SaleModel{}, &ProductModel{}}
}
