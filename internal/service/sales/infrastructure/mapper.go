package infrastructure

import (
	"storepulse/internal/service/sales/domain"
)

func toDomainSale(row *saleRow) domain.SaleRecord {
	return domain.SaleRecord{
		ID:           row.ID,
		OrderID:      row.OrderID,
		TotalAmount:  row.TotalAmount.InexactFloat64(),
		Profit:       row.Profit.InexactFloat64(),
		ProductID:    row.ProductID,
		ProductName:  row.ProductName,
		CategoryName: row.CategoryName,
		SaleDate:     row.SaleDate,
	}
}

func toDomainProduct(m *ProductModel) domain.Product {
	return domain.Product{
		ID:           m.ID,
		Name:         m.Name,
		CategoryName: m.CategoryName,
		Price:        m.Price.InexactFloat64(),
	}
}
