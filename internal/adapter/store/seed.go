package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"salesagent/internal/domain"
)

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var seedCatalog = []domain.Product{
	{ID: "prod-001", Name: "Gala Apples", Category: "Fruits", Description: "Crisp and sweet red apples, sold per pound", Price: price("2.00"), Stock: 10},
	{ID: "prod-002", Name: "Fuji Apples", Category: "Fruits", Description: "Extra sweet and juicy, sold per pound", Price: price("2.50"), Stock: 25},
	{ID: "prod-003", Name: "Bananas", Category: "Fruits", Description: "Fresh yellow bananas, sold per bunch", Price: price("1.20"), Stock: 40},
	{ID: "prod-004", Name: "Navel Oranges", Category: "Fruits", Description: "Seedless and easy to peel, sold per pound", Price: price("1.80"), Stock: 30},
	{ID: "prod-005", Name: "Strawberries", Category: "Fruits", Description: "Sweet ripe strawberries, 1 lb box", Price: price("4.50"), Stock: 18},
	{ID: "prod-006", Name: "Baby Spinach", Category: "Vegetables", Description: "Pre-washed baby spinach, 10 oz bag", Price: price("3.00"), Stock: 22},
	{ID: "prod-007", Name: "Roma Tomatoes", Category: "Vegetables", Description: "Firm cooking tomatoes, sold per pound", Price: price("1.60"), Stock: 35},
	{ID: "prod-008", Name: "Carrots", Category: "Vegetables", Description: "Whole carrots, 2 lb bag", Price: price("2.20"), Stock: 28},
	{ID: "prod-009", Name: "Whole Milk", Category: "Dairy", Description: "Grade A whole milk, 1 gallon", Price: price("3.80"), Stock: 15},
	{ID: "prod-010", Name: "Cheddar Cheese", Category: "Dairy", Description: "Sharp cheddar block, 8 oz", Price: price("4.25"), Stock: 12},
	{ID: "prod-011", Name: "Greek Yogurt", Category: "Dairy", Description: "Plain nonfat Greek yogurt, 32 oz tub", Price: price("5.50"), Stock: 14},
	{ID: "prod-012", Name: "Sourdough Bread", Category: "Bakery", Description: "Freshly baked sourdough loaf", Price: price("4.00"), Stock: 8},
	{ID: "prod-013", Name: "Croissants", Category: "Bakery", Description: "Butter croissants, pack of 4", Price: price("5.00"), Stock: 10},
}

// Seed populates the product catalog when it is empty. Calling Seed against
// a non-empty catalog is a no-op, so startup can call it unconditionally.
func (s *SQLiteStore) Seed(ctx context.Context) error {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products").Scan(&count); err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, p := range seedCatalog {
		if err := s.AddProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
