package tool

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"

	"salesagent/internal/domain"
	"salesagent/internal/infra/tracer"
)

// SearchProductsTool looks up catalog entries by name, category and price
// range. Read-only.
type SearchProductsTool struct {
	store  domain.ProductStore
	logger *slog.Logger
}

// NewSearchProductsTool creates the catalog search tool.
func NewSearchProductsTool(store domain.ProductStore, logger *slog.Logger) *SearchProductsTool {
	return &SearchProductsTool{store: store, logger: logger}
}

func (t *SearchProductsTool) Name() string { return "search_products" }

func (t *SearchProductsTool) Description() string {
	return "Search the product catalog by name, category, and price range. Returns in-stock products only."
}

func (t *SearchProductsTool) Capability() domain.Capability { return domain.CapabilitySafe }

func (t *SearchProductsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "Text to match against product names and descriptions"},
				"category": {"type": "string", "description": "Exact category name"},
				"min_price": {"type": "number", "minimum": 0},
				"max_price": {"type": "number", "minimum": 0}
			}
		}`),
	}
}

type searchProductsParams struct {
	Query    string   `json:"query"`
	Category string   `json:"category"`
	MinPrice *float64 `json:"min_price"`
	MaxPrice *float64 `json:"max_price"`
}

func (t *SearchProductsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_products", t.logger, params,
		func(ctx context.Context, span trace.Span, p searchProductsParams) (any, error) {
			search := domain.ProductSearch{Query: p.Query, Category: p.Category}
			if p.MinPrice != nil {
				min := decimal.NewFromFloat(*p.MinPrice)
				search.MinPrice = &min
			}
			if p.MaxPrice != nil {
				max := decimal.NewFromFloat(*p.MaxPrice)
				search.MaxPrice = &max
			}

			products, err := t.store.SearchProducts(ctx, search)
			if err != nil {
				return nil, err
			}
			span.SetAttributes(tracer.IntAttr("products.found", len(products)))
			if len(products) == 0 {
				return TextResult("No products matched the search."), nil
			}
			return searchProductsResult{
				Products: products,
				Metadata: summarize(products),
			}, nil
		})
}

type searchProductsResult struct {
	Products []domain.Product `json:"products"`
	Metadata searchMetadata   `json:"metadata"`
}

type searchMetadata struct {
	Total      int            `json:"total_results"`
	Categories map[string]int `json:"categories"`
	PriceRange priceRange     `json:"price_range"`
}

type priceRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

func summarize(products []domain.Product) searchMetadata {
	meta := searchMetadata{
		Total:      len(products),
		Categories: make(map[string]int, 4),
	}
	min, max := products[0].Price, products[0].Price
	for _, p := range products {
		meta.Categories[p.Category]++
		if p.Price.LessThan(min) {
			min = p.Price
		}
		if p.Price.GreaterThan(max) {
			max = p.Price
		}
	}
	meta.PriceRange = priceRange{Min: min.StringFixed(2), Max: max.StringFixed(2)}
	return meta
}

// CategoriesTool lists the categories that currently have stock. Read-only.
type CategoriesTool struct {
	store  domain.ProductStore
	logger *slog.Logger
}

// NewCategoriesTool creates the category listing tool.
func NewCategoriesTool(store domain.ProductStore, logger *slog.Logger) *CategoriesTool {
	return &CategoriesTool{store: store, logger: logger}
}

func (t *CategoriesTool) Name() string { return "get_available_categories" }

func (t *CategoriesTool) Description() string {
	return "List the product categories that currently have items in stock."
}

func (t *CategoriesTool) Capability() domain.Capability { return domain.CapabilitySafe }

func (t *CategoriesTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	}
}

func (t *CategoriesTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_available_categories", t.logger, params,
		func(ctx context.Context, _ trace.Span, _ struct{}) (any, error) {
			categories, err := t.store.Categories(ctx)
			if err != nil {
				return nil, err
			}
			return map[string][]string{"categories": categories}, nil
		})
}

// RecommendationsTool suggests products based on the customer's purchase
// history. Read-only.
type RecommendationsTool struct {
	store  domain.ProductStore
	logger *slog.Logger
}

// NewRecommendationsTool creates the recommendations tool.
func NewRecommendationsTool(store domain.ProductStore, logger *slog.Logger) *RecommendationsTool {
	return &RecommendationsTool{store: store, logger: logger}
}

func (t *RecommendationsTool) Name() string { return "search_products_recommendations" }

func (t *RecommendationsTool) Description() string {
	return "Recommend in-stock products based on the customer's past orders."
}

func (t *RecommendationsTool) Capability() domain.Capability { return domain.CapabilitySafe }

func (t *RecommendationsTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": "integer", "minimum": 1, "maximum": 20}
			}
		}`),
	}
}

type recommendationsParams struct {
	Limit int `json:"limit"`
}

func (t *RecommendationsTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.search_products_recommendations", t.logger, params,
		func(ctx context.Context, _ trace.Span, p recommendationsParams) (any, error) {
			customerID := domain.CustomerIDFromContext(ctx)
			if customerID == "" {
				return nil, domain.ErrNoCustomer
			}
			products, err := t.store.Recommendations(ctx, customerID, p.Limit)
			if err != nil {
				return nil, err
			}
			if len(products) == 0 {
				return TextResult("Nothing to recommend right now."), nil
			}
			return products, nil
		})
}
