package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"salesagent/internal/domain"
	"salesagent/internal/infra/tracer"
)

// CreateOrderTool places an order for the customer in context. It is the
// one sensitive tool: the orchestrator suspends the thread and waits for a
// human decision before Execute ever runs.
type CreateOrderTool struct {
	store  domain.ProductStore
	logger *slog.Logger
}

// NewCreateOrderTool creates the order placement tool.
func NewCreateOrderTool(store domain.ProductStore, logger *slog.Logger) *CreateOrderTool {
	return &CreateOrderTool{store: store, logger: logger}
}

func (t *CreateOrderTool) Name() string { return "create_order" }

func (t *CreateOrderTool) Description() string {
	return "Place an order for one or more products. Checks stock, records the purchase, and returns the order id and total."
}

func (t *CreateOrderTool) Capability() domain.Capability { return domain.CapabilitySensitive }

func (t *CreateOrderTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"products": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"properties": {
							"product_name": {"type": "string", "minLength": 1},
							"quantity": {"type": "integer", "minimum": 1}
						},
						"required": ["product_name", "quantity"]
					}
				}
			},
			"required": ["products"]
		}`),
	}
}

type createOrderParams struct {
	Products []domain.OrderRequestLine `json:"products"`
}

func (t *CreateOrderTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.create_order", t.logger, params,
		func(ctx context.Context, span trace.Span, p createOrderParams) (any, error) {
			customerID := domain.CustomerIDFromContext(ctx)
			if customerID == "" {
				return nil, domain.ErrNoCustomer
			}
			span.SetAttributes(tracer.IntAttr("order.lines", len(p.Products)))

			receipt, err := t.store.PlaceOrder(ctx, customerID, p.Products)
			if err != nil {
				// Stock and lookup failures are conversational: the planner
				// should explain them, not crash the turn.
				if errors.Is(err, domain.ErrProductNotFound) || errors.Is(err, domain.ErrInsufficientStock) {
					return ErrResult("%v", err)
				}
				return nil, err
			}

			t.logger.Info("order placed",
				"order_id", receipt.OrderID,
				"customer_id", receipt.CustomerID,
				"total", receipt.Total.StringFixed(2),
			)
			return map[string]any{
				"order_id":     receipt.OrderID,
				"total_amount": receipt.Total.StringFixed(2),
				"products":     receipt.Lines,
				"status":       domain.OrderStatusCompleted,
			}, nil
		})
}

// CheckOrderStatusTool reads order state for the customer in context.
// Read-only.
type CheckOrderStatusTool struct {
	store  domain.ProductStore
	logger *slog.Logger
}

// NewCheckOrderStatusTool creates the order status tool.
func NewCheckOrderStatusTool(store domain.ProductStore, logger *slog.Logger) *CheckOrderStatusTool {
	return &CheckOrderStatusTool{store: store, logger: logger}
}

func (t *CheckOrderStatusTool) Name() string { return "check_order_status" }

func (t *CheckOrderStatusTool) Description() string {
	return "Check the status of a specific order by id, or list all of the customer's orders when no id is given."
}

func (t *CheckOrderStatusTool) Capability() domain.Capability { return domain.CapabilitySafe }

func (t *CheckOrderStatusTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"order_id": {"type": "string", "description": "Order id; omit to list all orders"}
			}
		}`),
	}
}

type checkOrderStatusParams struct {
	OrderID string `json:"order_id"`
}

func (t *CheckOrderStatusTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.check_order_status", t.logger, params,
		func(ctx context.Context, _ trace.Span, p checkOrderStatusParams) (any, error) {
			customerID := domain.CustomerIDFromContext(ctx)
			if customerID == "" {
				return nil, domain.ErrNoCustomer
			}

			if p.OrderID != "" {
				detail, err := t.store.OrderByID(ctx, customerID, p.OrderID)
				if err != nil {
					if errors.Is(err, domain.ErrOrderNotFound) {
						return ErrResult("no order %s found for this customer", p.OrderID)
					}
					return nil, err
				}
				return detail, nil
			}

			orders, err := t.store.OrdersForCustomer(ctx, customerID)
			if err != nil {
				return nil, err
			}
			if len(orders) == 0 {
				return TextResult("No orders found for this customer."), nil
			}
			return orders, nil
		})
}
