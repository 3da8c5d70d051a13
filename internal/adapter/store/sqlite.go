package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"salesagent/internal/domain"
	"salesagent/internal/infra/tracer"
)

// SQLiteStore implements domain.ProductStore and the thread checkpoint
// store on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and runs the schema
// migration.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	// Single connection: SQLite serializes writers anyway, and a lone
	// writer turns concurrent order races into clean stock-check failures
	// instead of SQLITE_BUSY surprises.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS products (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			category    TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price       TEXT NOT NULL,
			stock       INTEGER NOT NULL CHECK (stock >= 0)
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_products_name ON products (LOWER(name));
		CREATE TABLE IF NOT EXISTS orders (
			id          TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS order_lines (
			order_id   TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL REFERENCES products(id),
			quantity   INTEGER NOT NULL,
			unit_price TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS threads (
			id          TEXT PRIMARY KEY,
			customer_id TEXT NOT NULL,
			record      TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func newID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// PlaceOrder implements domain.ProductStore. The whole order is a single
// transaction: the Pending order row, every line, and every stock decrement
// commit together or roll back together.
func (s *SQLiteStore) PlaceOrder(ctx context.Context, customerID string, lines []domain.OrderRequestLine) (*domain.OrderReceipt, error) {
	ctx, span := tracer.StartSpan(ctx, "store.place_order",
		trace.WithAttributes(tracer.IntAttr("order.lines", len(lines))),
	)
	defer span.End()

	if customerID == "" {
		return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrNoCustomer, "")
	}
	if len(lines) == 0 {
		return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrProductNotFound, "order has no lines")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin order tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	orderID := newID(now)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO orders (id, customer_id, status, created_at) VALUES (?, ?, ?, ?)",
		orderID, customerID, domain.OrderStatusPending, now.Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	total := decimal.Zero
	receipt := &domain.OrderReceipt{OrderID: orderID, CustomerID: customerID}

	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrInsufficientStock,
				fmt.Sprintf("quantity for %q must be > 0", line.ProductName))
		}

		var (
			productID, name, priceStr string
			stock                     int64
		)
		err := tx.QueryRowContext(ctx,
			"SELECT id, name, price, stock FROM products WHERE LOWER(name) = LOWER(?)",
			line.ProductName,
		).Scan(&productID, &name, &priceStr, &stock)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrProductNotFound, line.ProductName)
		}
		if err != nil {
			return nil, fmt.Errorf("lookup product %q: %w", line.ProductName, err)
		}
		if stock < line.Quantity {
			return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrInsufficientStock,
				fmt.Sprintf("%s: have %d, want %d", name, stock, line.Quantity))
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price for %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_lines (order_id, product_id, quantity, unit_price) VALUES (?, ?, ?, ?)",
			orderID, productID, line.Quantity, price.String(),
		); err != nil {
			return nil, fmt.Errorf("insert order line: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?",
			line.Quantity, productID, line.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.NewDomainError("Store.PlaceOrder", domain.ErrInsufficientStock, name)
		}

		total = total.Add(price.Mul(decimal.NewFromInt(line.Quantity)))
		receipt.Lines = append(receipt.Lines, domain.OrderReceiptLine{
			ProductName: name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
		})
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = ? WHERE id = ?",
		domain.OrderStatusCompleted, orderID,
	); err != nil {
		return nil, fmt.Errorf("complete order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit order: %w", err)
	}

	receipt.Total = total
	tracer.SetOK(span)
	return receipt, nil
}

// SearchProducts implements domain.ProductStore. Only in-stock products are
// returned.
func (s *SQLiteStore) SearchProducts(ctx context.Context, search domain.ProductSearch) ([]domain.Product, error) {
	parts := []string{"SELECT id, name, category, description, price, stock FROM products WHERE stock > 0"}
	var args []any

	if search.Query != "" {
		parts = append(parts, "AND (LOWER(name) LIKE ? OR LOWER(description) LIKE ?)")
		term := "%" + strings.ToLower(search.Query) + "%"
		args = append(args, term, term)
	}
	if search.Category != "" {
		parts = append(parts, "AND LOWER(category) = LOWER(?)")
		args = append(args, search.Category)
	}
	if search.MinPrice != nil {
		parts = append(parts, "AND CAST(price AS REAL) >= ?")
		args = append(args, search.MinPrice.InexactFloat64())
	}
	if search.MaxPrice != nil {
		parts = append(parts, "AND CAST(price AS REAL) <= ?")
		args = append(args, search.MaxPrice.InexactFloat64())
	}
	parts = append(parts, "ORDER BY name")

	rows, err := s.db.QueryContext(ctx, strings.Join(parts, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()
	return scanProducts(rows)
}

// Categories returns the distinct categories with in-stock products.
func (s *SQLiteStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT category FROM products WHERE stock > 0 ORDER BY category")
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Recommendations picks in-stock products from the categories of the
// customer's most recent orders, falling back to random products when the
// customer has no purchase history.
func (s *SQLiteStore) Recommendations(ctx context.Context, customerID string, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT p.category
		FROM orders o
		JOIN order_lines ol ON o.id = ol.order_id
		JOIN products p ON ol.product_id = p.id
		WHERE o.customer_id = ?
		ORDER BY o.created_at DESC
		LIMIT 3`, customerID)
	if err != nil {
		return nil, fmt.Errorf("favorite categories: %w", err)
	}
	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return nil, err
		}
		categories = append(categories, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	var prows *sql.Rows
	if len(categories) == 0 {
		prows, err = s.db.QueryContext(ctx, `
			SELECT id, name, category, description, price, stock
			FROM products WHERE stock > 0
			ORDER BY RANDOM() LIMIT ?`, limit)
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categories)), ",")
		args := make([]any, 0, len(categories)+1)
		for _, c := range categories {
			args = append(args, c)
		}
		args = append(args, limit)
		prows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT id, name, category, description, price, stock
			FROM products WHERE category IN (%s) AND stock > 0
			ORDER BY RANDOM() LIMIT ?`, placeholders), args...)
	}
	if err != nil {
		return nil, fmt.Errorf("recommendations: %w", err)
	}
	defer prows.Close()
	return scanProducts(prows)
}

// OrderByID returns one order with its product listing. Orders are scoped to
// the requesting customer; another customer's order reads as not found.
func (s *SQLiteStore) OrderByID(ctx context.Context, customerID, orderID string) (*domain.OrderDetail, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.created_at, o.status,
			GROUP_CONCAT(p.name || ' (x' || ol.quantity || ')'),
			COALESCE(SUM(CAST(ol.unit_price AS REAL) * ol.quantity), 0)
		FROM orders o
		JOIN order_lines ol ON o.id = ol.order_id
		JOIN products p ON ol.product_id = p.id
		WHERE o.id = ? AND o.customer_id = ?
		GROUP BY o.id`, orderID, customerID)

	var (
		d          domain.OrderDetail
		createdStr string
		totalF     float64
	)
	if err := row.Scan(&d.OrderID, &createdStr, &d.Status, &d.Products, &totalF); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewDomainError("Store.OrderByID", domain.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("order lookup: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	d.Total = decimal.NewFromFloat(totalF)
	return &d, nil
}

// OrdersForCustomer returns the customer's order history, newest first.
func (s *SQLiteStore) OrdersForCustomer(ctx context.Context, customerID string) ([]domain.OrderSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.created_at, o.status, COUNT(ol.rowid),
			COALESCE(SUM(CAST(ol.unit_price AS REAL) * ol.quantity), 0)
		FROM orders o
		JOIN order_lines ol ON o.id = ol.order_id
		WHERE o.customer_id = ?
		GROUP BY o.id
		ORDER BY o.created_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	defer rows.Close()

	var summaries []domain.OrderSummary
	for rows.Next() {
		var (
			sm         domain.OrderSummary
			createdStr string
			totalF     float64
		)
		if err := rows.Scan(&sm.OrderID, &createdStr, &sm.Status, &sm.ItemCount, &totalF); err != nil {
			return nil, err
		}
		sm.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		sm.Total = decimal.NewFromFloat(totalF)
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// ProductStock returns the current stock of a product by exact id.
func (s *SQLiteStore) ProductStock(ctx context.Context, productID string) (int64, error) {
	var stock int64
	err := s.db.QueryRowContext(ctx,
		"SELECT stock FROM products WHERE id = ?", productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewDomainError("Store.ProductStock", domain.ErrProductNotFound, productID)
	}
	return stock, err
}

// AddProduct inserts one catalog entry. Used by seeding and tests.
func (s *SQLiteStore) AddProduct(ctx context.Context, p domain.Product) error {
	if p.ID == "" {
		p.ID = newID(time.Now())
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO products (id, name, category, description, price, stock) VALUES (?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Category, p.Description, p.Price.String(), p.Stock)
	return domain.WrapOp("Store.AddProduct", err)
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	var products []domain.Product
	for rows.Next() {
		var (
			p        domain.Product
			priceStr string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &priceStr, &p.Stock); err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price for %q: %w", p.Name, err)
		}
		p.Price = price
		products = append(products, p)
	}
	return products, rows.Err()
}
