package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"sneaker-store/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, category, brand, price, description, image, removed, created_at, updated_at`

// GetProductByID retrieves a live product with its sizes
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND removed = FALSE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	sizes, err := s.sizesFor(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	product.Sizes = sizes[id]
	return &product, nil
}

// ListProducts returns one page of live products and the total number of matches
func (s *Store) ListProducts(ctx context.Context, filter models.ProductFilter) ([]models.Product, int, error) {
	where := []string{"removed = FALSE"}
	var args []interface{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Brand != "" {
		args = append(args, filter.Brand)
		where = append(where, fmt.Sprintf("brand = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM products WHERE "+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM products WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		productColumns, clause, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	if len(products) == 0 {
		return products, total, nil
	}

	ids := make([]int64, len(products))
	for i := range products {
		ids[i] = products[i].ID
	}
	sizes, err := s.sizesFor(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range products {
		products[i].Sizes = sizes[products[i].ID]
	}
	return products, total, nil
}

func (s *Store) sizesFor(ctx context.Context, ids []int64) (map[int64][]models.SizeStock, error) {
	query, args, err := sqlx.In("SELECT product_id, size, quantity FROM product_sizes WHERE product_id IN (?) ORDER BY product_id, size", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []models.SizeStock
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load sizes: %w", err)
	}

	out := make(map[int64][]models.SizeStock, len(ids))
	for _, r := range rows {
		out[r.ProductID] = append(out[r.ProductID], r)
	}
	return out, nil
}

// CreateProduct inserts a product and its size entries
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, product, `
		INSERT INTO products (name, category, brand, price, description, image)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+productColumns,
		product.Name, product.Category, product.Brand, product.Price, product.Description, product.Image)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProduct
		}
		return fmt.Errorf("failed to insert product: %w", err)
	}

	for i := range product.Sizes {
		product.Sizes[i].ProductID = product.ID
		_, err := tx.ExecContext(ctx,
			"INSERT INTO product_sizes (product_id, size, quantity) VALUES ($1, $2, $3)",
			product.ID, product.Sizes[i].Size, product.Sizes[i].Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert size %q: %w", product.Sizes[i].Size, err)
		}
	}

	return tx.Commit()
}

// RestockProduct adds quantity to a size, creating the size entry when absent
func (s *Store) RestockProduct(ctx context.Context, productID int64, size string, quantity int) (*models.SizeStock, error) {
	var stock models.SizeStock
	err := s.db.GetContext(ctx, &stock, `
		INSERT INTO product_sizes (product_id, size, quantity)
		SELECT id, $2, $3 FROM products WHERE id = $1 AND removed = FALSE
		ON CONFLICT (product_id, size) DO UPDATE SET quantity = product_sizes.quantity + EXCLUDED.quantity
		RETURNING product_id, size, quantity`,
		productID, size, quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restock: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "UPDATE products SET updated_at = NOW() WHERE id = $1", productID); err != nil {
		return nil, err
	}
	return &stock, nil
}

// RemoveProduct soft-deletes a product; purchase history keeps referencing it
func (s *Store) RemoveProduct(ctx context.Context, productID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET removed = TRUE, updated_at = NOW() WHERE id = $1 AND removed = FALSE", productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return nil
}
