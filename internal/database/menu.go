package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, sort_order, created_at FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

type CreateCategoryParams struct {
	Name      string
	SortOrder int32
}

func (q *Queries) CreateCategory(ctx context.Context, arg CreateCategoryParams) (Category, error) {
	var c Category
	err := q.db.QueryRow(ctx, `
		INSERT INTO categories (name, sort_order) VALUES ($1, $2)
		RETURNING id, name, sort_order, created_at`,
		arg.Name, arg.SortOrder,
	).Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt)
	return c, err
}

// DeleteCategory returns pgx.ErrNoRows when the category does not exist.
func (q *Queries) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const productColumns = `id, category_id, name, description, image_url, price, active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p     Product
		price pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, &p.ImageURL, &price, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	p.Price = NumericToDecimal(price)
	return p, nil
}

// ListProducts returns products ordered by name; activeOnly hides disabled ones.
func (q *Queries) ListProducts(ctx context.Context, activeOnly bool) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE (NOT $1::bool OR active)
		ORDER BY name`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

type CreateProductParams struct {
	CategoryID  uuid.UUID
	Name        string
	Description string
	ImageURL    string
	Price       decimal.Decimal
	Active      bool
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
		INSERT INTO products (category_id, name, description, image_url, price, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+productColumns,
		arg.CategoryID, arg.Name, arg.Description, arg.ImageURL, DecimalToNumeric(arg.Price), arg.Active,
	))
}

type UpdateProductParams struct {
	ID          uuid.UUID
	CategoryID  uuid.UUID
	Name        string
	Description string
	ImageURL    string
	Price       decimal.Decimal
	Active      bool
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, `
		UPDATE products
		SET category_id = $2, name = $3, description = $4, image_url = $5, price = $6, active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		arg.ID, arg.CategoryID, arg.Name, arg.Description, arg.ImageURL, DecimalToNumeric(arg.Price), arg.Active,
	))
}

// DeleteProduct returns pgx.ErrNoRows when the product does not exist.
func (q *Queries) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
