package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/khazin/ecom-core/internal/domain"
)

const opTimeout = 5 * time.Second

type productStore struct {
	db *sql.DB
}

// NewProductStore создаёт PostgreSQL-реализацию ProductStore.
func NewProductStore(store *Store) domain.ProductStore {
	return &productStore{db: store.DB()}
}

func (s *productStore) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, description, stock, category, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.Name, &p.PriceMinor, &p.Description, &p.Stock, &p.Category,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}

	return p, nil
}

// Put сохраняет товар целиком (upsert), используется сидингом каталога.
func (s *productStore) Put(ctx context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price_minor, description, stock, category, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_minor = EXCLUDED.price_minor,
			description = EXCLUDED.description,
			stock = EXCLUDED.stock,
			category = EXCLUDED.category,
			updated_at = EXCLUDED.updated_at
	`, product.ID, product.Name, product.PriceMinor, product.Description,
		product.Stock, product.Category, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	return nil
}

func (s *productStore) CheckStock(ctx context.Context, id string, qty int32) (bool, error) {
	product, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return product.Stock >= qty, nil
}

// ReduceStock выполняет условный декремент одним UPDATE: база сама
// гарантирует, что сток не уйдёт в минус, окна между проверкой и
// записью нет.
func (s *productStore) ReduceStock(ctx context.Context, id string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND stock >= $1
	`, qty, id)
	if err != nil {
		return fmt.Errorf("reduce stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reduce stock rows affected: %w", err)
	}
	if affected == 0 {
		// Либо товара нет, либо стока не хватает.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrInsufficientStock
	}

	return nil
}

func (s *productStore) RestoreStock(ctx context.Context, id string, qty int32) error {
	if qty <= 0 {
		return domain.ErrQtyInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2
	`, qty, id)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("restore stock rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (s *productStore) List(ctx context.Context, filter domain.ProductFilter, sort domain.ProductSort, page domain.Page) ([]domain.Product, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	page = page.Normalize()
	sort = sort.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	orderSQL := " ORDER BY id ASC"
	switch sort {
	case domain.ProductSortPriceAsc:
		orderSQL = " ORDER BY price_minor ASC, id ASC"
	case domain.ProductSortPriceDesc:
		orderSQL = " ORDER BY price_minor DESC, id ASC"
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`
		SELECT id, name, price_minor, description, stock, category, created_at, updated_at
		FROM products%s%s
		LIMIT $%d OFFSET $%d
	`, whereSQL, orderSQL, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Product, 0, page.Size)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceMinor, &p.Description, &p.Stock, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate products: %w", err)
	}

	return items, total, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductStore = (*productStore)(nil)
