package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

type orderStore struct {
	db *sql.DB
}

// NewOrderStore создаёт PostgreSQL-реализацию OrderStore.
func NewOrderStore(store *Store) domain.OrderStore {
	return &orderStore{db: store.DB()}
}

func (s *orderStore) Create(ctx context.Context, order domain.Order) error {
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return errs[0]
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, product_id, qty, price_minor, total_minor, status, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, order.ID, order.ProductID, order.Qty, order.PriceMinor, order.TotalMinor,
		string(order.Status), order.Version, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

func (s *orderStore) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order  domain.Order
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, qty, price_minor, total_minor, status, version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.ProductID, &order.Qty, &order.PriceMinor, &order.TotalMinor,
		&status, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	return order, nil
}

// UpdateStatus переводит заказ from→to одним условным UPDATE: проигранный
// CAS различается от запрещённого перехода повторным чтением строки.
func (s *orderStore) UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) error {
	if !domain.CanTransition(from, to) {
		return domain.ErrInvalidTransition
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return getErr
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (s *orderStore) List(ctx context.Context, filter domain.OrderFilter, sort domain.OrderSort, page domain.Page) ([]domain.Order, int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	page = page.Normalize()
	sort = sort.Normalize()

	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.FromMillis > 0 {
		args = append(args, time.UnixMilli(filter.FromMillis).UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.ToMillis > 0 {
		args = append(args, time.UnixMilli(filter.ToMillis).UTC())
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders"+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	var orderSQL string
	switch sort {
	case domain.OrderSortDateAsc:
		orderSQL = " ORDER BY created_at ASC, id ASC"
	case domain.OrderSortPriceAsc:
		orderSQL = " ORDER BY total_minor ASC, id ASC"
	case domain.OrderSortPriceDesc:
		orderSQL = " ORDER BY total_minor DESC, id ASC"
	default:
		orderSQL = " ORDER BY created_at DESC, id ASC"
	}

	args = append(args, page.Size, page.Offset())
	query := fmt.Sprintf(`
		SELECT id, product_id, qty, price_minor, total_minor, status, version, created_at, updated_at
		FROM orders%s%s
		LIMIT $%d OFFSET $%d
	`, whereSQL, orderSQL, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Order, 0, page.Size)
	for rows.Next() {
		var (
			order  domain.Order
			status string
		)
		if err := rows.Scan(&order.ID, &order.ProductID, &order.Qty, &order.PriceMinor, &order.TotalMinor, &status, &order.Version, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		items = append(items, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate orders: %w", err)
	}

	return items, total, nil
}

var _ domain.OrderStore = (*orderStore)(nil)
