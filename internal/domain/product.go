package domain

import "time"

// Product описывает товар каталога. Сток меняется только через
// атомарный ReduceStock (и компенсирующий RestoreStock).
type Product struct {
	ID          string
	Name        string
	PriceMinor  int64
	Description string
	Stock       int32
	Category    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет корректность полей товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
