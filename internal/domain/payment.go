package domain

// PaymentCard — карточные данные, передаваемые платёжному шлюзу.
// Никогда не персистятся и не логируются целиком.
type PaymentCard struct {
	Number     string
	HolderName string
	ExpiryDate string
	CVV        string
}

// PaymentRequest описывает запрос на авторизацию платежа.
type PaymentRequest struct {
	OrderRef    string
	Card        PaymentCard
	AmountMinor int64
}

// PaymentResult — ответ платёжного шлюза.
type PaymentResult struct {
	Success       bool
	Message       string
	TransactionID string
}

// Validate проверяет минимальные требования к платёжному запросу.
func (r *PaymentRequest) Validate() []error {
	var errs []error

	if r.OrderRef == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if r.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}
	if r.Card.Number == "" {
		errs = append(errs, ErrCardNumberRequired)
	}

	return errs
}
