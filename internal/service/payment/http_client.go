package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/retry"
)

const defaultGatewayTimeout = 5 * time.Second

// HTTPClient — клиент внешнего платёжного шлюза поверх HTTP/JSON.
// Все вызовы ограничены таймаутом; транспортные ошибки маппятся в
// ErrStoreUnavailable и повторяются с backoff на уровне клиента.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
	breaker    *retry.CircuitBreaker
	logger     *log.Entry
}

// NewHTTPClient создаёт клиент шлюза.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *log.Entry) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "payment-client")
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		retryCfg:   retry.DefaultConfig(),
		breaker:    retry.NewCircuitBreaker(5, 30*time.Second, logger),
		logger:     logger,
	}
}

type authorizeRequest struct {
	OrderID        string `json:"orderId"`
	CardNumber     string `json:"cardNumber"`
	CardHolderName string `json:"cardHolderName"`
	ExpiryDate     string `json:"expiryDate"`
	CVV            string `json:"cvv"`
	AmountMinor    int64  `json:"amountMinor"`
}

type authorizeResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transactionId"`
}

// Authorize вызывает шлюз; отклонение платежа — это не ошибка, а
// Success=false в результате.
func (c *HTTPClient) Authorize(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	var result domain.PaymentResult

	err := retry.Do(ctx, c.retryCfg, c.logger, "payment.authorize", func(ctx context.Context) error {
		return c.breaker.Execute("authorize", func() error {
			res, err := c.authorizeOnce(ctx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}

	return result, nil
}

func (c *HTTPClient) authorizeOnce(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	body, err := json.Marshal(authorizeRequest{
		OrderID:        req.OrderRef,
		CardNumber:     req.Card.Number,
		CardHolderName: req.Card.HolderName,
		ExpiryDate:     req.Card.ExpiryDate,
		CVV:            req.Card.CVV,
		AmountMinor:    req.AmountMinor,
	})
	if err != nil {
		return domain.PaymentResult{}, fmt.Errorf("marshal authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authorize", bytes.NewReader(body))
	if err != nil {
		return domain.PaymentResult{}, fmt.Errorf("build authorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.WithError(err).Warn("payment gateway unreachable")
		return domain.PaymentResult{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.PaymentResult{}, fmt.Errorf("%w: gateway returned status %d", domain.ErrStoreUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPaymentRequired {
		return domain.PaymentResult{}, fmt.Errorf("gateway returned unexpected status %d", resp.StatusCode)
	}

	var decoded authorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.PaymentResult{}, fmt.Errorf("decode authorize response: %w", err)
	}

	return domain.PaymentResult{
		Success:       decoded.Success,
		Message:       decoded.Message,
		TransactionID: decoded.TransactionID,
	}, nil
}

var _ domain.PaymentGateway = (*HTTPClient)(nil)
