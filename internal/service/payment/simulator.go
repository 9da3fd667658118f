package payment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
)

// Simulator — локальная замена внешнего платёжного шлюза.
// По умолчанию одобряет любой платёж; поведение настраивается для тестов.
type Simulator struct {
	mu sync.Mutex

	// DeclineMessage возвращается при отклонении.
	DeclineMessage string
	// DeclineNext — число ближайших запросов, которые будут отклонены.
	DeclineNext int
	// Err возвращается вместо результата (ошибка транспорта).
	Err error

	AuthorizeCalls int

	logger *log.Entry
}

// NewSimulator возвращает шлюз с одобряющим сценарием по умолчанию.
func NewSimulator(logger *log.Entry) *Simulator {
	if logger == nil {
		logger = log.New().WithField("component", "payment-simulator")
	}
	return &Simulator{
		DeclineMessage: "payment declined by simulator",
		logger:         logger,
	}
}

// Authorize одобряет или отклоняет платёж согласно настройке.
func (s *Simulator) Authorize(_ context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AuthorizeCalls++

	if s.Err != nil {
		return domain.PaymentResult{}, s.Err
	}
	if errs := req.Validate(); len(errs) > 0 {
		return domain.PaymentResult{Success: false, Message: errs[0].Error()}, nil
	}

	if s.DeclineNext > 0 {
		s.DeclineNext--
		s.logger.WithField("order_ref", req.OrderRef).Debug("simulated decline")
		return domain.PaymentResult{
			Success: false,
			Message: s.DeclineMessage,
		}, nil
	}

	return domain.PaymentResult{
		Success:       true,
		Message:       "payment authorized",
		TransactionID: uuid.NewString(),
	}, nil
}

var _ domain.PaymentGateway = (*Simulator)(nil)
