package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/checkout"
)

const (
	defaultRequestTimeout  = 15 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idempotencyKeyHeader   = "Idempotency-Key"
	idempotencyReplayedHdr = "Idempotency-Replayed"
)

// Server — HTTP-шлюз поверх оркестратора и хранилищ.
type Server struct {
	orch        *checkout.Orchestrator
	orders      domain.OrderStore
	products    domain.ProductStore
	idempotency domain.IdempotencyRepository
	idemTTL     time.Duration
	logger      *log.Entry
}

// NewServer создаёт шлюз. idempotency может быть nil: тогда мутации
// выполняются без защиты от повторов.
func NewServer(
	orch *checkout.Orchestrator,
	orders domain.OrderStore,
	products domain.ProductStore,
	idempotency domain.IdempotencyRepository,
	logger *log.Entry,
) *Server {
	if logger == nil {
		logger = log.WithField("component", "gateway")
	}
	return &Server{
		orch:        orch,
		orders:      orders,
		products:    products,
		idempotency: idempotency,
		idemTTL:     defaultIdempotencyTTL,
		logger:      logger,
	}
}

// Router собирает все маршруты шлюза.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/place-advanced", s.withIdempotency(s.placeOrderAdvanced))
			r.Post("/create-combined", s.withIdempotency(s.createCombined))
			r.Get("/", s.listOrders)
			r.Get("/{orderID}", s.getOrder)
		})
		r.Route("/payment", func(r chi.Router) {
			r.Post("/process", s.withIdempotency(s.processPayment))
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", s.listProducts)
			r.Get("/{productID}", s.getProduct)
			r.Get("/check-stock/{productID}/{qty}", s.checkStock)
			r.Post("/reduce-stock", s.reduceStock)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
