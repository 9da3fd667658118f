package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khazin/ecom-core/internal/domain"
	"github.com/khazin/ecom-core/internal/service/checkout"
)

type cardDTO struct {
	Number     string `json:"number"`
	HolderName string `json:"holderName"`
	ExpiryDate string `json:"expiryDate"`
	CVV        string `json:"cvv"`
}

func (c cardDTO) toDomain() domain.PaymentCard {
	return domain.PaymentCard{
		Number:     c.Number,
		HolderName: c.HolderName,
		ExpiryDate: c.ExpiryDate,
		CVV:        c.CVV,
	}
}

type orderDTO struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"productId"`
	ProductName string    `json:"productName,omitempty"`
	Quantity    int32     `json:"quantity"`
	PriceMinor  int64     `json:"priceMinor"`
	TotalMinor  int64     `json:"totalMinor"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toOrderDTO(order domain.Order) orderDTO {
	return orderDTO{
		ID:         order.ID,
		ProductID:  order.ProductID,
		Quantity:   order.Qty,
		PriceMinor: order.PriceMinor,
		TotalMinor: order.TotalMinor,
		Status:     string(order.Status),
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
}

type placeOrderRequest struct {
	ProductID string  `json:"productId"`
	Quantity  int32   `json:"quantity"`
	Card      cardDTO `json:"card"`
}

func (s *Server) placeOrderAdvanced(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "INVALID_ARGUMENT"})
		return
	}

	order, err := s.orch.PlaceOrderAdvanced(r.Context(), checkout.PlaceOrderCommand{
		ProductID: req.ProductID,
		Qty:       req.Quantity,
		Card:      req.Card.toDomain(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	dto := toOrderDTO(order)
	// Название товара дополняется из каталога; его отсутствие не
	// отменяет уже оформленный заказ.
	if product, perr := s.products.Get(r.Context(), order.ProductID); perr == nil {
		dto.ProductName = product.Name
	}
	writeJSON(w, http.StatusCreated, dto)
}

type combinedOrderItem struct {
	ProductID  string `json:"productId"`
	Quantity   int32  `json:"quantity"`
	PriceMinor int64  `json:"priceMinor"`
}

type createCombinedRequest struct {
	Items []combinedOrderItem `json:"items"`
}

type createCombinedResponse struct {
	Orders []pendingOrderDTO `json:"orders"`
}

type pendingOrderDTO struct {
	OrderID    string `json:"orderId"`
	ProductID  string `json:"productId"`
	TotalMinor int64  `json:"totalMinor"`
}

func (s *Server) createCombined(w http.ResponseWriter, r *http.Request) {
	var req createCombinedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "INVALID_ARGUMENT"})
		return
	}

	items := make([]checkout.PendingOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, checkout.PendingOrderItem{
			ProductID:  item.ProductID,
			Qty:        item.Quantity,
			PriceMinor: item.PriceMinor,
		})
	}

	results, err := s.orch.CreatePendingOrders(r.Context(), items)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := createCombinedResponse{Orders: make([]pendingOrderDTO, 0, len(results))}
	for _, res := range results {
		resp.Orders = append(resp.Orders, pendingOrderDTO{
			OrderID:    res.OrderID,
			ProductID:  res.ProductID,
			TotalMinor: res.TotalMinor,
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

type listOrdersResponse struct {
	Items      []orderDTO `json:"items"`
	TotalCount int        `json:"totalCount"`
	Page       int        `json:"page"`
	PageSize   int        `json:"pageSize"`
}

// listOrders отдаёт страницу заказов. Некорректные значения фильтра,
// сортировки и пагинации молча приводятся к значениям по умолчанию.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.OrderFilter{
		FromMillis: parseInt64(q.Get("fromTimestamp")),
		ToMillis:   parseInt64(q.Get("toTimestamp")),
	}
	if status := domain.OrderStatus(q.Get("status")); status.Valid() {
		filter.Status = status
	}

	sort := domain.OrderSort(q.Get("sortBy")).Normalize()
	page := domain.Page{
		Number: int(parseInt64(q.Get("page"))),
		Size:   int(parseInt64(q.Get("pageSize"))),
	}.Normalize()

	items, total, err := s.orders.List(r.Context(), filter, sort, page)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := listOrdersResponse{
		Items:      make([]orderDTO, 0, len(items)),
		TotalCount: total,
		Page:       page.Number,
		PageSize:   page.Size,
	}
	for _, order := range items {
		resp.Items = append(resp.Items, toOrderDTO(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

// getOrder отдаёт заказ, дополненный названием товара из каталога.
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}

	dto := toOrderDTO(order)
	product, err := s.products.Get(r.Context(), order.ProductID)
	if err == nil {
		dto.ProductName = product.Name
	} else if !errors.Is(err, domain.ErrProductNotFound) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto)
}

// parseInt64 возвращает 0 для пустых и некорректных значений: нулевое
// значение фильтра означает "не задан", пагинация нормализуется ниже.
func parseInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
