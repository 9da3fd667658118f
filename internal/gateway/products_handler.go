package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/khazin/ecom-core/internal/domain"
)

type productDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PriceMinor  int64     `json:"priceMinor"`
	Description string    `json:"description,omitempty"`
	Stock       int32     `json:"stock"`
	Category    string    `json:"category,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toProductDTO(product domain.Product) productDTO {
	return productDTO{
		ID:          product.ID,
		Name:        product.Name,
		PriceMinor:  product.PriceMinor,
		Description: product.Description,
		Stock:       product.Stock,
		Category:    product.Category,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
}

type listProductsResponse struct {
	Items      []productDTO `json:"items"`
	TotalCount int          `json:"totalCount"`
	Page       int          `json:"page"`
	PageSize   int          `json:"pageSize"`
}

// listProducts отдаёт страницу каталога. Некорректные параметры
// приводятся к значениям по умолчанию.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.ProductFilter{Category: q.Get("category")}
	sort := domain.ProductSort(q.Get("sortBy")).Normalize()
	page := domain.Page{
		Number: int(parseInt64(q.Get("page"))),
		Size:   int(parseInt64(q.Get("pageSize"))),
	}.Normalize()

	items, total, err := s.products.List(r.Context(), filter, sort, page)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := listProductsResponse{
		Items:      make([]productDTO, 0, len(items)),
		TotalCount: total,
		Page:       page.Number,
		PageSize:   page.Size,
	}
	for _, product := range items {
		resp.Items = append(resp.Items, toProductDTO(product))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	product, err := s.products.Get(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(product))
}

type checkStockResponse struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	Available bool   `json:"available"`
}

func (s *Server) checkStock(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	qty, err := strconv.ParseInt(chi.URLParam(r, "qty"), 10, 32)
	if err != nil || qty <= 0 {
		writeError(w, domain.ErrQtyInvalid)
		return
	}

	available, err := s.products.CheckStock(r.Context(), productID, int32(qty))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkStockResponse{
		ProductID: productID,
		Quantity:  int32(qty),
		Available: available,
	})
}

type reduceStockRequest struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

func (s *Server) reduceStock(w http.ResponseWriter, r *http.Request) {
	var req reduceStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "INVALID_ARGUMENT"})
		return
	}
	if req.ProductID == "" {
		writeError(w, domain.ErrProductIDRequired)
		return
	}
	if req.Quantity <= 0 {
		writeError(w, domain.ErrQtyInvalid)
		return
	}

	if err := s.products.ReduceStock(r.Context(), req.ProductID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reduced": true})
}
