package gateway

import (
	"encoding/json"
	"net/http"
)

type processPaymentRequest struct {
	OrderID string  `json:"orderId"`
	Card    cardDTO `json:"card"`
}

// processPayment подтверждает оплату отложенного заказа. Отказ шлюза
// возвращает 402, заказ при этом остаётся pending.
func (s *Server) processPayment(w http.ResponseWriter, r *http.Request) {
	var req processPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json", Code: "INVALID_ARGUMENT"})
		return
	}

	order, err := s.orch.ConfirmPayment(r.Context(), req.OrderID, req.Card.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderDTO(order))
}
