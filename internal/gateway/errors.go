package gateway

import (
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/khazin/ecom-core/internal/domain"
)

// codeOf переводит доменную ошибку в транспортно-независимый grpc-код.
func codeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrIdempotencyKeyNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrOrderIDRequired),
		errors.Is(err, domain.ErrQtyInvalid),
		errors.Is(err, domain.ErrPriceNegative),
		errors.Is(err, domain.ErrTotalOverflow),
		errors.Is(err, domain.ErrPaymentAmountNegative),
		errors.Is(err, domain.ErrCardNumberRequired),
		errors.Is(err, domain.ErrIdempotencyKeyRequired),
		errors.Is(err, domain.ErrInvalidStatus):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrStockReductionFailed):
		return codes.Internal
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrPaymentDeclined):
		return codes.Aborted
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return codes.AlreadyExists
	case errors.Is(err, domain.ErrOrderVersionConflict),
		errors.Is(err, domain.ErrInvalidTransition):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrStoreUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// httpStatusOf отображает grpc-код в HTTP-статус. Отказ платежа
// отображается в 402 отдельно от остальных Aborted.
func httpStatusOf(err error) int {
	if errors.Is(err, domain.ErrPaymentDeclined) {
		return http.StatusPaymentRequired
	}

	switch codeOf(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// statusOf собирает grpc status для логирования и ответов.
func statusOf(err error) *status.Status {
	return status.New(codeOf(err), err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError сериализует ошибку в единый формат ответа.
func writeError(w http.ResponseWriter, err error) {
	st := statusOf(err)
	writeJSON(w, httpStatusOf(err), errorResponse{
		Error: st.Message(),
		Code:  st.Code().String(),
	})
}
