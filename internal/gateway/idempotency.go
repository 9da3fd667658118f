package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/khazin/ecom-core/internal/domain"
)

// withIdempotency защищает мутирующий обработчик от повторов по
// заголовку Idempotency-Key. Повтор с тем же ключом и телом получает
// закэшированный ответ, повтор с другим телом отклоняется, запрос с
// ключом в обработке отклоняется как конфликт.
func (s *Server) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.idempotency == nil {
			next(w, r)
			return
		}

		key := r.Header.Get(idempotencyKeyHeader)
		if key == "" {
			writeError(w, domain.ErrIdempotencyKeyRequired)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		hash := requestHash(r.Method, r.URL.Path, body)
		record, err := s.idempotency.CreateProcessing(r.Context(), key, hash, time.Now().UTC().Add(s.idemTTL))
		if errors.Is(err, domain.ErrIdempotencyHashMismatch) {
			writeError(w, err)
			return
		}
		if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
			s.replay(w, record)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		if rec.status >= http.StatusInternalServerError {
			// 5xx не кэшируем как done: повтор имеет право пройти заново.
			if markErr := s.idempotency.MarkFailed(r.Context(), key, rec.body.Bytes(), rec.status); markErr != nil {
				s.logger.WithError(markErr).WithField("idempotency_key", key).Warn("mark idempotency failed failed")
			}
			return
		}
		if markErr := s.idempotency.MarkDone(r.Context(), key, rec.body.Bytes(), rec.status); markErr != nil {
			s.logger.WithError(markErr).WithField("idempotency_key", key).Warn("mark idempotency done failed")
		}
	}
}

// replay отдаёт сохранённый ответ повторного запроса.
func (s *Server) replay(w http.ResponseWriter, record domain.IdempotencyRecord) {
	if record.InFlight() {
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "request with this idempotency key is still in progress",
			Code:  "ABORTED",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(idempotencyReplayedHdr, "true")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// responseRecorder дублирует тело ответа для кэша idempotency.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
