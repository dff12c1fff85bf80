// internal/orders/handler.go
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmledger/internal/gate"
	"farmledger/internal/ledger"
	"farmledger/pkg/auditlog"
)

// IdempotencyStore deduplicates retried submissions by request id. A key is
// reserved before the placement runs and released again when the placement
// fails, so only a completed order blocks its request id.
type IdempotencyStore interface {
	SetIdempotency(ctx context.Context, key string) (bool, error)
	ClearIdempotency(ctx context.Context, key string) error
}

// Handler exposes the orders service over HTTP.
type Handler struct {
	service Service
	idem    IdempotencyStore
	log     *zap.Logger
}

// NewHandler creates a new orders handler. idem may be nil, in which case
// request-id deduplication is disabled.
func NewHandler(service Service, idem IdempotencyStore, log *zap.Logger) *Handler {
	return &Handler{service: service, idem: idem, log: log}
}

// RegisterRoutes mounts the order endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/orders", h.handlePlaceOrder)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Patch("/orders/{orderID}", h.handleAmendOrder)
	r.Delete("/orders/{orderID}", h.handleCancelOrder)
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req struct {
		ClientID uuid.UUID `json:"client_id"`
		ItemID   uuid.UUID `json:"item_id"`
		Quantity int       `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var idemKey string
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" && h.idem != nil {
		key := "orders:place:" + requestID
		ok, err := h.idem.SetIdempotency(r.Context(), key)
		if err != nil {
			h.log.Warn("idempotency check failed", zap.Error(err))
		} else if !ok {
			h.writeServiceError(w, ErrDuplicateRequest)
			return
		} else {
			idemKey = key
		}
	}

	order, err := h.service.PlaceOrder(r.Context(), actor, PlaceOrderParams{
		ClientID: req.ClientID,
		ItemID:   req.ItemID,
		Quantity: req.Quantity,
	})
	if err != nil {
		// A failed placement must not burn the request id: release the
		// reservation so the caller can retry with the same one.
		if idemKey != "" {
			if clearErr := h.idem.ClearIdempotency(r.Context(), idemKey); clearErr != nil {
				h.log.Warn("idempotency release failed", zap.Error(clearErr))
			}
		}
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleAmendOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.service.AmendOrder(r.Context(), actor, id, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order ID")
		return
	}

	if err := h.service.CancelOrder(r.Context(), actor, id); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("order request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps the error taxonomy to HTTP statuses. Retry exhaustion and
// stock contention surface as 409 so callers know to retry; lock-wait expiry
// is 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, gate.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownOrder), errors.Is(err, ledger.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientStock),
		errors.Is(err, ledger.ErrNegativeStock),
		errors.Is(err, ledger.ErrConcurrencyConflict),
		errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, auditlog.ErrAuditWrite):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

// requireActor extracts the acting user from the X-Actor header. Audit
// attribution is explicit; requests without it are rejected.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, http.StatusBadRequest, "missing X-Actor header")
		return "", false
	}
	return actor, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
