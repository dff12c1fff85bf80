// internal/ledger/handler.go
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes read-side inventory lookups. Mutations only ever happen
// through the order and harvest transitions.
type Handler struct {
	db    *sql.DB
	cache Cache
	log   *zap.Logger
}

// NewHandler creates a new inventory read handler. cache may be nil.
func NewHandler(db *sql.DB, cache Cache, log *zap.Logger) *Handler {
	return &Handler{db: db, cache: cache, log: log}
}

// RegisterRoutes mounts the inventory endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/inventory/{itemID}", h.handleGetItem)
	r.Get("/inventory/{itemID}/quantity", h.handleGetQuantity)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}

	item, err := FetchItem(r.Context(), h.db, id)
	if errors.Is(err, ErrUnknownItem) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("inventory read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleGetQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item ID")
		return
	}
	ctx := r.Context()

	if h.cache != nil {
		quantity, ok, err := h.cache.Quantity(ctx, id)
		if err != nil {
			h.log.Warn("stock cache read failed", zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, quantityResponse{ItemID: id, Quantity: quantity, Source: "cache"})
			return
		}
	}

	item, err := FetchItem(ctx, h.db, id)
	if errors.Is(err, ErrUnknownItem) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.log.Error("inventory read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if h.cache != nil {
		if err := h.cache.SetQuantity(ctx, id, item.Quantity); err != nil {
			h.log.Warn("stock cache backfill failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, quantityResponse{ItemID: id, Quantity: item.Quantity, Source: "store"})
}

type quantityResponse struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int       `json:"quantity"`
	Source   string    `json:"source"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
