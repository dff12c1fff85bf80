// internal/harvest/handler.go
package harvest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmledger/internal/crops"
	"farmledger/internal/gate"
	"farmledger/internal/ledger"
)

// Handler exposes the harvest service over HTTP.
type Handler struct {
	service Service
	log     *zap.Logger
}

// NewHandler creates a new harvest handler.
func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// RegisterRoutes mounts the harvest endpoints on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/harvests", h.handleRecord)
	r.Post("/harvests/batch", h.handleRecordBatch)
	r.Get("/harvests/{harvestID}", h.handleGet)
	r.Patch("/harvests/{harvestID}/yield", h.handleAmendYield)
}

type recordRequest struct {
	CropID        uuid.UUID `json:"crop_id"`
	FarmID        uuid.UUID `json:"farm_id"`
	Yield         int       `json:"yield"`
	QualityRating int       `json:"quality_rating"`
}

func (r recordRequest) params() RecordParams {
	return RecordParams{
		CropID:        r.CropID,
		FarmID:        r.FarmID,
		Yield:         r.Yield,
		QualityRating: r.QualityRating,
	}
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	recorded, err := h.service.RecordHarvest(r.Context(), actor, req.params())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recorded)
}

func (h *Handler) handleRecordBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var reqs []recordRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	batch := make([]RecordParams, 0, len(reqs))
	for _, req := range reqs {
		batch = append(batch, req.params())
	}

	recorded, err := h.service.RecordBatch(r.Context(), actor, batch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, recorded)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "harvestID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid harvest ID")
		return
	}

	recorded, err := h.service.GetHarvest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recorded)
}

func (h *Handler) handleAmendYield(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "harvestID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid harvest ID")
		return
	}

	var req struct {
		Yield int `json:"yield"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	amended, err := h.service.AmendYield(r.Context(), actor, id, req.Yield)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, amended)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("harvest request failed", zap.Error(err))
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, gate.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownHarvest),
		errors.Is(err, crops.ErrUnknownCrop),
		errors.Is(err, ledger.ErrUnknownItem):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrNegativeStock),
		errors.Is(err, ledger.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLockTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

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
