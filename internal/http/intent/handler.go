package intent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/intent"
)

const idempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	svc *intent.Service
}

func NewHandler(svc *intent.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/authorize", h.authorize)
	r.Post("/{id}/capture", h.capture)
	r.Post("/{id}/void", h.void)
	r.Post("/{id}/refund", h.refund)
}

type createIntentRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(idempotencyKeyHeader)
	}

	in, err := h.svc.CreateIntent(r.Context(), intent.CreateParams{
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeIntent(w, http.StatusCreated, in)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	in, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	writeIntent(w, http.StatusOK, in)
}

type transitionRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

// transitionParams parses the shared shape of the four transition endpoints.
func transitionParams(w http.ResponseWriter, r *http.Request) (intent.TransitionParams, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return intent.TransitionParams{}, false
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return intent.TransitionParams{}, false
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		http.Error(w, "missing Idempotency-Key header", http.StatusBadRequest)
		return intent.TransitionParams{}, false
	}

	return intent.TransitionParams{
		ID:              id,
		ExpectedVersion: req.ExpectedVersion,
		IdempotencyKey:  key,
	}, true
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	params, ok := transitionParams(w, r)
	if !ok {
		return
	}

	in, err := h.svc.Authorize(r.Context(), params)
	if err != nil {
		writeError(w, err, in)
		return
	}

	writeIntent(w, http.StatusOK, in)
}

func (h *Handler) capture(w http.ResponseWriter, r *http.Request) {
	params, ok := transitionParams(w, r)
	if !ok {
		return
	}

	in, err := h.svc.Capture(r.Context(), params)
	if err != nil {
		writeError(w, err, in)
		return
	}

	writeIntent(w, http.StatusOK, in)
}

func (h *Handler) void(w http.ResponseWriter, r *http.Request) {
	params, ok := transitionParams(w, r)
	if !ok {
		return
	}

	in, err := h.svc.Void(r.Context(), params)
	if err != nil {
		writeError(w, err, in)
		return
	}

	writeIntent(w, http.StatusOK, in)
}

type refundRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
	Amount          int64 `json:"amount"`
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" {
		http.Error(w, "missing Idempotency-Key header", http.StatusBadRequest)
		return
	}

	in, err := h.svc.Refund(r.Context(), intent.RefundParams{
		ID:              id,
		ExpectedVersion: req.ExpectedVersion,
		Amount:          req.Amount,
		IdempotencyKey:  key,
	})
	if err != nil {
		writeError(w, err, in)
		return
	}

	writeIntent(w, http.StatusOK, in)
}

// errorStatus maps each error kind to a transport status code. The mapping
// lives here so nothing below the HTTP boundary knows about status codes.
func errorStatus(err error) (string, int) {
	switch {
	case errors.Is(err, intent.ErrInvalidArgument):
		return "invalid_argument", http.StatusBadRequest
	case errors.Is(err, intent.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, intent.ErrAlreadyExists):
		return "already_exists", http.StatusConflict
	case errors.Is(err, intent.ErrVersionConflict):
		return "version_conflict", http.StatusConflict
	case errors.Is(err, intent.ErrRequestInFlight):
		return "request_in_flight", http.StatusConflict
	case errors.Is(err, intent.ErrIdempotencyConflict):
		return "idempotency_conflict", http.StatusUnprocessableEntity
	case errors.Is(err, intent.ErrInvalidStateTransition):
		return "invalid_state_transition", http.StatusUnprocessableEntity
	case errors.Is(err, intent.ErrProcessorDeclined):
		return "processor_declined", http.StatusPaymentRequired
	case errors.Is(err, intent.ErrProcessorUnreachable):
		return "processor_unreachable", http.StatusBadGateway
	default:
		return "internal", http.StatusInternalServerError
	}
}
