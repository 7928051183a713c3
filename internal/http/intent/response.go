package intent

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paylinehq/payline/internal/intent"
)

type intentResponse struct {
	ID             uuid.UUID    `json:"id"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	State          intent.State `json:"state"`
	ProcessorRef   *string      `json:"processor_ref,omitempty"`
	FailureReason  *string      `json:"failure_reason,omitempty"`
	RefundedAmount int64        `json:"refunded_amount,omitempty"`
	Version        int64        `json:"version"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type errorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Intent  *intentResponse `json:"intent,omitempty"`
}

func toResponse(in *intent.Intent) intentResponse {
	return intentResponse{
		ID:             in.ID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		State:          in.State,
		ProcessorRef:   in.ProcessorRef,
		FailureReason:  in.FailureReason,
		RefundedAmount: in.RefundedAmount,
		Version:        in.Version,
		CreatedAt:      in.CreatedAt,
		UpdatedAt:      in.UpdatedAt,
	}
}

func writeIntent(w http.ResponseWriter, status int, in *intent.Intent) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(toResponse(in)); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError renders a typed error body. An authorize decline carries the
// intent it moved to Failed, so the response includes it when present.
func writeError(w http.ResponseWriter, err error, in *intent.Intent) {
	kind, status := errorStatus(err)

	if errors.Is(err, intent.ErrRequestInFlight) {
		w.Header().Set("Retry-After", "1")
	}

	resp := errorResponse{Error: kind, Message: err.Error()}

	if in != nil {
		ir := toResponse(in)
		resp.Intent = &ir
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
