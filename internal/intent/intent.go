package intent

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a payment intent.
type State string

const (
	StateCreated    State = "created"
	StateAuthorized State = "authorized"
	StateCaptured   State = "captured"
	StateFailed     State = "failed"
	StateVoided     State = "voided"
	StateRefunded   State = "refunded"
)

// allowedTransitions maps each state to the states it may move to.
// States mapping to an empty slice are terminal.
var allowedTransitions = map[State][]State{
	StateCreated:    {StateAuthorized, StateFailed},
	StateAuthorized: {StateCaptured, StateVoided},
	StateCaptured:   {StateRefunded},
	StateFailed:     {},
	StateVoided:     {},
	StateRefunded:   {},
}

// CanTransition reports whether an intent may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}

	return false
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Intent represents one payment's lifecycle from creation to settlement.
type Intent struct {
	ID             uuid.UUID
	IdempotencyKey string
	Amount         int64 // Amount in minor currency units
	Currency       string
	State          State
	ProcessorRef   *string
	FailureReason  *string
	RefundedAmount int64
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var (
	// ErrInvalidArgument indicates bad input; nothing was persisted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists indicates the idempotency key already has an intent.
	ErrAlreadyExists = errors.New("intent already exists")

	// ErrIdempotencyConflict indicates an idempotency key was reused for a
	// semantically different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different request")

	// ErrNotFound indicates the intent does not exist.
	ErrNotFound = errors.New("intent not found")

	// ErrInvalidStateTransition indicates the operation is not legal from
	// the intent's current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrVersionConflict indicates a lost optimistic-concurrency race.
	// Callers may re-read and retry.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRequestInFlight indicates another request holds the same
	// idempotency key and has not finished yet.
	ErrRequestInFlight = errors.New("request with this idempotency key is still in flight")

	// ErrProcessorUnreachable indicates the processor produced no final
	// outcome within the retry budget. The intent state is unchanged and
	// the operation is safe to retry later.
	ErrProcessorUnreachable = errors.New("processor unreachable")

	// ErrProcessorDeclined indicates a terminal business decline from the
	// processor.
	ErrProcessorDeclined = errors.New("processor declined")
)
