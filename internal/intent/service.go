package intent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

//go:generate mockgen -source=service.go -destination=service_mock.go -package=intent
type Repository interface {
	CreateIntent(ctx context.Context, in *Intent) error
	GetIntent(ctx context.Context, id uuid.UUID) (*Intent, error)
	GetIntentByIdempotencyKey(ctx context.Context, key string) (*Intent, error)

	// CompareAndSwap applies patch and bumps the version only if the stored
	// version equals expectedVersion; otherwise it returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, patch Patch) (*Intent, error)
}

// Patch carries the fields a transition may change besides the version.
type Patch struct {
	State          State
	ProcessorRef   *string
	FailureReason  *string
	RefundedAmount *int64
}

// Admission is the idempotency guard's verdict for a key.
type Admission int

const (
	// AdmitFresh means the caller won the key and must run the operation.
	AdmitFresh Admission = iota
	// AdmitPending means another caller holds the key and has not finished.
	AdmitPending
	// AdmitCompleted means a prior call finished; its intent id is available.
	AdmitCompleted
)

// Guard deduplicates requests by idempotency key. Admit is atomic with
// respect to concurrent callers using the same key: exactly one observes
// AdmitFresh per pending window.
type Guard interface {
	Admit(ctx context.Context, key, fingerprint string) (Admission, uuid.UUID, error)
	Complete(ctx context.Context, key string, intentID uuid.UUID) error
	Release(ctx context.Context, key string) error
}

// Outcome is a processor call's final or non-final verdict.
type Outcome string

const (
	OutcomeApproved    Outcome = "approved"
	OutcomeDeclined    Outcome = "declined"
	OutcomePending     Outcome = "pending"
	OutcomeUnavailable Outcome = "unavailable"
)

type GatewayRequest struct {
	// IntentID doubles as the processor-side idempotency key, so retried
	// calls with the same id cannot double-charge.
	IntentID uuid.UUID
	Amount   int64
	Currency string
}

type GatewayResult struct {
	Outcome      Outcome
	ProcessorRef string
	Reason       string
}

// Gateway is the narrow interface to the external settlement processor.
type Gateway interface {
	Authorize(ctx context.Context, req GatewayRequest) (GatewayResult, error)
	Capture(ctx context.Context, req GatewayRequest) (GatewayResult, error)
	Void(ctx context.Context, req GatewayRequest) (GatewayResult, error)
	Refund(ctx context.Context, req GatewayRequest) (GatewayResult, error)
}

// RetryPolicy bounds gateway retries for non-final outcomes.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

type Service struct {
	repo    Repository
	guard   Guard
	gateway Gateway
	retry   RetryPolicy
}

func NewService(repo Repository, guard Guard, gateway Gateway, retry RetryPolicy) *Service {
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}

	if retry.Backoff <= 0 {
		retry.Backoff = 100 * time.Millisecond
	}

	return &Service{repo: repo, guard: guard, gateway: gateway, retry: retry}
}

type CreateParams struct {
	Amount         int64
	Currency       string
	IdempotencyKey string
}

func (p CreateParams) validate() error {
	if p.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	if !validCurrency(p.Currency) {
		return fmt.Errorf("%w: currency must be a three-letter uppercase code", ErrInvalidArgument)
	}

	if p.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidArgument)
	}

	return nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}

	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}

	return true
}

// CreateIntent admits the idempotency key and persists a new intent in state
// Created with version 0. A duplicate call with the same key and payload
// returns the previously created intent; a duplicate with a different payload
// fails with ErrIdempotencyConflict.
func (s *Service) CreateIntent(ctx context.Context, params CreateParams) (*Intent, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	fp := fingerprint("create", strconv.FormatInt(params.Amount, 10), params.Currency)

	adm, priorID, err := s.guard.Admit(ctx, params.IdempotencyKey, fp)
	if err != nil {
		return nil, err
	}

	switch adm {
	case AdmitPending:
		return nil, ErrRequestInFlight
	case AdmitCompleted:
		return s.repo.GetIntent(ctx, priorID)
	}

	in := &Intent{
		IdempotencyKey: params.IdempotencyKey,
		Amount:         params.Amount,
		Currency:       params.Currency,
		State:          StateCreated,
	}

	if err := s.repo.CreateIntent(ctx, in); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// The guard record for an earlier successful create expired.
			// Fall back to the ledger's unique key as the source of truth.
			return s.adoptExisting(ctx, params)
		}

		s.release(ctx, params.IdempotencyKey)

		return nil, err
	}

	if err := s.guard.Complete(ctx, params.IdempotencyKey, in.ID); err != nil {
		return nil, fmt.Errorf("completing admission: %w", err)
	}

	return in, nil
}

func (s *Service) adoptExisting(ctx context.Context, params CreateParams) (*Intent, error) {
	existing, err := s.repo.GetIntentByIdempotencyKey(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if existing.Amount != params.Amount || existing.Currency != params.Currency {
		s.release(ctx, params.IdempotencyKey)

		return nil, ErrIdempotencyConflict
	}

	if err := s.guard.Complete(ctx, params.IdempotencyKey, existing.ID); err != nil {
		return nil, fmt.Errorf("completing admission: %w", err)
	}

	return existing, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Intent, error) {
	return s.repo.GetIntent(ctx, id)
}

type TransitionParams struct {
	ID              uuid.UUID
	ExpectedVersion int64
	IdempotencyKey  string
}

// Authorize reserves funds for an intent in state Created. An approved call
// moves the intent to Authorized and stores the processor reference; a decline
// moves it to Failed and returns ErrProcessorDeclined alongside the updated
// intent. A non-final processor outcome leaves the state untouched.
func (s *Service) Authorize(ctx context.Context, params TransitionParams) (*Intent, error) {
	fp := fingerprint("authorize", params.ID.String(), strconv.FormatInt(params.ExpectedVersion, 10))

	return s.runAdmitted(ctx, params.IdempotencyKey, fp, func(ctx context.Context) (*Intent, error) {
		cur, err := s.loadForTransition(ctx, params, StateAuthorized, "authorize")
		if err != nil {
			return nil, err
		}

		res, err := s.callGateway(ctx, s.gateway.Authorize, GatewayRequest{
			IntentID: cur.ID,
			Amount:   cur.Amount,
			Currency: cur.Currency,
		})
		if err != nil {
			return nil, err
		}

		if res.Outcome == OutcomeDeclined {
			reason := res.Reason

			in, err := s.repo.CompareAndSwap(ctx, params.ID, params.ExpectedVersion, Patch{
				State:         StateFailed,
				FailureReason: &reason,
			})
			if err != nil {
				return nil, err
			}

			return in, fmt.Errorf("%w: %s", ErrProcessorDeclined, res.Reason)
		}

		ref := res.ProcessorRef

		return s.repo.CompareAndSwap(ctx, params.ID, params.ExpectedVersion, Patch{
			State:        StateAuthorized,
			ProcessorRef: &ref,
		})
	})
}

// Capture collects funds for an intent in state Authorized. A decline leaves
// the intent in Authorized; the caller may still void the authorization.
func (s *Service) Capture(ctx context.Context, params TransitionParams) (*Intent, error) {
	fp := fingerprint("capture", params.ID.String(), strconv.FormatInt(params.ExpectedVersion, 10))

	return s.runAdmitted(ctx, params.IdempotencyKey, fp, func(ctx context.Context) (*Intent, error) {
		cur, err := s.loadForTransition(ctx, params, StateCaptured, "capture")
		if err != nil {
			return nil, err
		}

		res, err := s.callGateway(ctx, s.gateway.Capture, GatewayRequest{
			IntentID: cur.ID,
			Amount:   cur.Amount,
			Currency: cur.Currency,
		})
		if err != nil {
			return nil, err
		}

		if res.Outcome == OutcomeDeclined {
			return nil, fmt.Errorf("%w: %s", ErrProcessorDeclined, res.Reason)
		}

		ref := res.ProcessorRef

		return s.repo.CompareAndSwap(ctx, params.ID, params.ExpectedVersion, Patch{
			State:        StateCaptured,
			ProcessorRef: &ref,
		})
	})
}

// Void cancels an authorization before capture.
func (s *Service) Void(ctx context.Context, params TransitionParams) (*Intent, error) {
	fp := fingerprint("void", params.ID.String(), strconv.FormatInt(params.ExpectedVersion, 10))

	return s.runAdmitted(ctx, params.IdempotencyKey, fp, func(ctx context.Context) (*Intent, error) {
		cur, err := s.loadForTransition(ctx, params, StateVoided, "void")
		if err != nil {
			return nil, err
		}

		res, err := s.callGateway(ctx, s.gateway.Void, GatewayRequest{
			IntentID: cur.ID,
			Amount:   cur.Amount,
			Currency: cur.Currency,
		})
		if err != nil {
			return nil, err
		}

		if res.Outcome == OutcomeDeclined {
			return nil, fmt.Errorf("%w: %s", ErrProcessorDeclined, res.Reason)
		}

		return s.repo.CompareAndSwap(ctx, params.ID, params.ExpectedVersion, Patch{
			State: StateVoided,
		})
	})
}

type RefundParams struct {
	ID              uuid.UUID
	ExpectedVersion int64
	Amount          int64
	IdempotencyKey  string
}

// Refund returns captured funds. The refund amount must not exceed the
// captured amount.
func (s *Service) Refund(ctx context.Context, params RefundParams) (*Intent, error) {
	if params.Amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", ErrInvalidArgument)
	}

	fp := fingerprint("refund", params.ID.String(),
		strconv.FormatInt(params.ExpectedVersion, 10), strconv.FormatInt(params.Amount, 10))

	return s.runAdmitted(ctx, params.IdempotencyKey, fp, func(ctx context.Context) (*Intent, error) {
		tp := TransitionParams{ID: params.ID, ExpectedVersion: params.ExpectedVersion}

		cur, err := s.loadForTransition(ctx, tp, StateRefunded, "refund")
		if err != nil {
			return nil, err
		}

		if params.Amount > cur.Amount {
			return nil, fmt.Errorf("%w: refund amount %d exceeds captured amount %d",
				ErrInvalidArgument, params.Amount, cur.Amount)
		}

		res, err := s.callGateway(ctx, s.gateway.Refund, GatewayRequest{
			IntentID: cur.ID,
			Amount:   params.Amount,
			Currency: cur.Currency,
		})
		if err != nil {
			return nil, err
		}

		if res.Outcome == OutcomeDeclined {
			return nil, fmt.Errorf("%w: %s", ErrProcessorDeclined, res.Reason)
		}

		amount := params.Amount

		return s.repo.CompareAndSwap(ctx, params.ID, params.ExpectedVersion, Patch{
			State:          StateRefunded,
			RefundedAmount: &amount,
		})
	})
}

// runAdmitted wraps an operation in the idempotency guard. Fresh callers run
// the operation and record its intent on success; duplicates replay the prior
// intent or observe the in-flight marker. Transient failures release the key
// so the client can retry with it.
func (s *Service) runAdmitted(ctx context.Context, key, fp string, op func(context.Context) (*Intent, error)) (*Intent, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrInvalidArgument)
	}

	adm, priorID, err := s.guard.Admit(ctx, key, fp)
	if err != nil {
		return nil, err
	}

	switch adm {
	case AdmitPending:
		return nil, ErrRequestInFlight
	case AdmitCompleted:
		return s.repo.GetIntent(ctx, priorID)
	}

	in, err := op(ctx)
	if in == nil {
		s.release(ctx, key)

		return nil, err
	}

	if cerr := s.guard.Complete(ctx, key, in.ID); cerr != nil {
		slog.Error("failed to complete idempotency record", "key", key, "error", cerr)
	}

	return in, err
}

// loadForTransition reads the intent and rejects stale versions and illegal
// transitions before any processor call is made.
func (s *Service) loadForTransition(ctx context.Context, params TransitionParams, target State, op string) (*Intent, error) {
	cur, err := s.repo.GetIntent(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	if cur.Version != params.ExpectedVersion {
		return nil, ErrVersionConflict
	}

	if !CanTransition(cur.State, target) {
		return nil, fmt.Errorf("%w: cannot %s intent in state %q", ErrInvalidStateTransition, op, cur.State)
	}

	return cur, nil
}

// callGateway invokes a processor operation, retrying non-final outcomes
// (Pending, Unavailable) and transport errors with exponential backoff. It
// returns only Approved or Declined results; an exhausted budget surfaces
// ErrProcessorUnreachable without any state mutation.
func (s *Service) callGateway(ctx context.Context, call func(context.Context, GatewayRequest) (GatewayResult, error), req GatewayRequest) (GatewayResult, error) {
	backoff := s.retry.Backoff

	for attempt := 1; ; attempt++ {
		res, err := call(ctx, req)
		if err == nil && (res.Outcome == OutcomeApproved || res.Outcome == OutcomeDeclined) {
			return res, nil
		}

		if attempt >= s.retry.Attempts {
			if err != nil {
				return GatewayResult{}, fmt.Errorf("%w: %v", ErrProcessorUnreachable, err)
			}

			return GatewayResult{}, ErrProcessorUnreachable
		}

		select {
		case <-ctx.Done():
			return GatewayResult{}, fmt.Errorf("%w: %v", ErrProcessorUnreachable, ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
	}
}

func (s *Service) release(ctx context.Context, key string) {
	if err := s.guard.Release(ctx, key); err != nil {
		slog.Error("failed to release idempotency record", "key", key, "error", err)
	}
}

// fingerprint hashes the semantically relevant request fields so the guard
// can detect a key reused for a different request.
func fingerprint(parts ...string) string {
	h := sha256.New()

	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}

		h.Write([]byte(p))
	}

	return hex.EncodeToString(h.Sum(nil))
}
