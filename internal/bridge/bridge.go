// Package bridge tracks cross-chain transfer operations through their
// lifecycle. Status transitions are monotonic: once an operation is confirmed
// or failed it never moves again.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a bridge operation.
type Status int

const (
	StatusInitiated Status = iota
	StatusPending
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalJSON renders the status as its lowercase name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a quoted status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	parsed, err := ParseStatus(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts a status name back to its enum value.
func ParseStatus(v string) (Status, error) {
	switch v {
	case "initiated":
		return StatusInitiated, nil
	case "pending":
		return StatusPending, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "failed":
		return StatusFailed, nil
	default:
		return StatusInitiated, fmt.Errorf("unknown bridge status %q", v)
	}
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// ReasonTimeout marks operations failed by the pending-timeout sweep.
const ReasonTimeout = "timeout"

// Operation is one tracked cross-chain transfer.
type Operation struct {
	ID            string          `json:"id"`
	User          string          `json:"user"`
	Token         string          `json:"token"`
	Amount        decimal.Decimal `json:"amount"`
	SourceChain   string          `json:"source_chain"`
	TargetChain   string          `json:"target_chain"`
	Status        Status          `json:"status"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ErrNotFound reports an unknown operation id.
var ErrNotFound = errors.New("bridge: operation not found")

// ErrConflict reports an update that lost a race: the operation's status
// changed between the read and the conditional write.
var ErrConflict = errors.New("bridge: operation status changed concurrently")

// TransitionError reports an attempt to move an operation backwards or out of
// a terminal state.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bridge operation %s cannot move %s -> %s", e.ID, e.From, e.To)
}

// Repository is the persistence seam for operations.
type Repository interface {
	InsertOperation(ctx context.Context, op Operation) error
	GetOperation(ctx context.Context, id string) (Operation, bool, error)
	// UpdateOperation writes op only while the stored status still equals
	// from, returning ErrConflict otherwise.
	UpdateOperation(ctx context.Context, op Operation, from Status) error
	ListOperationsByStatus(ctx context.Context, status Status) ([]Operation, error)
}

// Tracker owns the bridge-operation state machine. External confirmation
// signals drive every transition except the pending-timeout sweep.
type Tracker struct {
	repo           Repository
	pendingTimeout time.Duration
	logger         zerolog.Logger
	now            func() time.Time

	onTransition func(Operation)
}

// NewTracker builds a tracker over the given repository.
func NewTracker(repo Repository, pendingTimeout time.Duration, logger zerolog.Logger) *Tracker {
	if pendingTimeout <= 0 {
		pendingTimeout = 30 * time.Minute
	}
	return &Tracker{
		repo:           repo,
		pendingTimeout: pendingTimeout,
		logger:         logger.With().Str("component", "bridge_tracker").Logger(),
		now:            time.Now,
	}
}

// OnTransition installs an observer invoked after every accepted transition
// and on initiation.
func (t *Tracker) OnTransition(fn func(Operation)) {
	t.onTransition = fn
}

// Initiate accepts a bridge request and records it in the creation state.
func (t *Tracker) Initiate(ctx context.Context, user, token string, amount decimal.Decimal, sourceChain, targetChain string) (Operation, error) {
	if user == "" || token == "" {
		return Operation{}, errors.New("bridge: user and token are required")
	}
	if !amount.IsPositive() {
		return Operation{}, fmt.Errorf("bridge: amount %s must be positive", amount)
	}
	if sourceChain == "" || targetChain == "" || sourceChain == targetChain {
		return Operation{}, errors.New("bridge: distinct source and target chains are required")
	}

	now := t.now().UTC()
	op := Operation{
		ID:          uuid.NewString(),
		User:        user,
		Token:       token,
		Amount:      amount,
		SourceChain: sourceChain,
		TargetChain: targetChain,
		Status:      StatusInitiated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.repo.InsertOperation(ctx, op); err != nil {
		return Operation{}, fmt.Errorf("insert bridge operation: %w", err)
	}

	t.logger.Info().Str("id", op.ID).Str("user", user).Str("target_chain", targetChain).Msg("bridge operation initiated")
	t.notify(op)
	return op, nil
}

// MarkPending records that the underlying transfer was observed in flight.
func (t *Tracker) MarkPending(ctx context.Context, id string) (Operation, error) {
	return t.transition(ctx, id, StatusPending, "")
}

// Confirm completes an operation after the target-chain confirmation signal.
func (t *Tracker) Confirm(ctx context.Context, id string) (Operation, error) {
	return t.transition(ctx, id, StatusConfirmed, "")
}

// Fail completes an operation with a failure reason.
func (t *Tracker) Fail(ctx context.Context, id, reason string) (Operation, error) {
	return t.transition(ctx, id, StatusFailed, reason)
}

// Status returns the current operation without side effects.
func (t *Tracker) Status(ctx context.Context, id string) (Operation, error) {
	op, ok, err := t.repo.GetOperation(ctx, id)
	if err != nil {
		return Operation{}, fmt.Errorf("get bridge operation: %w", err)
	}
	if !ok {
		return Operation{}, ErrNotFound
	}
	return op, nil
}

// ExpirePending fails every pending operation whose transfer has not resolved
// within the configured timeout. This is the only transition the tracker
// performs on its own.
func (t *Tracker) ExpirePending(ctx context.Context) (int, error) {
	pending, err := t.repo.ListOperationsByStatus(ctx, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("list pending bridge operations: %w", err)
	}

	cutoff := t.now().UTC().Add(-t.pendingTimeout)
	expired := 0
	for _, op := range pending {
		if op.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := t.Fail(ctx, op.ID, ReasonTimeout); err != nil {
			t.logger.Error().Err(err).Str("id", op.ID).Msg("failed to expire pending operation")
			continue
		}
		expired++
	}
	if expired > 0 {
		t.logger.Warn().Int("expired", expired).Msg("pending bridge operations timed out")
	}
	return expired, nil
}

func (t *Tracker) transition(ctx context.Context, id string, to Status, reason string) (Operation, error) {
	op, ok, err := t.repo.GetOperation(ctx, id)
	if err != nil {
		return Operation{}, fmt.Errorf("get bridge operation: %w", err)
	}
	if !ok {
		return Operation{}, ErrNotFound
	}

	if !allowed(op.Status, to) {
		return Operation{}, &TransitionError{ID: id, From: op.Status, To: to}
	}

	from := op.Status
	op.Status = to
	op.FailureReason = reason
	op.UpdatedAt = t.now().UTC()
	if err := t.repo.UpdateOperation(ctx, op, from); err != nil {
		if errors.Is(err, ErrConflict) {
			// A concurrent transition won. Report the state it left behind.
			cur, ok, gerr := t.repo.GetOperation(ctx, id)
			if gerr != nil || !ok {
				return Operation{}, &TransitionError{ID: id, From: from, To: to}
			}
			return Operation{}, &TransitionError{ID: id, From: cur.Status, To: to}
		}
		return Operation{}, fmt.Errorf("update bridge operation: %w", err)
	}

	t.logger.Info().Str("id", id).Str("status", to.String()).Str("reason", reason).Msg("bridge operation transitioned")
	t.notify(op)
	return op, nil
}

// allowed encodes the monotonic machine: Initiated -> Pending -> {Confirmed,
// Failed}. An initiated transfer may also fail directly when the bridge
// rejects it before anything is in flight. Terminal states never move.
func allowed(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusInitiated:
		return to == StatusPending || to == StatusFailed
	case StatusPending:
		return to == StatusConfirmed || to == StatusFailed
	default:
		return false
	}
}

func (t *Tracker) notify(op Operation) {
	if t.onTransition != nil {
		t.onTransition(op)
	}
}
