package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type memRepo struct {
	mu  sync.Mutex
	ops map[string]Operation
}

func newMemRepo() *memRepo {
	return &memRepo{ops: make(map[string]Operation)}
}

func (r *memRepo) InsertOperation(_ context.Context, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op.ID] = op
	return nil
}

func (r *memRepo) GetOperation(_ context.Context, id string) (Operation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	return op, ok, nil
}

func (r *memRepo) UpdateOperation(_ context.Context, op Operation, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.ops[op.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != from {
		return ErrConflict
	}
	r.ops[op.ID] = op
	return nil
}

func (r *memRepo) ListOperationsByStatus(_ context.Context, status Status) ([]Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Operation
	for _, op := range r.ops {
		if op.Status == status {
			out = append(out, op)
		}
	}
	return out, nil
}

func newTestTracker(timeout time.Duration) (*Tracker, *memRepo) {
	repo := newMemRepo()
	return NewTracker(repo, timeout, zerolog.Nop()), repo
}

func initiate(t *testing.T, tracker *Tracker) Operation {
	t.Helper()
	op, err := tracker.Initiate(context.Background(), "0xuser", "stETH", decimal.NewFromInt(10), "ethereum", "arbitrum")
	if err != nil {
		t.Fatalf("initiate should succeed: %v", err)
	}
	return op
}

func TestLifecycleHappyPath(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)
	op := initiate(t, tracker)

	if op.Status != StatusInitiated {
		t.Fatalf("new operation should be initiated, got %s", op.Status)
	}

	op, err := tracker.MarkPending(context.Background(), op.ID)
	if err != nil || op.Status != StatusPending {
		t.Fatalf("mark pending: status=%s err=%v", op.Status, err)
	}

	op, err = tracker.Confirm(context.Background(), op.ID)
	if err != nil || op.Status != StatusConfirmed {
		t.Fatalf("confirm: status=%s err=%v", op.Status, err)
	}
}

func TestTerminalStatesNeverMove(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)
	op := initiate(t, tracker)

	if _, err := tracker.MarkPending(context.Background(), op.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	if _, err := tracker.Confirm(context.Background(), op.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	var terr *TransitionError
	if _, err := tracker.Fail(context.Background(), op.ID, "late signal"); !errors.As(err, &terr) {
		t.Fatalf("confirmed operation must not fail afterwards, got %v", err)
	}
	if _, err := tracker.MarkPending(context.Background(), op.ID); !errors.As(err, &terr) {
		t.Fatalf("confirmed operation must not regress to pending, got %v", err)
	}

	current, err := tracker.Status(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if current.Status != StatusConfirmed {
		t.Fatalf("status should remain confirmed, got %s", current.Status)
	}
}

func TestPendingTimesOutDeterministically(t *testing.T) {
	tracker, _ := newTestTracker(10 * time.Minute)

	current := time.Unix(1_700_000_000, 0)
	tracker.now = func() time.Time { return current }

	op := initiate(t, tracker)
	if _, err := tracker.MarkPending(context.Background(), op.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}

	// Inside the window nothing expires.
	current = current.Add(5 * time.Minute)
	if expired, err := tracker.ExpirePending(context.Background()); err != nil || expired != 0 {
		t.Fatalf("nothing should expire inside the window: expired=%d err=%v", expired, err)
	}

	current = current.Add(10 * time.Minute)
	expired, err := tracker.ExpirePending(context.Background())
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if expired != 1 {
		t.Fatalf("one operation should expire, got %d", expired)
	}

	final, err := tracker.Status(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != StatusFailed || final.FailureReason != ReasonTimeout {
		t.Fatalf("timed-out operation should be failed(timeout), got %s(%s)", final.Status, final.FailureReason)
	}
}

func TestInitiateValidation(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	if _, err := tracker.Initiate(context.Background(), "0xuser", "stETH", decimal.Zero, "ethereum", "arbitrum"); err == nil {
		t.Fatal("zero amount must be rejected")
	}
	if _, err := tracker.Initiate(context.Background(), "0xuser", "stETH", decimal.NewFromInt(1), "ethereum", "ethereum"); err == nil {
		t.Fatal("same source and target chain must be rejected")
	}
}

func TestStatusUnknownID(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)
	if _, err := tracker.Status(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id should yield ErrNotFound, got %v", err)
	}
}

func TestTransitionObserver(t *testing.T) {
	tracker, _ := newTestTracker(time.Hour)

	var seen []Status
	tracker.OnTransition(func(op Operation) { seen = append(seen, op.Status) })

	op := initiate(t, tracker)
	if _, err := tracker.MarkPending(context.Background(), op.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}
	if _, err := tracker.Confirm(context.Background(), op.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	want := []Status{StatusInitiated, StatusPending, StatusConfirmed}
	if len(seen) != len(want) {
		t.Fatalf("observer should see %d transitions, saw %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d should be %s, got %s", i, want[i], seen[i])
		}
	}
}

// hookRepo lets a test run competing work between a transition's read and its
// conditional write.
type hookRepo struct {
	*memRepo
	beforeUpdate func()
}

func (r *hookRepo) UpdateOperation(ctx context.Context, op Operation, from Status) error {
	if r.beforeUpdate != nil {
		hook := r.beforeUpdate
		r.beforeUpdate = nil
		hook()
	}
	return r.memRepo.UpdateOperation(ctx, op, from)
}

func TestRacingTransitionCannotLeaveTerminalState(t *testing.T) {
	repo := &hookRepo{memRepo: newMemRepo()}
	tracker := NewTracker(repo, time.Hour, zerolog.Nop())

	op := initiate(t, tracker)
	if _, err := tracker.MarkPending(context.Background(), op.ID); err != nil {
		t.Fatalf("mark pending: %v", err)
	}

	// Both sides observe Pending; the timeout sweep's Fail commits first,
	// between Confirm's read and its write.
	repo.beforeUpdate = func() {
		if _, err := tracker.Fail(context.Background(), op.ID, ReasonTimeout); err != nil {
			t.Fatalf("competing fail: %v", err)
		}
	}

	var terr *TransitionError
	if _, err := tracker.Confirm(context.Background(), op.ID); !errors.As(err, &terr) {
		t.Fatalf("late confirm must lose the race with a TransitionError, got %v", err)
	}
	if terr.From != StatusFailed {
		t.Fatalf("transition error should report the committed state, got from=%s", terr.From)
	}

	final, err := tracker.Status(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if final.Status != StatusFailed || final.FailureReason != ReasonTimeout {
		t.Fatalf("terminal failed(timeout) must survive, got %s(%s)", final.Status, final.FailureReason)
	}
}
