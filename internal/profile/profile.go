package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Profile holds the per-address risk preferences consumed by alert evaluation.
type Profile struct {
	Address        string          `json:"address"`
	MaxRiskScore   decimal.Decimal `json:"max_risk_score"`
	PreferredYield decimal.Decimal `json:"preferred_yield"`
	AutoRebalance  bool            `json:"auto_rebalance"`
	LastRebalance  time.Time       `json:"last_rebalance"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Update carries a partial profile edit. Nil fields are left untouched.
type Update struct {
	MaxRiskScore   *decimal.Decimal `json:"max_risk_score"`
	PreferredYield *decimal.Decimal `json:"preferred_yield"`
	AutoRebalance  *bool            `json:"auto_rebalance"`
}

// ValidationError reports an out-of-range profile field. It is surfaced to the
// caller verbatim and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("profile field %s invalid: %s", e.Field, e.Reason)
}

// Validate rejects out-of-range values before any state is touched.
func (u Update) Validate() error {
	if u.MaxRiskScore != nil {
		if u.MaxRiskScore.IsNegative() || u.MaxRiskScore.GreaterThan(decimal.NewFromInt(100)) {
			return &ValidationError{Field: "max_risk_score", Reason: fmt.Sprintf("%s outside [0,100]", u.MaxRiskScore)}
		}
	}
	if u.PreferredYield != nil && u.PreferredYield.IsNegative() {
		return &ValidationError{Field: "preferred_yield", Reason: "must not be negative"}
	}
	return nil
}

// Repository is the persistence seam for profiles. The returned bool reports
// whether a stored profile existed for the address.
type Repository interface {
	GetProfile(ctx context.Context, address string) (Profile, bool, error)
	UpsertProfile(ctx context.Context, p Profile) error
}

// Defaults seeds a profile the first time an address is seen.
type Defaults struct {
	MaxRiskScore   decimal.Decimal
	PreferredYield decimal.Decimal
	AutoRebalance  bool
}

// Store implements lazy-default reads and validated partial updates.
type Store struct {
	repo     Repository
	defaults Defaults
	logger   zerolog.Logger
	now      func() time.Time
}

// NewStore wires a repository into a profile store.
func NewStore(repo Repository, defaults Defaults, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		defaults: defaults,
		logger:   logger.With().Str("component", "profile_store").Logger(),
		now:      time.Now,
	}
}

// Get returns the stored profile, or system defaults if the address has never
// written one. The default is not persisted until the first update.
func (s *Store) Get(ctx context.Context, address string) (Profile, error) {
	stored, ok, err := s.repo.GetProfile(ctx, address)
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if ok {
		return stored, nil
	}
	return s.defaultProfile(address), nil
}

// Update validates and merges the provided fields into the stored profile
// (or the lazy default) and persists the result. A failed validation leaves
// stored state untouched. Profile edits never move LastRebalance; only
// MarkRebalanced does.
func (s *Store) Update(ctx context.Context, address string, update Update) (Profile, error) {
	if err := update.Validate(); err != nil {
		return Profile{}, err
	}

	current, ok, err := s.repo.GetProfile(ctx, address)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile for update: %w", err)
	}
	if !ok {
		current = s.defaultProfile(address)
	}

	if update.MaxRiskScore != nil {
		current.MaxRiskScore = *update.MaxRiskScore
	}
	if update.PreferredYield != nil {
		current.PreferredYield = *update.PreferredYield
	}
	if update.AutoRebalance != nil {
		current.AutoRebalance = *update.AutoRebalance
	}
	current.UpdatedAt = s.now().UTC()

	if err := s.repo.UpsertProfile(ctx, current); err != nil {
		return Profile{}, fmt.Errorf("persist profile: %w", err)
	}

	s.logger.Debug().Str("address", address).Msg("profile updated")
	return current, nil
}

// MarkRebalanced stamps LastRebalance. It is called by the rebalancing
// consumer after an executed rebalance, never by profile edits.
func (s *Store) MarkRebalanced(ctx context.Context, address string, at time.Time) (Profile, error) {
	current, ok, err := s.repo.GetProfile(ctx, address)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile for rebalance stamp: %w", err)
	}
	if !ok {
		current = s.defaultProfile(address)
	}

	current.LastRebalance = at.UTC()
	current.UpdatedAt = s.now().UTC()
	if err := s.repo.UpsertProfile(ctx, current); err != nil {
		return Profile{}, fmt.Errorf("persist rebalance stamp: %w", err)
	}
	return current, nil
}

func (s *Store) defaultProfile(address string) Profile {
	return Profile{
		Address:        address,
		MaxRiskScore:   s.defaults.MaxRiskScore,
		PreferredYield: s.defaults.PreferredYield,
		AutoRebalance:  s.defaults.AutoRebalance,
	}
}
