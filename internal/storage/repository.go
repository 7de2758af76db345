package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/profile"
	"restake-risk-alerts/internal/risk"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrSampleNotFound reports a rescore targeting a missing sample row.
	ErrSampleNotFound = errors.New("storage: sample not found")
)

const (
	upsertProfileSQL = `INSERT INTO user_profiles (
        address,
        max_risk_score,
        preferred_yield,
        auto_rebalance,
        last_rebalance,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (address) DO UPDATE
    SET
        max_risk_score  = EXCLUDED.max_risk_score,
        preferred_yield = EXCLUDED.preferred_yield,
        auto_rebalance  = EXCLUDED.auto_rebalance,
        last_rebalance  = EXCLUDED.last_rebalance,
        updated_at      = EXCLUDED.updated_at;`

	getProfileSQL = `SELECT
        address,
        max_risk_score,
        preferred_yield,
        auto_rebalance,
        last_rebalance,
        updated_at
    FROM user_profiles
    WHERE address = $1;`

	insertAlertSQL = `INSERT INTO risk_alerts (
        id,
        severity,
        category,
        title,
        message,
        score,
        threshold,
        alert_ts,
        is_read,
        action_required,
        related_assets
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    );`

	markAlertReadSQL = `UPDATE risk_alerts
    SET is_read = TRUE
    WHERE id = $1;`

	listRecentAlertsSQL = `SELECT
        id,
        severity,
        category,
        title,
        message,
        score,
        threshold,
        alert_ts,
        is_read,
        action_required,
        related_assets
    FROM risk_alerts
    ORDER BY alert_ts DESC
    LIMIT $1;`

	insertOperationSQL = `INSERT INTO bridge_operations (
        id,
        user_address,
        token,
        amount,
        source_chain,
        target_chain,
        status,
        failure_reason,
        created_at,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	getOperationSQL = `SELECT
        id,
        user_address,
        token,
        amount,
        source_chain,
        target_chain,
        status,
        failure_reason,
        created_at,
        updated_at
    FROM bridge_operations
    WHERE id = $1;`

	updateOperationSQL = `UPDATE bridge_operations
    SET status         = $2,
        failure_reason = $3,
        updated_at     = $4
    WHERE id = $1
      AND status = $5;`

	operationExistsSQL = `SELECT EXISTS (SELECT 1 FROM bridge_operations WHERE id = $1);`

	listOperationsByStatusSQL = `SELECT
        id,
        user_address,
        token,
        amount,
        source_chain,
        target_chain,
        status,
        failure_reason,
        created_at,
        updated_at
    FROM bridge_operations
    WHERE status = $1
    ORDER BY created_at;`

	insertSampleSQL = `INSERT INTO risk_samples (
        asset,
        sampled_at,
        slashing,
        liquidity,
        smart_contract,
        market,
        composite,
        severity
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (asset, sampled_at) DO UPDATE
    SET
        slashing       = EXCLUDED.slashing,
        liquidity      = EXCLUDED.liquidity,
        smart_contract = EXCLUDED.smart_contract,
        market         = EXCLUDED.market,
        composite      = EXCLUDED.composite,
        severity       = EXCLUDED.severity;`

	listSamplesBetweenSQL = `SELECT
        asset,
        sampled_at,
        slashing,
        liquidity,
        smart_contract,
        market,
        composite,
        severity,
        created_at
    FROM risk_samples
    WHERE asset = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	listRecentSamplesSQL = `SELECT
        asset,
        sampled_at,
        slashing,
        liquidity,
        smart_contract,
        market,
        composite,
        severity,
        created_at
    FROM risk_samples
    WHERE asset = $1
    ORDER BY sampled_at DESC
    LIMIT $2;`

	updateSampleScoreSQL = `UPDATE risk_samples
    SET composite = $3, severity = $4
    WHERE asset = $1 AND sampled_at = $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM risk_samples WHERE asset = $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RiskSampleStore defines operations for score history persistence.
type RiskSampleStore interface {
	InsertSample(ctx context.Context, sample RiskSample) error
	ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]RiskSample, error)
	ListRecentSamples(ctx context.Context, asset string, limit int) ([]RiskSample, error)
	UpdateSampleScore(ctx context.Context, asset string, sampledAt time.Time, composite decimal.Decimal, severity string) error
	CountSamples(ctx context.Context, asset string) (int64, error)
}

// AlertHistoryStore extends the manager's sink with read access for the CLI.
type AlertHistoryStore interface {
	alerting.Store
	ListRecentAlerts(ctx context.Context, limit int) ([]alerting.Alert, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend aggregates every persistence concern the engine needs. Both the
// PostgreSQL store and the in-memory store satisfy it.
type Backend interface {
	profile.Repository
	bridge.Repository
	AlertHistoryStore
	RiskSampleStore
	AdvisoryLocker
	Close()
}

// Store is the PostgreSQL-backed Backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// GetProfile loads a user profile by address.
func (s *Store) GetProfile(ctx context.Context, address string) (profile.Profile, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return profile.Profile{}, false, err
	}

	row := pool.QueryRow(ctx, getProfileSQL, address)

	var (
		p            profile.Profile
		maxScoreStr  string
		prefYieldStr string
	)
	scanErr := row.Scan(
		&p.Address,
		&maxScoreStr,
		&prefYieldStr,
		&p.AutoRebalance,
		&p.LastRebalance,
		&p.UpdatedAt,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return profile.Profile{}, false, nil
		}
		return profile.Profile{}, false, fmt.Errorf("get profile: %w", scanErr)
	}

	if p.MaxRiskScore, err = decimal.NewFromString(maxScoreStr); err != nil {
		return profile.Profile{}, false, fmt.Errorf("parse max risk score: %w", err)
	}
	if p.PreferredYield, err = decimal.NewFromString(prefYieldStr); err != nil {
		return profile.Profile{}, false, fmt.Errorf("parse preferred yield: %w", err)
	}
	return p, true, nil
}

// UpsertProfile persists or updates a user profile.
func (s *Store) UpsertProfile(ctx context.Context, p profile.Profile) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertProfileSQL,
		p.Address,
		p.MaxRiskScore.String(),
		p.PreferredYield.String(),
		p.AutoRebalance,
		p.LastRebalance,
		p.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert profile: %w", execErr)
	}
	return nil
}

// InsertAlert persists an emitted alert.
func (s *Store) InsertAlert(ctx context.Context, a alerting.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		a.ID,
		a.Severity.String(),
		a.Category.String(),
		a.Title,
		a.Message,
		a.Score.String(),
		a.Threshold.String(),
		a.Timestamp,
		a.IsRead,
		a.ActionRequired,
		a.RelatedAssets,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// MarkAlertRead flags the stored alert as read.
func (s *Store) MarkAlertRead(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markAlertReadSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark alert read: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return alerting.ErrNotFound
	}
	return nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]alerting.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alerting.Alert, 0, limit)
	for rows.Next() {
		a, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// InsertOperation persists a newly initiated bridge operation.
func (s *Store) InsertOperation(ctx context.Context, op bridge.Operation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reason interface{}
	if op.FailureReason != "" {
		reason = op.FailureReason
	}

	_, execErr := pool.Exec(ctx, insertOperationSQL,
		op.ID,
		op.User,
		op.Token,
		op.Amount.String(),
		op.SourceChain,
		op.TargetChain,
		op.Status.String(),
		reason,
		op.CreatedAt,
		op.UpdatedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert bridge operation: %w", execErr)
	}
	return nil
}

// GetOperation loads a bridge operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (bridge.Operation, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return bridge.Operation{}, false, err
	}

	op, scanErr := scanOperation(pool.QueryRow(ctx, getOperationSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return bridge.Operation{}, false, nil
		}
		return bridge.Operation{}, false, fmt.Errorf("get bridge operation: %w", scanErr)
	}
	return op, true, nil
}

// UpdateOperation persists a status transition. The write is conditional on
// the stored status still matching from, so a racing transition cannot move
// an operation out of a terminal state.
func (s *Store) UpdateOperation(ctx context.Context, op bridge.Operation, from bridge.Status) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reason interface{}
	if op.FailureReason != "" {
		reason = op.FailureReason
	}

	cmdTag, execErr := pool.Exec(ctx, updateOperationSQL,
		op.ID,
		op.Status.String(),
		reason,
		op.UpdatedAt,
		from.String(),
	)
	if execErr != nil {
		return fmt.Errorf("update bridge operation: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if scanErr := pool.QueryRow(ctx, operationExistsSQL, op.ID).Scan(&exists); scanErr != nil {
			return fmt.Errorf("check bridge operation: %w", scanErr)
		}
		if !exists {
			return bridge.ErrNotFound
		}
		return bridge.ErrConflict
	}
	return nil
}

// ListOperationsByStatus lists operations in the given lifecycle state.
func (s *Store) ListOperationsByStatus(ctx context.Context, status bridge.Status) ([]bridge.Operation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOperationsByStatusSQL, status.String())
	if queryErr != nil {
		return nil, fmt.Errorf("list bridge operations: %w", queryErr)
	}
	defer rows.Close()

	ops := make([]bridge.Operation, 0)
	for rows.Next() {
		op, scanErr := scanOperation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		ops = append(ops, op)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ops, nil
}

// InsertSample persists or updates a scoring observation.
func (s *Store) InsertSample(ctx context.Context, sample RiskSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertSampleSQL,
		sample.Asset,
		sample.SampledAt,
		sample.Slashing.String(),
		sample.Liquidity.String(),
		sample.SmartContract.String(),
		sample.Market.String(),
		sample.Composite.String(),
		sample.Severity,
	)
	if execErr != nil {
		return fmt.Errorf("insert risk sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples for an asset within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]RiskSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RiskSample, 0)
	for rows.Next() {
		sample, scanErr := scanRiskSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// ListRecentSamples lists the most recent samples ordered by descending timestamp.
func (s *Store) ListRecentSamples(ctx context.Context, asset string, limit int) ([]RiskSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, asset, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]RiskSample, 0, limit)
	for rows.Next() {
		sample, scanErr := scanRiskSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// UpdateSampleScore rewrites the composite and severity of a stored sample.
func (s *Store) UpdateSampleScore(ctx context.Context, asset string, sampledAt time.Time, composite decimal.Decimal, severity string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateSampleScoreSQL, asset, sampledAt, composite.String(), severity)
	if execErr != nil {
		return fmt.Errorf("update sample score: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrSampleNotFound
	}
	return nil
}

// CountSamples counts stored samples for an asset.
func (s *Store) CountSamples(ctx context.Context, asset string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL, asset).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

func scanAlert(rows pgx.Rows) (alerting.Alert, error) {
	var (
		a            alerting.Alert
		severityStr  string
		categoryStr  string
		scoreStr     string
		thresholdStr string
	)
	if err := rows.Scan(
		&a.ID,
		&severityStr,
		&categoryStr,
		&a.Title,
		&a.Message,
		&scoreStr,
		&thresholdStr,
		&a.Timestamp,
		&a.IsRead,
		&a.ActionRequired,
		&a.RelatedAssets,
	); err != nil {
		return alerting.Alert{}, err
	}

	var err error
	if a.Severity, err = risk.ParseSeverity(severityStr); err != nil {
		return alerting.Alert{}, fmt.Errorf("parse severity: %w", err)
	}
	if a.Category, err = risk.ParseCategory(categoryStr); err != nil {
		return alerting.Alert{}, fmt.Errorf("parse category: %w", err)
	}
	if a.Score, err = decimal.NewFromString(scoreStr); err != nil {
		return alerting.Alert{}, fmt.Errorf("parse score: %w", err)
	}
	if a.Threshold, err = decimal.NewFromString(thresholdStr); err != nil {
		return alerting.Alert{}, fmt.Errorf("parse threshold: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (bridge.Operation, error) {
	var (
		op        bridge.Operation
		amountStr string
		statusStr string
		reason    sql.NullString
	)
	if err := row.Scan(
		&op.ID,
		&op.User,
		&op.Token,
		&amountStr,
		&op.SourceChain,
		&op.TargetChain,
		&statusStr,
		&reason,
		&op.CreatedAt,
		&op.UpdatedAt,
	); err != nil {
		return bridge.Operation{}, err
	}

	var err error
	if op.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return bridge.Operation{}, fmt.Errorf("parse amount: %w", err)
	}
	if op.Status, err = bridge.ParseStatus(statusStr); err != nil {
		return bridge.Operation{}, err
	}
	if reason.Valid {
		op.FailureReason = reason.String
	}
	return op, nil
}

func scanRiskSample(rows pgx.Rows) (RiskSample, error) {
	var (
		sample           RiskSample
		slashingStr      string
		liquidityStr     string
		smartContractStr string
		marketStr        string
		compositeStr     string
	)
	if err := rows.Scan(
		&sample.Asset,
		&sample.SampledAt,
		&slashingStr,
		&liquidityStr,
		&smartContractStr,
		&marketStr,
		&compositeStr,
		&sample.Severity,
		&sample.CreatedAt,
	); err != nil {
		return RiskSample{}, err
	}

	var err error
	if sample.Slashing, err = decimal.NewFromString(slashingStr); err != nil {
		return RiskSample{}, fmt.Errorf("parse slashing: %w", err)
	}
	if sample.Liquidity, err = decimal.NewFromString(liquidityStr); err != nil {
		return RiskSample{}, fmt.Errorf("parse liquidity: %w", err)
	}
	if sample.SmartContract, err = decimal.NewFromString(smartContractStr); err != nil {
		return RiskSample{}, fmt.Errorf("parse smart contract: %w", err)
	}
	if sample.Market, err = decimal.NewFromString(marketStr); err != nil {
		return RiskSample{}, fmt.Errorf("parse market: %w", err)
	}
	if sample.Composite, err = decimal.NewFromString(compositeStr); err != nil {
		return RiskSample{}, fmt.Errorf("parse composite: %w", err)
	}
	return sample, nil
}
