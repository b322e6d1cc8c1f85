package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/alert"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrAttemptNotFound indicates no delivery attempt matched the id.
	ErrAttemptNotFound = errors.New("storage: delivery attempt not found")
)

const (
	listActiveAlertsSQL = `SELECT
        id,
        symbol,
        direction,
        threshold,
        status,
        channel,
        target
    FROM alerts
    WHERE status = 'active'
      AND target_defunct = FALSE
    ORDER BY id;`

	markTargetDefunctSQL = `UPDATE alerts
    SET target_defunct = TRUE
    WHERE id = $1;`

	insertDeliveryAttemptSQL = `INSERT INTO delivery_attempts (
        id,
        alert_id,
        symbol,
        direction,
        threshold,
        price,
        target,
        title,
        body,
        status,
        error,
        error_kind,
        attempts,
        run_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	getDeliveryAttemptSQL = `SELECT
        id,
        alert_id,
        symbol,
        direction,
        threshold,
        price,
        target,
        title,
        body,
        status,
        error,
        error_kind,
        attempts,
        run_id,
        created_at
    FROM delivery_attempts
    WHERE id = $1;`

	listRecentDeliveryAttemptsSQL = `SELECT
        id,
        alert_id,
        symbol,
        direction,
        threshold,
        price,
        target,
        title,
        body,
        status,
        error,
        error_kind,
        attempts,
        run_id,
        created_at
    FROM delivery_attempts
    ORDER BY created_at DESC
    LIMIT $1;`

	listDeliveryAttemptsBetweenSQL = `SELECT
        id,
        alert_id,
        symbol,
        direction,
        threshold,
        price,
        target,
        title,
        body,
        status,
        error,
        error_kind,
        attempts,
        run_id,
        created_at
    FROM delivery_attempts
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	deleteDeliveryAttemptsBeforeSQL = `DELETE FROM delivery_attempts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore exposes the read side of the alert table the pipeline needs;
// the CRUD layer owns writes, except the defunct-target flag.
type AlertStore interface {
	ListActiveAlerts(ctx context.Context) ([]alert.Alert, error)
	MarkTargetDefunct(ctx context.Context, alertID string) error
}

// DeliveryLog is the durable append-only record of delivery attempts.
type DeliveryLog interface {
	InsertDeliveryAttempt(ctx context.Context, attempt DeliveryAttempt) error
	GetDeliveryAttempt(ctx context.Context, id uuid.UUID) (DeliveryAttempt, error)
	ListRecentDeliveryAttempts(ctx context.Context, limit int) ([]DeliveryAttempt, error)
	ListDeliveryAttemptsBetween(ctx context.Context, from, to time.Time) ([]DeliveryAttempt, error)
	DeleteDeliveryAttemptsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to alerts and the delivery log.
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

// ListActiveAlerts returns every alert eligible for evaluation.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]alert.Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		var (
			a            alert.Alert
			direction    string
			status       string
			thresholdStr string
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &direction, &thresholdStr, &status, &a.Channel, &a.Target); err != nil {
			return nil, err
		}

		threshold, convErr := decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold for alert %s: %w", a.ID, convErr)
		}
		a.Threshold = threshold
		a.Direction = alert.Direction(direction)
		a.Status = alert.Status(status)
		a.Symbol = alert.NormalizeSymbol(a.Symbol)
		alerts = append(alerts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// MarkTargetDefunct flags an alert whose push token the provider reported as
// permanently dead, so the CRUD layer stops offering it.
func (s *Store) MarkTargetDefunct(ctx context.Context, alertID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, markTargetDefunctSQL, alertID)
	if execErr != nil {
		return fmt.Errorf("mark target defunct: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertDeliveryAttempt appends one delivery record.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, attempt DeliveryAttempt) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	id := attempt.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var errMsg interface{}
	if attempt.Error != nil {
		errMsg = *attempt.Error
	}
	var errKind interface{}
	if attempt.ErrorKind != nil {
		errKind = *attempt.ErrorKind
	}

	_, execErr := pool.Exec(ctx, insertDeliveryAttemptSQL,
		id,
		attempt.AlertID,
		attempt.Symbol,
		attempt.Direction,
		attempt.Threshold.String(),
		attempt.Price.String(),
		attempt.Target,
		attempt.Title,
		attempt.Body,
		attempt.Status,
		errMsg,
		errKind,
		attempt.Attempts,
		attempt.RunID,
	)
	if execErr != nil {
		return fmt.Errorf("insert delivery attempt: %w", execErr)
	}
	return nil
}

// GetDeliveryAttempt fetches one record by id (manual replay path).
func (s *Store) GetDeliveryAttempt(ctx context.Context, id uuid.UUID) (DeliveryAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return DeliveryAttempt{}, err
	}

	attempt, scanErr := scanDeliveryAttempt(pool.QueryRow(ctx, getDeliveryAttemptSQL, id))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return DeliveryAttempt{}, ErrAttemptNotFound
		}
		return DeliveryAttempt{}, fmt.Errorf("get delivery attempt: %w", scanErr)
	}
	return attempt, nil
}

// ListRecentDeliveryAttempts lists the newest records first.
func (s *Store) ListRecentDeliveryAttempts(ctx context.Context, limit int) ([]DeliveryAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDeliveryAttemptsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent delivery attempts: %w", queryErr)
	}
	defer rows.Close()

	return collectDeliveryAttempts(rows, limit)
}

// ListDeliveryAttemptsBetween lists records within a time window, oldest first.
func (s *Store) ListDeliveryAttemptsBetween(ctx context.Context, from, to time.Time) ([]DeliveryAttempt, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeliveryAttemptsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list delivery attempts between: %w", queryErr)
	}
	defer rows.Close()

	return collectDeliveryAttempts(rows, 0)
}

// DeleteDeliveryAttemptsBefore prunes historical records.
func (s *Store) DeleteDeliveryAttemptsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteDeliveryAttemptsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete delivery attempts before: %w", execErr)
	}
	return nil
}

func collectDeliveryAttempts(rows pgx.Rows, sizeHint int) ([]DeliveryAttempt, error) {
	attempts := make([]DeliveryAttempt, 0, sizeHint)
	for rows.Next() {
		attempt, scanErr := scanDeliveryAttempt(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		attempts = append(attempts, attempt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return attempts, nil
}

func scanDeliveryAttempt(row pgx.Row) (DeliveryAttempt, error) {
	var (
		attempt      DeliveryAttempt
		thresholdStr string
		priceStr     string
		errMsg       sql.NullString
		errKind      sql.NullString
	)

	if err := row.Scan(
		&attempt.ID,
		&attempt.AlertID,
		&attempt.Symbol,
		&attempt.Direction,
		&thresholdStr,
		&priceStr,
		&attempt.Target,
		&attempt.Title,
		&attempt.Body,
		&attempt.Status,
		&errMsg,
		&errKind,
		&attempt.Attempts,
		&attempt.RunID,
		&attempt.CreatedAt,
	); err != nil {
		return DeliveryAttempt{}, err
	}

	threshold, err := decimal.NewFromString(thresholdStr)
	if err != nil {
		return DeliveryAttempt{}, fmt.Errorf("parse threshold: %w", err)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return DeliveryAttempt{}, fmt.Errorf("parse price: %w", err)
	}
	attempt.Threshold = threshold
	attempt.Price = price

	if errMsg.Valid {
		msg := errMsg.String
		attempt.Error = &msg
	}
	if errKind.Valid {
		kind := errKind.String
		attempt.ErrorKind = &kind
	}

	return attempt, nil
}
