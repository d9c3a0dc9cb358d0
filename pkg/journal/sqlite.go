// Package journal durably mirrors session and order state to SQLite so an
// interrupted session can be reconstructed. It only records state the
// engine has already committed in memory; it never originates transitions.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/papertrade/pkg/paper"
)

// Session is one trading session row. EndedAt is nil while active.
type Session struct {
	ID            string
	StartedAt     time.Time
	EndedAt       *time.Time
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalFees     float64
	IsActive      bool
	OrderCounter  int
}

// Subscription is a persisted resume hint: an instrument that must be
// re-attached to the tick feed after restart.
type Subscription struct {
	Token  int64
	Symbol string
}

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal database at path and ensures
// the schema exists. An error here must block startup: starting with a
// silently empty store would violate the resume contract.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal %q: %w", path, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

// ==================== SESSIONS ====================

func (j *SQLite) CreateSession(id string, startedAt time.Time) error {
	_, err := j.db.Exec(`
		INSERT INTO sessions (id, started_at, is_active)
		VALUES (?, ?, 1)`,
		id, startedAt,
	)
	return err
}

// ActiveSession returns the single active session, or nil if none exists.
func (j *SQLite) ActiveSession() (*Session, error) {
	row := j.db.QueryRow(`
		SELECT id, started_at, realized_pnl, unrealized_pnl, total_fees, order_counter
		FROM sessions
		WHERE is_active = 1
		ORDER BY started_at DESC
		LIMIT 1`)

	var s Session
	err := row.Scan(&s.ID, &s.StartedAt, &s.RealizedPnL, &s.UnrealizedPnL, &s.TotalFees, &s.OrderCounter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.IsActive = true
	return &s, nil
}

// SessionByID looks up one session, or returns nil when no row matches.
func (j *SQLite) SessionByID(id string) (*Session, error) {
	row := j.db.QueryRow(`
		SELECT id, started_at, realized_pnl, unrealized_pnl, total_fees, is_active, order_counter
		FROM sessions
		WHERE id = ?`, id)

	var s Session
	err := row.Scan(&s.ID, &s.StartedAt, &s.RealizedPnL, &s.UnrealizedPnL, &s.TotalFees, &s.IsActive, &s.OrderCounter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// LatestSession returns the most recently started session regardless of
// whether it is still active, or nil when the journal is empty.
func (j *SQLite) LatestSession() (*Session, error) {
	row := j.db.QueryRow(`
		SELECT id, started_at, realized_pnl, unrealized_pnl, total_fees, is_active, order_counter
		FROM sessions
		ORDER BY started_at DESC
		LIMIT 1`)

	var s Session
	err := row.Scan(&s.ID, &s.StartedAt, &s.RealizedPnL, &s.UnrealizedPnL, &s.TotalFees, &s.IsActive, &s.OrderCounter)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (j *SQLite) CloseSession(id string, endedAt time.Time, realized, unrealized, totalFees float64) error {
	_, err := j.db.Exec(`
		UPDATE sessions
		SET is_active = 0,
		    ended_at = ?,
		    realized_pnl = ?,
		    unrealized_pnl = ?,
		    total_fees = ?
		WHERE id = ?`,
		endedAt, realized, unrealized, totalFees, id,
	)
	return err
}

// IncrementOrderCounter bumps the session's monotonic order counter.
// Called synchronously on every placement so a crash can never lead to a
// reused order id on resume.
func (j *SQLite) IncrementOrderCounter(id string) error {
	_, err := j.db.Exec(
		`UPDATE sessions SET order_counter = order_counter + 1 WHERE id = ?`, id)
	return err
}

func (j *SQLite) UpdateSessionPnL(id string, realized, unrealized, totalFees float64, orderCounter int) error {
	_, err := j.db.Exec(`
		UPDATE sessions
		SET realized_pnl = ?,
		    unrealized_pnl = ?,
		    total_fees = ?,
		    order_counter = ?
		WHERE id = ?`,
		realized, unrealized, totalFees, orderCounter, id,
	)
	return err
}

// ==================== ORDERS ====================

// SaveOrder inserts a new order row; replaying the same id only refreshes
// the status, so a resumed write-behind queue cannot clobber later state.
func (j *SQLite) SaveOrder(sessionID string, o paper.Order) error {
	_, err := j.db.Exec(`
		INSERT INTO orders (
			id, session_id, token, symbol, side, limit_price,
			quantity, lot_size, lots, status, validity,
			stop_loss, target, sl_order_type, placed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP`,
		o.ID, sessionID, o.Token, o.Symbol, string(o.Side), o.LimitPrice,
		o.Quantity, o.LotSize, o.Lots, string(o.Status), string(o.Validity),
		nullable(o.StopLoss), nullable(o.Target), o.SLOrderType, o.PlacedAt,
	)
	return err
}

// orderColumns is the set of fields UpdateOrder accepts; anything else in
// the update map is ignored rather than turned into SQL.
var orderColumns = map[string]bool{
	"status":      true,
	"limit_price": true,
	"quantity":    true,
	"lots":        true,
	"stop_loss":   true,
	"target":      true,
	"entry_price": true,
	"entry_time":  true,
	"entry_fees":  true,
	"exit_price":  true,
	"exit_time":   true,
	"exit_fees":   true,
	"exit_reason": true,
	"gross_pnl":   true,
	"net_pnl":     true,
	"ltp":         true,
}

// UpdateOrder applies a partial field update to one order row.
func (j *SQLite) UpdateOrder(orderID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	set := make([]string, 0, len(fields)+1)
	args := make([]any, 0, len(fields)+1)
	for col, val := range fields {
		if !orderColumns[col] {
			continue
		}
		set = append(set, col+" = ?")
		args = append(args, val)
	}
	if len(set) == 0 {
		return nil
	}

	set = append(set, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, orderID)

	query := "UPDATE orders SET " + strings.Join(set, ", ") + " WHERE id = ?"
	_, err := j.db.Exec(query, args...)
	return err
}

// OrdersByStatus returns a session's orders in any of the given statuses,
// oldest placement first.
func (j *SQLite) OrdersByStatus(sessionID string, statuses ...paper.Status) ([]*paper.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	marks := make([]string, len(statuses))
	args := []any{sessionID}
	for i, s := range statuses {
		marks[i] = "?"
		args = append(args, string(s))
	}

	rows, err := j.db.Query(`
		SELECT id, token, symbol, side, limit_price, quantity, lot_size, lots,
		       status, validity, stop_loss, target, sl_order_type,
		       entry_price, exit_price, ltp, placed_at, entry_time, exit_time,
		       exit_reason, entry_fees, exit_fees, gross_pnl, net_pnl
		FROM orders
		WHERE session_id = ? AND status IN (`+strings.Join(marks, ",")+`)
		ORDER BY placed_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*paper.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(rows *sql.Rows) (*paper.Order, error) {
	var (
		o          paper.Order
		side       string
		status     string
		validity   string
		stopLoss   sql.NullFloat64
		target     sql.NullFloat64
		placedAt   sql.NullTime
		entryTime  sql.NullTime
		exitTime   sql.NullTime
		exitReason sql.NullString
	)

	err := rows.Scan(
		&o.ID, &o.Token, &o.Symbol, &side, &o.LimitPrice, &o.Quantity, &o.LotSize, &o.Lots,
		&status, &validity, &stopLoss, &target, &o.SLOrderType,
		&o.EntryPrice, &o.ExitPrice, &o.LTP, &placedAt, &entryTime, &exitTime,
		&exitReason, &o.EntryFees, &o.ExitFees, &o.GrossPnL, &o.NetPnL,
	)
	if err != nil {
		return nil, err
	}

	o.Side = paper.Side(side)
	o.Status = paper.Status(status)
	o.Validity = paper.Validity(validity)
	if stopLoss.Valid {
		o.StopLoss = &stopLoss.Float64
	}
	if target.Valid {
		o.Target = &target.Float64
	}
	if placedAt.Valid {
		o.PlacedAt = placedAt.Time
	}
	if entryTime.Valid {
		o.EntryTime = entryTime.Time
	}
	if exitTime.Valid {
		o.ExitTime = exitTime.Time
	}
	if exitReason.Valid {
		o.ExitReason = exitReason.String
	}
	return &o, nil
}

// ==================== SUBSCRIPTIONS ====================

func (j *SQLite) SaveSubscription(sessionID string, token int64, symbol string) error {
	_, err := j.db.Exec(`
		INSERT INTO subscriptions (session_id, token, symbol)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id, token) DO UPDATE SET
			symbol = excluded.symbol`,
		sessionID, token, symbol,
	)
	return err
}

func (j *SQLite) Subscriptions(sessionID string) ([]Subscription, error) {
	rows, err := j.db.Query(
		`SELECT token, symbol FROM subscriptions WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.Token, &s.Symbol); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
