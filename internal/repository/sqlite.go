package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
)

// SQLiteStore implements Store on SQLite through database/sql. It suits a
// single box-office machine running the whole system.
type SQLiteStore struct {
	logger *logrus.Logger
	db     *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore.
func NewSQLiteStore(logger *logrus.Logger, db *sql.DB) *SQLiteStore {
	return &SQLiteStore{logger: logger, db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLTicket(row scanner) (*model.Ticket, error) {
	var (
		t              model.Ticket
		status         string
		stubColor      sql.NullString
		batchID        sql.NullString
		soldAt, usedAt sql.NullTime
		device         sql.NullString
	)
	if err := row.Scan(&t.Serial, &t.Token, &t.TicketTypeName, &t.Price, &status, &stubColor, &batchID,
		&soldAt, &usedAt, &device, &t.CreatedAt); err != nil {
		return nil, err
	}

	var soldPtr, usedPtr *time.Time
	var devicePtr *string
	if soldAt.Valid {
		soldPtr = &soldAt.Time
	}
	if usedAt.Valid {
		usedPtr = &usedAt.Time
	}
	if device.Valid {
		devicePtr = &device.String
	}
	state, err := model.StateFromColumns(model.Status(status), soldPtr, usedPtr, devicePtr)
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", t.Serial, err)
	}
	t.State = state
	t.StubColor = stubColor.String
	t.PrintBatchID = batchID.String
	return &t, nil
}

func (r *SQLiteStore) getBy(ctx context.Context, column, value string) (*model.Ticket, error) {
	t, err := scanSQLTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = ?`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("get ticket")
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Get returns a ticket by serial or ErrNotFound.
func (r *SQLiteStore) Get(ctx context.Context, serial string) (*model.Ticket, error) {
	return r.getBy(ctx, "serial", serial)
}

// GetByToken returns a ticket by token or ErrNotFound.
func (r *SQLiteStore) GetByToken(ctx context.Context, token string) (*model.Ticket, error) {
	return r.getBy(ctx, "token", token)
}

// CompareAndSet is a single conditional UPDATE: the status check and the
// write happen in one statement, so SQLite applies it atomically. When no row
// changes, a follow-up read tells a missing ticket from a lost race.
func (r *SQLiteStore) CompareAndSet(ctx context.Context, serial string, expected model.Status, next model.State) (*model.Ticket, error) {
	status, soldAt, usedAt, device := model.Columns(next)
	res, err := r.db.ExecContext(ctx,
		`UPDATE tickets
		 SET status = ?, sold_at = ?, used_at = ?, used_by_device = ?, updated_at = ?
		 WHERE serial = ? AND status = ?`,
		string(status), soldAt, usedAt, device, time.Now().UTC(), serial, string(expected),
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	current, err := r.Get(ctx, serial)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &ConflictError{Expected: expected, Current: *current}
	}
	current.State = next
	return current, nil
}

// Insert writes all tickets in one transaction.
func (r *SQLiteStore) Insert(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tickets
		 (serial, token, ticket_type_name, price, status, stub_color, print_batch_id,
		  sold_at, used_at, used_by_device, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, t := range tickets {
		status, soldAt, usedAt, device := model.Columns(t.State)
		if _, err := stmt.ExecContext(ctx,
			t.Serial, t.Token, t.TicketTypeName, t.Price, string(status), nullable(t.StubColor), nullable(t.PrintBatchID),
			soldAt, usedAt, device, t.CreatedAt, now,
		); err != nil {
			return classifySQLiteInsert(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func classifySQLiteInsert(err error) error {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint &&
		(sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		msg := err.Error()
		field := ""
		switch {
		case strings.Contains(msg, "tickets.token"):
			field = "token"
		case strings.Contains(msg, "tickets.serial"):
			field = "serial"
		case strings.Contains(msg, "users.email"):
			field = "email"
		}
		return &InsertConflictError{Field: field, Err: err}
	}
	return fmt.Errorf("insert: %w", err)
}

// List returns tickets matching filter, newest first, and the total match count.
func (r *SQLiteStore) List(ctx context.Context, filter TicketFilter) ([]model.Ticket, int, error) {
	filter = filter.normalized()

	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.BatchID != "" {
		conditions = append(conditions, "print_batch_id = ?")
		args = append(args, filter.BatchID)
	}
	if filter.TypeName != "" {
		conditions = append(conditions, "ticket_type_name = ?")
		args = append(args, filter.TypeName)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tickets`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets`+where+` ORDER BY created_at DESC, serial LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanSQLTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, total, nil
}

// CountByStatus counts tickets per status.
func (r *SQLiteStore) CountByStatus(ctx context.Context) (model.Stats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	var stats model.Stats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.Stats{}, fmt.Errorf("scan count: %w", err)
		}
		addCount(&stats, model.Status(status), n)
	}
	return stats, rows.Err()
}

// Delete removes one ticket.
func (r *SQLiteStore) Delete(ctx context.Context, serial string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE serial = ?`, serial)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every ticket.
func (r *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tickets`)
	if err != nil {
		return 0, fmt.Errorf("delete tickets: %w", err)
	}
	return res.RowsAffected()
}

// CreateBatch inserts a batch record.
func (r *SQLiteStore) CreateBatch(ctx context.Context, b model.Batch) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batches (id, ticket_count, design_id, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.TicketCount, nullable(b.DesignID), b.CreatedAt,
	)
	if err != nil {
		return classifySQLiteInsert(err)
	}
	return nil
}

// GetBatch returns a batch or ErrNotFound.
func (r *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	var design sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, ticket_count, design_id, created_at FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.TicketCount, &design, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.DesignID = design.String
	return &b, nil
}

// ListBatches returns all batches, newest first.
func (r *SQLiteStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, ticket_count, design_id, created_at FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		var b model.Batch
		var design sql.NullString
		if err := rows.Scan(&b.ID, &b.TicketCount, &design, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.DesignID = design.String
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// CreateUser inserts an administrator.
func (r *SQLiteStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, name, role, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, nullable(u.Name), u.Role, u.CreatedAt,
	)
	if err != nil {
		return classifySQLiteInsert(err)
	}
	return nil
}

func (r *SQLiteStore) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var u model.User
	var name sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, name, role, created_at FROM users WHERE `+column+` = ?`, value,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &name, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Name = name.String
	return &u, nil
}

// GetUserByEmail returns a user or ErrNotFound.
func (r *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, "email", email)
}

// GetUserByID returns a user or ErrNotFound.
func (r *SQLiteStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.getUser(ctx, "id", id)
}

// CountUsers returns the number of administrators.
func (r *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
