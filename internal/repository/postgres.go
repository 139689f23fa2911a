package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/model"
)

const ticketColumns = `serial, token, ticket_type_name, price, status, stub_color, print_batch_id,
	sold_at, used_at, used_by_device, created_at`

// uniqueViolation is the SQLSTATE PostgreSQL reports for a unique or primary key clash.
const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL using pgx directly.
type PostgresStore struct {
	logger *logrus.Logger
	db     *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(logger *logrus.Logger, db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{logger: logger, db: db}
}

func scanPgTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t              model.Ticket
		status         model.Status
		stubColor      *string
		batchID        *string
		soldAt, usedAt *time.Time
		device         *string
	)
	if err := row.Scan(&t.Serial, &t.Token, &t.TicketTypeName, &t.Price, &status, &stubColor, &batchID,
		&soldAt, &usedAt, &device, &t.CreatedAt); err != nil {
		return nil, err
	}
	state, err := model.StateFromColumns(status, soldAt, usedAt, device)
	if err != nil {
		return nil, fmt.Errorf("ticket %s: %w", t.Serial, err)
	}
	t.State = state
	t.StubColor = deref(stubColor)
	t.PrintBatchID = deref(batchID)
	return &t, nil
}

func (r *PostgresStore) getBy(ctx context.Context, column, value string) (*model.Ticket, error) {
	t, err := scanPgTicket(r.db.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.WithContext(ctx).WithError(err).Error("get ticket")
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// Get returns a ticket by serial or ErrNotFound.
func (r *PostgresStore) Get(ctx context.Context, serial string) (*model.Ticket, error) {
	return r.getBy(ctx, "serial", serial)
}

// GetByToken returns a ticket by its token via the unique token index.
func (r *PostgresStore) GetByToken(ctx context.Context, token string) (*model.Ticket, error) {
	return r.getBy(ctx, "token", token)
}

// CompareAndSet performs the status transition inside one transaction.
//
// SELECT … FOR UPDATE takes a row-level exclusive lock on the ticket. A second
// scan of the same serial blocks on that SELECT until the first transaction
// commits, and then reads the already-updated status. Scans of different
// serials lock different rows and never wait on each other.
func (r *PostgresStore) CompareAndSet(ctx context.Context, serial string, expected model.Status, next model.State) (*model.Ticket, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanPgTicket(tx.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE serial = $1 FOR UPDATE`, serial))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock ticket row: %w", err)
	}

	if current.Status() != expected {
		return nil, &ConflictError{Expected: expected, Current: *current}
	}

	status, soldAt, usedAt, device := model.Columns(next)
	_, err = tx.Exec(ctx,
		`UPDATE tickets
		 SET status = $2, sold_at = $3, used_at = $4, used_by_device = $5, updated_at = $6
		 WHERE serial = $1`,
		serial, status, soldAt, usedAt, device, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("update ticket status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	current.State = next
	return current, nil
}

// Insert writes all tickets in one transaction using a pgx batch.
func (r *PostgresStore) Insert(ctx context.Context, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, t := range tickets {
		status, soldAt, usedAt, device := model.Columns(t.State)
		batch.Queue(
			`INSERT INTO tickets
			 (serial, token, ticket_type_name, price, status, stub_color, print_batch_id,
			  sold_at, used_at, used_by_device, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.Serial, t.Token, t.TicketTypeName, t.Price, status, nullable(t.StubColor), nullable(t.PrintBatchID),
			soldAt, usedAt, device, t.CreatedAt, now,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range tickets {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return classifyPgInsert(err)
		}
	}
	if err := br.Close(); err != nil {
		return classifyPgInsert(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func classifyPgInsert(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		field := ""
		switch {
		case strings.Contains(pgErr.ConstraintName, "token"):
			field = "token"
		case strings.Contains(pgErr.ConstraintName, "email"):
			field = "email"
		case strings.Contains(pgErr.ConstraintName, "pkey"):
			field = "serial"
		}
		return &InsertConflictError{Field: field, Err: err}
	}
	return fmt.Errorf("insert: %w", err)
}

// List returns tickets matching filter, newest first, and the total match count.
func (r *PostgresStore) List(ctx context.Context, filter TicketFilter) ([]model.Ticket, int, error) {
	filter = filter.normalized()

	var conditions []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.BatchID != "" {
		add("print_batch_id = $%d", filter.BatchID)
	}
	if filter.TypeName != "" {
		add("ticket_type_name = $%d", filter.TypeName)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM tickets%s ORDER BY created_at DESC, serial LIMIT $%d OFFSET $%d`,
			ticketColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanPgTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, *t)
	}
	return tickets, total, rows.Err()
}

// CountByStatus uses the status index to count tickets per status.
func (r *PostgresStore) CountByStatus(ctx context.Context) (model.Stats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return model.Stats{}, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	var stats model.Stats
	for rows.Next() {
		var status model.Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return model.Stats{}, fmt.Errorf("scan count: %w", err)
		}
		addCount(&stats, status, n)
	}
	return stats, rows.Err()
}

// Delete removes one ticket. Administrative purge only.
func (r *PostgresStore) Delete(ctx context.Context, serial string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE serial = $1`, serial)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll removes every ticket and reports how many were removed.
func (r *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM tickets`)
	if err != nil {
		return 0, fmt.Errorf("delete tickets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreateBatch inserts a batch record.
func (r *PostgresStore) CreateBatch(ctx context.Context, b model.Batch) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO batches (id, ticket_count, design_id, created_at) VALUES ($1, $2, $3, $4)`,
		b.ID, b.TicketCount, nullable(b.DesignID), b.CreatedAt,
	)
	if err != nil {
		return classifyPgInsert(err)
	}
	return nil
}

// GetBatch returns a batch or ErrNotFound.
func (r *PostgresStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	var b model.Batch
	var design *string
	err := r.db.QueryRow(ctx,
		`SELECT id, ticket_count, design_id, created_at FROM batches WHERE id = $1`, id,
	).Scan(&b.ID, &b.TicketCount, &design, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	b.DesignID = deref(design)
	return &b, nil
}

// ListBatches returns all batches, newest first.
func (r *PostgresStore) ListBatches(ctx context.Context) ([]model.Batch, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, ticket_count, design_id, created_at FROM batches ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []model.Batch
	for rows.Next() {
		var b model.Batch
		var design *string
		if err := rows.Scan(&b.ID, &b.TicketCount, &design, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.DesignID = deref(design)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// CreateUser inserts an administrator.
func (r *PostgresStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, role, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.PasswordHash, nullable(u.Name), u.Role, u.CreatedAt,
	)
	if err != nil {
		return classifyPgInsert(err)
	}
	return nil
}

func (r *PostgresStore) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var u model.User
	var name *string
	err := r.db.QueryRow(ctx,
		`SELECT id, email, password_hash, name, role, created_at FROM users WHERE `+column+` = $1`, value,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &name, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Name = deref(name)
	return &u, nil
}

// GetUserByEmail returns a user or ErrNotFound.
func (r *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getUser(ctx, "email", email)
}

// GetUserByID returns a user or ErrNotFound.
func (r *PostgresStore) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return r.getUser(ctx, "id", id)
}

// CountUsers returns the number of administrators.
func (r *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
