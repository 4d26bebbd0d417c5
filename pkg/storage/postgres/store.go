package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

var tracer = observability.Tracer("storage/postgres")

// Postgres error codes mapped to auth sentinels
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on PostgreSQL.
// Writes and consistency-sensitive reads go to the primary; nothing here reads from
// replicas because lockout and grant checks must see their own writes.
type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
	metrics      *observability.Metrics
}

// Option configures a Store
type Option func(*Store)

// WithQueryTimeout bounds every statement
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

// WithMetrics records per-operation latency and errors
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store on db
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		queryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) (err error) {
	ctx, done := s.op(ctx, "ping")
	defer func() { done(err) }()
	return s.db.PingContext(ctx)
}

// op starts a bounded, traced store operation. The returned func must be called with
// the operation's final error.
func (s *Store) op(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	ctx, span := tracer.Start(ctx, "postgres."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", name)),
	)
	start := time.Now()

	return ctx, func(err error) {
		s.metrics.ObserveStore(name, start, unexpected(err))
		if unexpected(err) != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		cancel()
	}
}

// unexpected filters out not-found and conflict outcomes, which are answers rather than failures
func unexpected(err error) error {
	switch {
	case err == nil,
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrInvitationNotFound),
		errors.Is(err, auth.ErrInvitationNotPending),
		errors.Is(err, auth.ErrInvitationExpired),
		errors.Is(err, auth.ErrConflict):
		return nil
	default:
		return err
	}
}

// mapError converts driver errors into auth sentinels
func mapError(err error, action string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("failed to %s: %w (%s)", action, auth.ErrConflict, pqErr.Constraint)
		case pgForeignKeyViolation:
			return fmt.Errorf("failed to %s: %w (%s)", action, auth.ErrNotFound, pqErr.Constraint)
		}
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}

// withTx runs fn in a transaction, committing when it returns nil
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func marshalPermissions(p auth.PermissionSet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	return data, nil
}

func unmarshalPermissions(data []byte) (auth.PermissionSet, error) {
	var p auth.PermissionSet
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}
	return p, nil
}
