package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ErrEventNotFound is returned by Get for an unknown id
var ErrEventNotFound = errors.New("audit event not found")

// DBSink appends audit events to the audit_logs table and serves searches.
// Rows are only ever inserted.
type DBSink struct {
	db     *sql.DB
	reader *sql.DB
}

// DBSinkOption configures a DBSink
type DBSinkOption func(*DBSink)

// WithReader routes searches to a separate pool, typically a read replica
func WithReader(reader *sql.DB) DBSinkOption {
	return func(s *DBSink) {
		if reader != nil {
			s.reader = reader
		}
	}
}

// NewDBSink creates a database-backed audit sink
func NewDBSink(db *sql.DB, opts ...DBSinkOption) (*DBSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	s := &DBSink{db: db, reader: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Write inserts the event and sets its id
func (s *DBSink) Write(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = data
	}

	query := `
		INSERT INTO audit_logs (
			user_id, session_id, action, resource_type, resource_id,
			old_values, new_values, metadata,
			ip_address, user_agent, request_id,
			success, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14
		) RETURNING id
	`

	err := s.db.QueryRowContext(ctx, query,
		event.UserID, event.SessionID, string(event.Action), string(event.ResourceType), event.ResourceID,
		nullJSON(event.OldValues), nullJSON(event.NewValues), nullJSON(metadataJSON),
		nullEmpty(event.IPAddress), nullEmpty(event.UserAgent), nullEmpty(event.RequestID),
		event.Success, nullEmpty(event.ErrorMessage), event.Timestamp,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

const eventColumns = `id, created_at, user_id, session_id, action, resource_type, resource_id,
			old_values, new_values, metadata, ip_address, user_agent, request_id, success, error_message`

// Search returns events matching the filter, newest first unless Ascending is set
func (s *DBSink) Search(ctx context.Context, filter Filter) ([]*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_logs WHERE 1=1`

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argCount)
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		args = append(args, pq.Array(actions))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.IPAddress != "" {
		query += fmt.Sprintf(" AND ip_address = $%d", argCount)
		args = append(args, filter.IPAddress)
		argCount++
	}

	if filter.Success != nil {
		query += fmt.Sprintf(" AND success = $%d", argCount)
		args = append(args, *filter.Success)
		argCount++
	}

	if filter.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Get returns a single event by id
func (s *DBSink) Get(ctx context.Context, id int64) (*Event, error) {
	row := s.reader.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_logs WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	return event, err
}

// Stats summarizes audit activity in a time range
type Stats struct {
	TotalEvents    int64            `json:"total_events"`
	Failures       int64            `json:"failures"`
	UniqueUsers    int64            `json:"unique_users"`
	UniqueIPs      int64            `json:"unique_ips"`
	EventsByAction map[Action]int64 `json:"events_by_action"`
	Start          *time.Time       `json:"start,omitempty"`
	End            *time.Time       `json:"end,omitempty"`
}

// Stats computes counts over [start, end)
func (s *DBSink) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	stats := &Stats{EventsByAction: make(map[Action]int64), Start: start, End: end}

	whereClause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if start != nil {
		whereClause += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *start)
		argCount++
	}
	if end != nil {
		whereClause += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, *end)
	}

	err := s.reader.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE NOT success),
		       COUNT(DISTINCT user_id),
		       COUNT(DISTINCT ip_address)
		FROM audit_logs %s`, whereClause), args...,
	).Scan(&stats.TotalEvents, &stats.Failures, &stats.UniqueUsers, &stats.UniqueIPs)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit totals: %w", err)
	}

	rows, err := s.reader.QueryContext(ctx,
		fmt.Sprintf("SELECT action, COUNT(*) FROM audit_logs %s GROUP BY action", whereClause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events by action: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action Action
		var count int64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.EventsByAction[action] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action counts: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var userID, sessionID, resourceID, ipAddress, userAgent, requestID, errorMessage sql.NullString
	var oldValues, newValues, metadata []byte

	err := row.Scan(
		&event.ID, &event.Timestamp, &userID, &sessionID, &event.Action, &event.ResourceType, &resourceID,
		&oldValues, &newValues, &metadata, &ipAddress, &userAgent, &requestID, &event.Success, &errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	if userID.Valid {
		event.UserID = &userID.String
	}
	if sessionID.Valid {
		event.SessionID = &sessionID.String
	}
	if resourceID.Valid {
		event.ResourceID = &resourceID.String
	}
	event.IPAddress = ipAddress.String
	event.UserAgent = userAgent.String
	event.RequestID = requestID.String
	event.ErrorMessage = errorMessage.String

	if len(oldValues) > 0 {
		event.OldValues = json.RawMessage(oldValues)
	}
	if len(newValues) > 0 {
		event.NewValues = json.RawMessage(newValues)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return event, nil
}

// nullJSON stores empty JSON as SQL NULL
func nullJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

func nullEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
