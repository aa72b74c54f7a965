package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

func (s *Store) CreateRequestLog(ctx context.Context, item RequestLog) (int64, error) {
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO request_log
	(request_id, service, method, remote_addr, username, auth_result, status, fault_subcode, request_bytes, response_bytes, duration_ms, raw_body, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.RequestID,
		item.Service,
		item.Method,
		item.RemoteAddr,
		item.Username,
		item.AuthResult,
		item.Status,
		item.FaultSubcode,
		item.RequestBytes,
		item.ResponseBytes,
		item.DurationMS,
		item.RawBody,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) ListRequestLogs(ctx context.Context, query RequestLogQuery) ([]RequestLog, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	filter := "WHERE 1=1"
	args := make([]any, 0, 4)
	if value := strings.TrimSpace(query.Service); value != "" {
		filter += " AND service = ?"
		args = append(args, value)
	}
	if value := strings.TrimSpace(query.Method); value != "" {
		filter += " AND method = ? COLLATE NOCASE"
		args = append(args, value)
	}
	if value := strings.TrimSpace(query.Status); value != "" {
		filter += " AND status = ?"
		args = append(args, value)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `SELECT id, request_id, service, method, remote_addr, username, auth_result, status, fault_subcode, request_bytes, response_bytes, duration_ms, raw_body, created_at
	FROM request_log `+filter+` ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]RequestLog, 0, limit)
	for rows.Next() {
		var item RequestLog
		var createdAt string
		if err := rows.Scan(&item.ID, &item.RequestID, &item.Service, &item.Method, &item.RemoteAddr, &item.Username,
			&item.AuthResult, &item.Status, &item.FaultSubcode, &item.RequestBytes, &item.ResponseBytes, &item.DurationMS, &item.RawBody, &createdAt); err != nil {
			return nil, err
		}
		item.CreatedAt = parseSQLiteTime(createdAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetRequestLog(ctx context.Context, id int64) (*RequestLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, request_id, service, method, remote_addr, username, auth_result, status, fault_subcode, request_bytes, response_bytes, duration_ms, raw_body, created_at
	FROM request_log WHERE id=?`, id)
	var item RequestLog
	var createdAt string
	if err := row.Scan(&item.ID, &item.RequestID, &item.Service, &item.Method, &item.RemoteAddr, &item.Username,
		&item.AuthResult, &item.Status, &item.FaultSubcode, &item.RequestBytes, &item.ResponseBytes, &item.DurationMS, &item.RawBody, &createdAt); err != nil {
		return nil, err
	}
	item.CreatedAt = parseSQLiteTime(createdAt)
	return &item, nil
}

// RequestLogStats groups the log by service and method.
func (s *Store) RequestLogStats(ctx context.Context) ([]RequestLogStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service, method, COUNT(1), SUM(CASE WHEN status = 'fault' THEN 1 ELSE 0 END)
	FROM request_log GROUP BY service, method ORDER BY service, method`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]RequestLogStats, 0, 16)
	for rows.Next() {
		var item RequestLogStats
		if err := rows.Scan(&item.Service, &item.Method, &item.Total, &item.Faults); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PruneRequestLogs deletes entries created before cutoff and returns how many went.
func (s *Store) PruneRequestLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM request_log WHERE created_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	return affected, err
}

func parseSQLiteTime(raw string) time.Time {
	layoutCandidates := []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00"}
	for _, layout := range layoutCandidates {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}
