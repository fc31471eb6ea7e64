package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const notificationColumns = `id, recipient, message, metadata, type, priority, status, retry_count,
	provider_response, error, created_at, updated_at, sent_at, failed_at`

// SQLiteNotificationStore implements NotificationStore backed by SQLite.
type SQLiteNotificationStore struct {
	db *sql.DB
}

// NewSQLiteNotificationStore returns a new SQLiteNotificationStore.
func NewSQLiteNotificationStore(db *sql.DB) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{db: db}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts a new notification record.
func (s *SQLiteNotificationStore) Create(ctx context.Context, n *Notification) (err error) {
	if n.ID == "" {
		return fmt.Errorf("notification id is required")
	}

	metadata, providerResponse, err := encodeJSONColumns(n)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications WHERE id = ?", n.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking notification id: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("creating notification %q: %w", n.ID, ErrDuplicateID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Recipient, n.Message, metadata, string(n.Type), string(n.Priority), string(n.Status),
		n.RetryCount, providerResponse, n.Error, toMillis(n.CreatedAt), toMillis(n.UpdatedAt),
		nullMillis(n.SentAt), nullMillis(n.FailedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// Update applies patch to the record inside a single transaction.
func (s *SQLiteNotificationStore) Update(ctx context.Context, id string, patch NotificationPatch) (_ *Notification, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	n, err := scanNotification(tx.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("updating notification %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if patch.ExpectStatus != nil && n.Status != *patch.ExpectStatus {
		return nil, fmt.Errorf("notification %q is %s, expected %s: %w",
			id, n.Status, *patch.ExpectStatus, ErrStatusConflict)
	}

	applyPatch(n, patch, time.Now().UTC())

	metadata, providerResponse, err := encodeJSONColumns(n)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE notifications
		SET metadata = ?, status = ?, retry_count = ?, provider_response = ?, error = ?,
		    updated_at = ?, sent_at = ?, failed_at = ?
		WHERE id = ?`,
		metadata, string(n.Status), n.RetryCount, providerResponse, n.Error,
		toMillis(n.UpdatedAt), nullMillis(n.SentAt), nullMillis(n.FailedAt), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating notification %q: %w", id, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return n, nil
}

// applyPatch merges patch into n. Clear flags win over values for the same field.
func applyPatch(n *Notification, p NotificationPatch, now time.Time) {
	if p.Status != nil {
		n.Status = *p.Status
	}
	if p.ProviderResponse != nil {
		resp := *p.ProviderResponse
		n.ProviderResponse = &resp
	}
	if p.Error != nil {
		n.Error = *p.Error
	}
	if p.SentAt != nil {
		t := p.SentAt.UTC()
		n.SentAt = &t
	}
	if p.FailedAt != nil {
		t := p.FailedAt.UTC()
		n.FailedAt = &t
	}
	if p.IncrementRetry {
		n.RetryCount++
	}
	if p.ClearProviderResponse {
		n.ProviderResponse = nil
	}
	if p.ClearError {
		n.Error = ""
	}
	if p.ClearSentAt {
		n.SentAt = nil
	}
	if p.ClearFailedAt {
		n.FailedAt = nil
	}
	n.UpdatedAt = now
}

// Get returns the notification with the given id, or nil if it does not exist.
func (s *SQLiteNotificationStore) Get(ctx context.Context, id string) (*Notification, error) {
	n, err := scanNotification(s.db.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// List returns records matching filter ordered by created_at descending,
// together with the total number of matches ignoring pagination.
func (s *SQLiteNotificationStore) List(ctx context.Context, filter NotificationFilter) ([]*Notification, int, error) {
	filter.Normalize()
	where, args := buildFilter(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting notifications: %w", err)
	}

	pageArgs := append(append([]any{}, args...), filter.Limit, filter.Offset)
	list, err := s.query(ctx,
		"SELECT "+notificationColumns+" FROM notifications"+where+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListByStatus returns records in status whose updated_at precedes
// updatedBefore, oldest first.
func (s *SQLiteNotificationStore) ListByStatus(ctx context.Context, status NotificationStatus, updatedBefore time.Time) ([]*Notification, error) {
	return s.query(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE status = ? AND updated_at < ?"+
			" ORDER BY created_at ASC, id ASC",
		string(status), toMillis(updatedBefore))
}

// Stats aggregates records created within the trailing window. A
// non-positive window covers every record.
func (s *SQLiteNotificationStore) Stats(ctx context.Context, window time.Duration) (*NotificationStats, error) {
	var since time.Time
	if window > 0 {
		since = time.Now().UTC().Add(-window)
	} else {
		since = time.Unix(0, 0).UTC()
	}
	sinceMS := toMillis(since)

	stats := &NotificationStats{
		WindowStart: since,
		ByStatus:    make(map[NotificationStatus]int),
		ByType:      make(map[NotificationType]int),
	}

	if err := s.countGrouped(ctx, "status", sinceMS, func(key string, c int) {
		stats.ByStatus[NotificationStatus(key)] = c
		stats.Total += c
	}); err != nil {
		return nil, err
	}
	if err := s.countGrouped(ctx, "type", sinceMS, func(key string, c int) {
		stats.ByType[NotificationType(key)] = c
	}); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG((sent_at - created_at) / 1000.0)
		FROM notifications
		WHERE created_at >= ? AND sent_at IS NOT NULL`, sinceMS).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("computing time to sent: %w", err)
	}
	if avg.Valid {
		stats.AvgTimeToSentSeconds = round2(avg.Float64)
	}

	if stats.Total > 0 {
		stats.SuccessRate = round2(float64(stats.ByStatus[StatusSent]) / float64(stats.Total) * 100)
		stats.FailureRate = round2(float64(stats.ByStatus[StatusFailed]) / float64(stats.Total) * 100)
	}
	return stats, nil
}

// countGrouped runs a COUNT(*) grouped by column over the window.
// column is always a trusted identifier.
func (s *SQLiteNotificationStore) countGrouped(ctx context.Context, column string, sinceMS int64, fn func(string, int)) (err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM notifications WHERE created_at >= ? GROUP BY "+column, sinceMS)
	if err != nil {
		return fmt.Errorf("counting by %s: %w", column, err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	for rows.Next() {
		var key string
		var c int
		if err := rows.Scan(&key, &c); err != nil {
			return fmt.Errorf("scanning %s count: %w", column, err)
		}
		fn(key, c)
	}
	return rows.Err()
}

// PurgeOlderThan deletes records created before now-age.
func (s *SQLiteNotificationStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("purge age must be positive, got %s", age)
	}
	cutoff := time.Now().UTC().Add(-age)
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE created_at < ?", toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading purge count: %w", err)
	}
	return n, nil
}

func (s *SQLiteNotificationStore) query(ctx context.Context, q string, args ...any) (_ []*Notification, err error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cerr)
		}
	}()

	list := make([]*Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return list, nil
}

// buildFilter renders filter as a WHERE clause (with leading space) and its args.
func buildFilter(f NotificationFilter) (string, []any) {
	var conds []string
	var args []any

	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Recipient != "" {
		conds = append(conds, `LOWER(recipient) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(f.Recipient))+"%")
	}
	if f.CreatedFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, toMillis(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, toMillis(*f.CreatedTo))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func scanNotification(row rowScanner) (*Notification, error) {
	var (
		n                  Notification
		typ, prio, status  string
		metadata           string
		providerResponse   sql.NullString
		createdAt, updated int64
		sentAt, failedAt   sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.Recipient, &n.Message, &metadata, &typ, &prio, &status, &n.RetryCount,
		&providerResponse, &n.Error, &createdAt, &updated, &sentAt, &failedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning notification row: %w", err)
	}

	n.Type = NotificationType(typ)
	n.Priority = Priority(prio)
	n.Status = NotificationStatus(status)
	n.CreatedAt = fromMillis(createdAt)
	n.UpdatedAt = fromMillis(updated)
	n.SentAt = timePtr(sentAt)
	n.FailedAt = timePtr(failedAt)

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &n.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata of %q: %w", n.ID, err)
		}
	}
	if providerResponse.Valid && providerResponse.String != "" {
		var resp DeliveryResult
		if err := json.Unmarshal([]byte(providerResponse.String), &resp); err != nil {
			return nil, fmt.Errorf("decoding provider response of %q: %w", n.ID, err)
		}
		n.ProviderResponse = &resp
	}
	return &n, nil
}

func encodeJSONColumns(n *Notification) (string, sql.NullString, error) {
	metadata := "{}"
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(b)
	}

	var providerResponse sql.NullString
	if n.ProviderResponse != nil {
		b, err := json.Marshal(n.ProviderResponse)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encoding provider response: %w", err)
		}
		providerResponse = sql.NullString{String: string(b), Valid: true}
	}
	return metadata, providerResponse, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
