package tracker

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/perptrack/internal/database"
	"github.com/aristath/perptrack/internal/domain"
)

// StatusRepository persists tracker health into the read store so the API
// can answer /api/trackers without touching the runtime.
type StatusRepository struct {
	db  *database.DB
	log zerolog.Logger
}

func NewStatusRepository(db *database.DB, log zerolog.Logger) *StatusRepository {
	return &StatusRepository{
		db:  db,
		log: log.With().Str("component", "tracker_status").Logger(),
	}
}

func (r *StatusRepository) Upsert(st domain.TrackerStatus) error {
	var lastMessageAt sql.NullInt64
	if st.LastMessageAt != nil {
		lastMessageAt = sql.NullInt64{Int64: *st.LastMessageAt, Valid: true}
	}
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO tracker_status
			(exchange, state, last_message_at, last_error, reconnect_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		st.Exchange, string(st.State), lastMessageAt, st.LastError, st.ReconnectCount, st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tracker status for %s: %w", st.Exchange, err)
	}
	return nil
}

func (r *StatusRepository) All() ([]domain.TrackerStatus, error) {
	rows, err := r.db.Query(`
		SELECT exchange, state, last_message_at, last_error, reconnect_count, updated_at
		FROM tracker_status
		ORDER BY exchange`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracker statuses: %w", err)
	}
	defer rows.Close()

	var statuses []domain.TrackerStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (r *StatusRepository) Get(exchange string) (domain.TrackerStatus, bool, error) {
	rows, err := r.db.Query(`
		SELECT exchange, state, last_message_at, last_error, reconnect_count, updated_at
		FROM tracker_status
		WHERE exchange = ?`, exchange)
	if err != nil {
		return domain.TrackerStatus{}, false, fmt.Errorf("failed to query tracker status for %s: %w", exchange, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return domain.TrackerStatus{}, false, rows.Err()
	}
	st, err := scanStatus(rows)
	if err != nil {
		return domain.TrackerStatus{}, false, err
	}
	return st, true, nil
}

func scanStatus(rows *sql.Rows) (domain.TrackerStatus, error) {
	var (
		st            domain.TrackerStatus
		state         string
		lastMessageAt sql.NullInt64
		lastError     sql.NullString
	)
	if err := rows.Scan(&st.Exchange, &state, &lastMessageAt, &lastError, &st.ReconnectCount, &st.UpdatedAt); err != nil {
		return domain.TrackerStatus{}, fmt.Errorf("failed to scan tracker status: %w", err)
	}
	st.State = domain.TrackerState(state)
	if lastMessageAt.Valid {
		at := lastMessageAt.Int64
		st.LastMessageAt = &at
	}
	st.LastError = lastError.String
	return st, nil
}
