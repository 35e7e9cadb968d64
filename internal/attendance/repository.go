package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one attendance entry for GET /activities/:id/attendance.
type Row struct {
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	JoinedAt     time.Time  `json:"joined_at"`
	LeftAt       *time.Time `json:"left_at,omitempty"`
	WatchSeconds int64      `json:"watch_seconds"`
}

// Repository handles activity_session_logs and per-activity peak participant counts.
// Anonymous participants are not logged; only authenticated joins produce rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LogJoin inserts a row when an authenticated participant joins an activity room.
func (r *Repository) LogJoin(ctx context.Context, activityID string, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_session_logs (activity_id, user_id, joined_at) VALUES ($1, $2, NOW())`,
		activityID, userID)
	return err
}

// LogLeave closes the most recent open session for this user in this activity.
func (r *Repository) LogLeave(ctx context.Context, activityID string, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE activity_session_logs s
		 SET left_at = NOW(), watch_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - s.joined_at))::BIGINT)
		 FROM (SELECT id FROM activity_session_logs
		       WHERE activity_id = $1 AND user_id = $2 AND left_at IS NULL
		       ORDER BY joined_at DESC LIMIT 1) AS sub
		 WHERE s.id = sub.id`,
		activityID, userID)
	return err
}

// UpdatePeak raises the recorded peak participant count for an activity if count exceeds it.
func (r *Repository) UpdatePeak(ctx context.Context, activityID string, count int) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activity_stats (activity_id, peak_participants, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (activity_id) DO UPDATE
		 SET peak_participants = GREATEST(activity_stats.peak_participants, EXCLUDED.peak_participants), updated_at = NOW()`,
		activityID, count)
	return err
}

// GetPeak returns the recorded peak participant count (0 if never tracked).
func (r *Repository) GetPeak(ctx context.Context, activityID string) (int, error) {
	var peak int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(peak_participants), 0) FROM activity_stats WHERE activity_id = $1`,
		activityID).Scan(&peak)
	return peak, err
}

// ListByActivity returns attendance rows for an activity, newest first.
func (r *Repository) ListByActivity(ctx context.Context, activityID string) ([]Row, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, joined_at, left_at, watch_seconds
		 FROM activity_session_logs WHERE activity_id = $1 ORDER BY joined_at DESC`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Row
	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.UserID, &row.JoinedAt, &row.LeftAt, &row.WatchSeconds); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}
