package activities

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arts-tech-lab/backend/internal/models"
)

// ErrNotFound is returned when an activity does not exist.
var ErrNotFound = errors.New("activity not found")

// Repository handles activity persistence. It is the authoritative source for
// activity definitions and the Live flag; live room state never touches it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activities repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new activity with its questions.
func (r *Repository) Create(ctx context.Context, a *models.Activity, questions []models.ActivityQuestion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO activities (title, description, created_by)
		VALUES ($1, NULLIF($2, ''), $3)
		RETURNING id, live, created_at, updated_at`
	if err := tx.QueryRow(ctx, q, a.Title, a.Description, a.CreatedBy).
		Scan(&a.ID, &a.Live, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return err
	}

	for i := range questions {
		questions[i].ActivityID = a.ID
		questions[i].Position = i
		opts, err := json.Marshal(questions[i].Options)
		if err != nil {
			return err
		}
		const qq = `INSERT INTO activity_questions (activity_id, position, prompt, kind, options)
			VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
		if err := tx.QueryRow(ctx, qq, a.ID, i, questions[i].Prompt, string(questions[i].Kind), opts).
			Scan(&questions[i].ID, &questions[i].CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetByID returns an activity by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Activity, error) {
	const q = `SELECT id, title, COALESCE(description,''), live, created_by, created_at, updated_at
		FROM activities WHERE id = $1`
	var a models.Activity
	err := r.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.Title, &a.Description, &a.Live, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns all activities, newest first.
func (r *Repository) List(ctx context.Context) ([]models.Activity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, COALESCE(description,''), live, created_by, created_at, updated_at
		 FROM activities ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Activity
	for rows.Next() {
		var a models.Activity
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Live, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// ListQuestions returns an activity's questions ordered by position.
func (r *Repository) ListQuestions(ctx context.Context, activityID string) ([]models.ActivityQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, activity_id, position, prompt, kind, options, created_at
		 FROM activity_questions WHERE activity_id = $1 ORDER BY position`,
		activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ActivityQuestion
	for rows.Next() {
		var q models.ActivityQuestion
		var kind string
		var opts []byte
		if err := rows.Scan(&q.ID, &q.ActivityID, &q.Position, &q.Prompt, &kind, &opts, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Kind = models.QuestionKind(kind)
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, err
		}
		list = append(list, q)
	}
	return list, rows.Err()
}

// QuestionCount returns the number of prepared questions for an activity.
func (r *Repository) QuestionCount(ctx context.Context, activityID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_questions WHERE activity_id = $1`, activityID).Scan(&n)
	return n, err
}

// ToggleLive flips the activity's Live flag and returns the new value.
func (r *Repository) ToggleLive(ctx context.Context, activityID string) (bool, error) {
	var live bool
	err := r.pool.QueryRow(ctx,
		`UPDATE activities SET live = NOT live, updated_at = NOW() WHERE id = $1 RETURNING live`,
		activityID).Scan(&live)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return live, err
}
