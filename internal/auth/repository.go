package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arts-tech-lab/backend/internal/models"
)

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, COALESCE(department,''),
		created_at, updated_at FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role,
		&u.Department, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, full_name, role, COALESCE(department,''),
		created_at, updated_at FROM users WHERE email = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role,
		&u.Department, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user and returns the stored record.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role, department string) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name, role, department)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at, updated_at`
	u := models.User{
		Email:      email,
		Password:   passwordHash,
		FullName:   fullName,
		Role:       role,
		Department: department,
	}
	err := r.pool.QueryRow(ctx, q, email, passwordHash, fullName, string(role), department).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateRole sets a user's role (admin operation, e.g. granting lab affiliation).
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2`,
		string(role), id)
	return err
}

// List returns all users for admin views.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, full_name, role, COALESCE(department,''), created_at
		FROM users ORDER BY full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.Department, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = models.Role(role)
		list = append(list, u)
	}
	return list, rows.Err()
}
