package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/utils"
)

// UserStore is what the auth handlers need from the users table.
type UserStore interface {
	Create(ctx context.Context, email, password, role string, cost int) (uint64, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = normalizeEmail(email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, password_hash, role) VALUES (?,?,?)",
		email, hash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at FROM users WHERE email=? LIMIT 1",
		normalizeEmail(email)).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return model.User{}, notFound(err, "user")
	}
	return u, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,email,password_hash,role,is_active,created_at FROM users WHERE id=? LIMIT 1",
		id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return model.User{}, notFound(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

// MemoryUsers serves the users table of a MemoryLedger.
type MemoryUsers struct{ l *MemoryLedger }

// Users returns the user store backed by l.
func (l *MemoryLedger) Users() *MemoryUsers { return &MemoryUsers{l: l} }

func (m *MemoryUsers) Create(_ context.Context, email, password, role string, cost int) (uint64, error) {
	email = normalizeEmail(email)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	for _, u := range m.l.users {
		if u.Email == email {
			return 0, ErrEmailExists
		}
	}
	return m.l.addUserLocked(model.User{Email: email, PasswordHash: hash, Role: role, IsActive: true}), nil
}

func (m *MemoryUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	email = normalizeEmail(email)
	m.l.mu.RLock()
	defer m.l.mu.RUnlock()
	for _, u := range m.l.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user: %w", model.ErrNotFound)
}

func (m *MemoryUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.l.mu.RLock()
	defer m.l.mu.RUnlock()
	u, ok := m.l.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return u, nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
