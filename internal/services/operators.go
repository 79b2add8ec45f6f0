package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
	"github.com/AnshRaj112/trialguard-backend/pkg/utils"
)

var (
	ErrAdminNotFound      = errors.New("admin not found")
	ErrAdminExists        = errors.New("admin with this username or email already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAdminInactive      = errors.New("admin account is inactive")
)

// AdminRepository loads and creates operator accounts.
type AdminRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Admin, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Admin, error)
	Create(ctx context.Context, admin *models.Admin) error
}

// Authenticate checks operator credentials.
func Authenticate(ctx context.Context, repo AdminRepository, username, password string) (*models.Admin, error) {
	admin, err := repo.FindByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrAdminNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := utils.VerifyPassword(password, admin.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	if !admin.IsActive {
		return nil, ErrAdminInactive
	}
	return admin, nil
}

// NewAdmin hashes the password and fills in identity fields.
func NewAdmin(username, email, password string) (*models.Admin, error) {
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &models.Admin{
		ID:           uuid.New(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Username:     strings.TrimSpace(username),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		IsActive:     true,
	}, nil
}

type PostgresAdminRepository struct {
	db *sql.DB
}

func NewPostgresAdminRepository(db *sql.DB) *PostgresAdminRepository {
	return &PostgresAdminRepository{db: db}
}

const adminColumns = `id, created_at, updated_at, username, email, password_hash, is_active`

func (r *PostgresAdminRepository) FindByUsername(ctx context.Context, username string) (*models.Admin, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE username = $1`, username))
}

func (r *PostgresAdminRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+adminColumns+` FROM admins WHERE id = $1`, id))
}

func (r *PostgresAdminRepository) Create(ctx context.Context, a *models.Admin) error {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admins WHERE username = $1 OR email = $2)`, a.Username, a.Email).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAdminExists
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO admins (`+adminColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.CreatedAt, a.UpdatedAt, a.Username, a.Email, a.PasswordHash, a.IsActive)
	return err
}

func (r *PostgresAdminRepository) scanOne(row *sql.Row) (*models.Admin, error) {
	var a models.Admin
	err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt, &a.Username, &a.Email, &a.PasswordHash, &a.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type MemoryAdminRepository struct {
	mu     sync.RWMutex
	admins map[uuid.UUID]models.Admin
}

func NewMemoryAdminRepository() *MemoryAdminRepository {
	return &MemoryAdminRepository{admins: make(map[uuid.UUID]models.Admin)}
}

func (r *MemoryAdminRepository) FindByUsername(_ context.Context, username string) (*models.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.admins {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, ErrAdminNotFound
}

func (r *MemoryAdminRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Admin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.admins[id]
	if !ok {
		return nil, ErrAdminNotFound
	}
	return &a, nil
}

func (r *MemoryAdminRepository) Create(_ context.Context, a *models.Admin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.admins {
		if existing.Username == a.Username || existing.Email == a.Email {
			return ErrAdminExists
		}
	}
	r.admins[a.ID] = *a
	return nil
}
