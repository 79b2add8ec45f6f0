package services

import (
	"context"
	"database/sql"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/trialguard-backend/internal/models"
)

// AuditRepository stores operator actions.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) error
	List(ctx context.Context, limit int) ([]models.AuditEntry, error)
}

// AuditLogger writes the operator audit trail. LogAction is best-effort:
// failures are logged and never reach the operator.
type AuditLogger struct {
	repo AuditRepository
}

func NewAuditLogger(repo AuditRepository) *AuditLogger {
	return &AuditLogger{repo: repo}
}

func (l *AuditLogger) LogAction(ctx context.Context, op Operator, act Action) {
	if l == nil || l.repo == nil {
		return
	}
	entry := &models.AuditEntry{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		AdminID:   op.ID,
		Username:  op.Username,
		Kind:      act.Kind,
		RecordID:  act.ID,
		Action:    act.Action,
		Reason:    act.Reason,
		IPAddress: op.IPAddress,
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log %s %s/%s by %s: %v", act.Action, act.Kind, act.ID, op.Username, err)
	}
}

func (l *AuditLogger) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if l == nil || l.repo == nil {
		return nil, nil
	}
	return l.repo.List(ctx, limit)
}

// PostgresAuditRepository writes to the admin_actions table.
type PostgresAuditRepository struct {
	db *sql.DB
}

func NewPostgresAuditRepository(db *sql.DB) *PostgresAuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Create(ctx context.Context, e *models.AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_actions (id, created_at, admin_id, username, record_kind, record_id, action, reason, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.CreatedAt, e.AdminID, e.Username, string(e.Kind), e.RecordID, string(e.Action), e.Reason, e.IPAddress)
	return err
}

func (r *PostgresAuditRepository) List(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at, admin_id, username, record_kind, record_id, action, reason, ip_address
		FROM admin_actions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var kind, action string
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.AdminID, &e.Username, &kind, &e.RecordID, &action, &e.Reason, &e.IPAddress); err != nil {
			return nil, err
		}
		e.Kind = models.RecordKind(kind)
		e.Action = models.AdminAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Create(_ context.Context, e *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *MemoryAuditRepository) List(_ context.Context, limit int) ([]models.AuditEntry, error) {
	r.mu.Lock()
	out := append([]models.AuditEntry(nil), r.entries...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
