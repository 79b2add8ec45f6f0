package clientid

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	CookieName   = "trialguard_device_id"
	cookieMaxAge = 400 * 24 * time.Hour
	kvKey        = "device_id"
)

// SQLiteStore is the structured local database tier.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the identity database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS client_identity (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create client_identity: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Get(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_identity WHERE name = ?`, kvKey).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *SQLiteStore) Set(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO client_identity (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		kvKey, id, time.Now().UTC())
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CookieStore keeps the id as a Set-Cookie line, mirroring a browser cookie jar entry.
type CookieStore struct {
	Path string
	nowF func() time.Time
}

func NewCookieStore(path string) *CookieStore {
	return &CookieStore{Path: path, nowF: time.Now}
}

func (s *CookieStore) Name() string { return "cookie" }

func (s *CookieStore) Get(context.Context) (string, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return "", nil
	}
	c, err := http.ParseSetCookie(line)
	if err != nil {
		return "", fmt.Errorf("parse cookie: %w", err)
	}
	if c.Name != CookieName {
		return "", nil
	}
	if !c.Expires.IsZero() && c.Expires.Before(s.now()) {
		return "", nil
	}
	return c.Value, nil
}

func (s *CookieStore) Set(_ context.Context, id string) error {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		Expires:  s.now().Add(cookieMaxAge),
		MaxAge:   int(cookieMaxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	}
	return writeFileAtomic(s.Path, []byte(c.String()+"\n"))
}

func (s *CookieStore) now() time.Time {
	if s.nowF == nil {
		return time.Now()
	}
	return s.nowF()
}

// KVFileStore is the simple key/value tier: a flat JSON object on disk.
type KVFileStore struct {
	Path string
}

func NewKVFileStore(path string) *KVFileStore {
	return &KVFileStore{Path: path}
}

func (s *KVFileStore) Name() string { return "kv" }

func (s *KVFileStore) Get(context.Context) (string, error) {
	m, err := s.load()
	if err != nil {
		return "", err
	}
	return m[kvKey], nil
}

func (s *KVFileStore) Set(_ context.Context, id string) error {
	m, err := s.load()
	if err != nil {
		// unreadable content is replaced rather than blocking the write
		m = map[string]string{}
	}
	m[kvKey] = id
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path, data)
}

func (s *KVFileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]string{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode kv file: %w", err)
	}
	return m, nil
}

// unavailableStore stands in for a tier that could not be opened.
type unavailableStore struct {
	name string
	err  error
}

func (s unavailableStore) Name() string                        { return s.name }
func (s unavailableStore) Get(context.Context) (string, error) { return "", s.err }
func (s unavailableStore) Set(context.Context, string) error   { return s.err }

// DefaultStores lays out the three tiers under dir in priority order.
func DefaultStores(dir string) []IdentifierStore {
	var db IdentifierStore
	if err := os.MkdirAll(dir, 0o700); err != nil {
		db = unavailableStore{name: "sqlite", err: err}
	} else if s, err := OpenSQLiteStore(filepath.Join(dir, "identity.db")); err != nil {
		db = unavailableStore{name: "sqlite", err: err}
	} else {
		db = s
	}
	return []IdentifierStore{
		db,
		NewCookieStore(filepath.Join(dir, "cookies.txt")),
		NewKVFileStore(filepath.Join(dir, "storage.json")),
	}
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
