package clientid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFingerprinter struct {
	id    string
	err   error
	calls int
}

func (f *stubFingerprinter) Fingerprint(context.Context) (string, error) {
	f.calls++
	return f.id, f.err
}

type panicFingerprinter struct{}

func (panicFingerprinter) Fingerprint(context.Context) (string, error) {
	panic("canvas unavailable")
}

type failingStore struct{ name string }

func (s failingStore) Name() string                        { return s.name }
func (s failingStore) Get(context.Context) (string, error) { return "", errors.New("storage disabled") }
func (s failingStore) Set(context.Context, string) error   { return errors.New("storage disabled") }

func tiers(t *testing.T) (*SQLiteStore, *CookieStore, *KVFileStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := OpenSQLiteStore(filepath.Join(dir, "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, NewCookieStore(filepath.Join(dir, "cookies.txt")), NewKVFileStore(filepath.Join(dir, "storage.json"))
}

func TestResolveCookieFillsEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	require.NoError(t, cookie.Set(ctx, "cookie-id-123"))

	r := NewResolver(nil, db, cookie, kv)
	assert.Equal(t, "cookie-id-123", r.Resolve(ctx))
	assert.Equal(t, "cookie", r.Source())

	stored, err := db.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cookie-id-123", stored)

	stored, err = kv.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cookie-id-123", stored)
}

func TestResolvePriorityOrder(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	require.NoError(t, db.Set(ctx, "db-id"))
	require.NoError(t, cookie.Set(ctx, "cookie-id"))
	require.NoError(t, kv.Set(ctx, "kv-id"))

	r := NewResolver(nil, db, cookie, kv)
	assert.Equal(t, "db-id", r.Resolve(ctx))

	v, err := cookie.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "db-id", v)
}

func TestResolveFingerprintIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	require.NoError(t, cookie.Set(ctx, "old-cookie"))

	fp := &stubFingerprinter{id: "fp-abc"}
	r := NewResolver(fp, db, cookie, kv)
	assert.Equal(t, "fp-abc", r.Resolve(ctx))

	v, err := cookie.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fp-abc", v)
}

func TestResolveFingerprintFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	require.NoError(t, kv.Set(ctx, "kv-only"))

	r := NewResolver(&stubFingerprinter{err: errors.New("blocked")}, db, cookie, kv)
	assert.Equal(t, "kv-only", r.Resolve(ctx))
	assert.Error(t, r.Degraded())

	r = NewResolver(panicFingerprinter{}, db, cookie, kv)
	assert.Equal(t, "kv-only", r.Resolve(ctx))
}

func TestResolveIgnoresFingerprintReturnedWithError(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	require.NoError(t, cookie.Set(ctx, "cookie-id"))

	fp := &stubFingerprinter{id: "partial-fp", err: errors.New("machine-id unreadable")}
	r := NewResolver(fp, db, cookie, kv)
	assert.Equal(t, "cookie-id", r.Resolve(ctx))
	assert.Equal(t, "cookie", r.Source())
	assert.ErrorContains(t, r.Degraded(), "machine-id unreadable")

	stored, err := db.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cookie-id", stored)
}

func TestResolveGeneratesAndCaches(t *testing.T) {
	ctx := context.Background()
	db, cookie, kv := tiers(t)
	fp := &stubFingerprinter{}

	r := NewResolver(fp, db, cookie, kv)
	id := r.Resolve(ctx)
	assert.Len(t, id, 32)
	assert.Equal(t, "generated", r.Source())
	assert.Equal(t, id, r.Resolve(ctx))
	assert.Equal(t, 1, fp.calls)

	// a fresh process with one tier cleared still resolves the same id
	require.NoError(t, os.Remove(cookie.Path))
	again := NewResolver(nil, db, cookie, kv)
	assert.Equal(t, id, again.Resolve(ctx))
}

func TestResolveSurvivesBrokenStorage(t *testing.T) {
	r := NewResolver(nil, failingStore{"a"}, failingStore{"b"}, failingStore{"c"})
	id := r.Resolve(context.Background())
	assert.NotEmpty(t, id)
	assert.Error(t, r.Degraded())
}

func TestCookieStoreIgnoresExpired(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(path,
		[]byte(CookieName+"=stale; Path=/; Expires=Mon, 02 Jan 2006 15:04:05 GMT\n"), 0o600))

	v, err := NewCookieStore(path).Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestKVFileStorePreservesOtherKeys(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark"}`), 0o600))

	s := NewKVFileStore(path)
	require.NoError(t, s.Set(ctx, "kv-1"))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"theme": "dark"`)
	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kv-1", v)
}

func TestMachineFingerprinter(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "machine-id")
	f := &MachineFingerprinter{Paths: []string{idPath}, Hostname: func() (string, error) { return "box", nil }}

	_, err := f.Fingerprint(context.Background())
	assert.ErrorIs(t, err, ErrNoStableTrait)

	require.NoError(t, os.WriteFile(idPath, []byte("0123456789abcdef\n"), 0o600))
	a, err := f.Fingerprint(context.Background())
	require.NoError(t, err)
	b, err := f.Fingerprint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestDefaultStoresOrder(t *testing.T) {
	stores := DefaultStores(t.TempDir())
	require.Len(t, stores, 3)
	assert.Equal(t, []string{"sqlite", "cookie", "kv"}, []string{stores[0].Name(), stores[1].Name(), stores[2].Name()})
	if s, ok := stores[0].(*SQLiteStore); ok {
		s.Close()
	}
}
