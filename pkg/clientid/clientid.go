// Package clientid resolves a stable identifier for an otherwise anonymous
// client. A passive fingerprint wins when available; otherwise a random id is
// kept in several redundant local tiers and re-synced on every resolution.
package clientid

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// HTTPHeader carries the resolved id on requests to the trial-gated API.
const HTTPHeader = "X-Device-ID"

// IdentifierStore is one local persistence tier.
type IdentifierStore interface {
	Name() string
	// Get returns "" with a nil error when the tier holds nothing.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, id string) error
}

// Fingerprinter derives an id from stable device characteristics.
type Fingerprinter interface {
	Fingerprint(ctx context.Context) (string, error)
}

// Resolver produces the client identifier once per process and caches it.
type Resolver struct {
	fingerprinter Fingerprinter
	stores        []IdentifierStore
	newID         func() string

	once     sync.Once
	id       string
	source   string
	mu       sync.Mutex
	degraded []error
}

// NewResolver builds a resolver. stores are consulted in priority order;
// fp may be nil to disable fingerprinting.
func NewResolver(fp Fingerprinter, stores ...IdentifierStore) *Resolver {
	return &Resolver{fingerprinter: fp, stores: stores, newID: NewID}
}

// Resolve always returns a usable id. Failures only lower cross-session
// stability and are reported through Degraded.
func (r *Resolver) Resolve(ctx context.Context) string {
	r.once.Do(func() {
		r.id, r.source = r.resolve(ctx)
	})
	return r.id
}

// Source names where the cached id came from: "fingerprint", a store name, or "generated".
func (r *Resolver) Source() string {
	return r.source
}

// Degraded joins every read or write failure seen during resolution.
func (r *Resolver) Degraded() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return errors.Join(r.degraded...)
}

func (r *Resolver) resolve(ctx context.Context) (string, string) {
	primary, err := r.fingerprint(ctx)
	if err != nil {
		r.note(fmt.Errorf("fingerprint: %w", err))
	}

	fallback, fallbackFrom := r.readFallback(ctx)

	id, source := primary, "fingerprint"
	switch {
	case primary != "":
	case fallback != "":
		id, source = fallback, fallbackFrom
	default:
		id, source = r.newID(), "generated"
	}

	for _, s := range r.stores {
		if err := s.Set(ctx, id); err != nil {
			r.note(fmt.Errorf("%s write: %w", s.Name(), err))
		}
	}
	return id, source
}

func (r *Resolver) fingerprint(ctx context.Context) (id string, err error) {
	if r.fingerprinter == nil {
		return "", nil
	}
	defer func() {
		if p := recover(); p != nil {
			id, err = "", fmt.Errorf("panic: %v", p)
		}
	}()
	id, err = r.fingerprinter.Fingerprint(ctx)
	if err != nil {
		// a partial fingerprint is not authoritative
		return "", err
	}
	return strings.TrimSpace(id), nil
}

func (r *Resolver) readFallback(ctx context.Context) (string, string) {
	for _, s := range r.stores {
		v, err := s.Get(ctx)
		if err != nil {
			r.note(fmt.Errorf("%s read: %w", s.Name(), err))
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, s.Name()
		}
	}
	return "", ""
}

func (r *Resolver) note(err error) {
	r.mu.Lock()
	r.degraded = append(r.degraded, err)
	r.mu.Unlock()
}

// NewID returns 128 random bits, hex encoded.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms; keep a unique-enough value anyway
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
