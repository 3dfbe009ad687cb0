// Package usage tracks consumed model cost per identity against quotas.
package usage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/traduki/traduki/internal/storage"
)

// ErrQuotaExceeded is returned when an identity's counter has reached its
// ceiling. The wrapped message is suitable for surfacing to the caller.
var ErrQuotaExceeded = errors.New("usage quota exceeded")

// Identity is the quota-tracking key for a request: the authenticated user
// id when present, otherwise the caller's network address.
type Identity struct {
	UserID string
	Addr   string
}

// key returns the storage key and tracking kind for this identity.
func (i Identity) key() (string, string) {
	if i.UserID != "" {
		return i.UserID, storage.UsageKindUser
	}
	return i.Addr, storage.UsageKindAddr
}

// RecordStore is the persistence the ledger needs.
type RecordStore interface {
	GetUsage(identity, kind string) (storage.UsageRecord, error)
	AddUsage(identity, kind string, cost int64) error
}

// Ledger enforces per-identity cost quotas. Authenticated and anonymous
// identities have distinct ceilings; the anonymous one is intentionally
// lower. All check-then-update sequences for one identity are serialized.
type Ledger struct {
	store     RecordStore
	userLimit int64
	anonLimit int64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a Ledger with the given ceilings.
func NewLedger(store RecordStore, userLimit, anonLimit int64) *Ledger {
	return &Ledger{
		store:     store,
		userLimit: userLimit,
		anonLimit: anonLimit,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

func (l *Ledger) limitFor(kind string) int64 {
	if kind == storage.UsageKindUser {
		return l.userLimit
	}
	return l.anonLimit
}

// Check returns ErrQuotaExceeded if the identity's counter is already at or
// over its ceiling. It never mutates the counter.
func (l *Ledger) Check(id Identity) error {
	key, kind := id.key()
	m := l.lockFor(kind + ":" + key)
	m.Lock()
	defer m.Unlock()
	return l.check(key, kind)
}

func (l *Ledger) check(key, kind string) error {
	rec, err := l.store.GetUsage(key, kind)
	if err != nil {
		return fmt.Errorf("reading usage for %s: %w", key, err)
	}
	limit := l.limitFor(kind)
	if rec.Used >= limit {
		return fmt.Errorf("%w: usage limit of %d cost units reached", ErrQuotaExceeded, limit)
	}
	return nil
}

// CheckAndUpdate rejects if the identity is already at its ceiling, then adds
// cost to the counter. The check runs against the current recorded value, not
// the value that would result, so the call that crosses the ceiling is
// allowed to complete once (soft quota).
func (l *Ledger) CheckAndUpdate(id Identity, cost int64) error {
	key, kind := id.key()
	m := l.lockFor(kind + ":" + key)
	m.Lock()
	defer m.Unlock()

	if err := l.check(key, kind); err != nil {
		return err
	}
	if err := l.store.AddUsage(key, kind, cost); err != nil {
		return fmt.Errorf("updating usage for %s: %w", key, err)
	}
	return nil
}

// Current returns the identity's consumed counter and its ceiling.
func (l *Ledger) Current(id Identity) (used, limit int64, err error) {
	key, kind := id.key()
	rec, err := l.store.GetUsage(key, kind)
	if err != nil {
		return 0, 0, fmt.Errorf("reading usage for %s: %w", key, err)
	}
	return rec.Used, l.limitFor(kind), nil
}
