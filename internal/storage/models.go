package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// GlossaryEntry is a per-user term substitution for a language pair.
// SourceText is stored lowercased; the (UserID, SourceLanguage,
// TargetLanguage, SourceText) tuple is unique. An empty UserID denotes the
// shared glossary available to anonymous callers.
type GlossaryEntry struct {
	ID             int64
	UserID         string
	SourceLanguage string
	TargetLanguage string
	SourceText     string
	TargetText     string
	Note           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RuleEntry is a free-text phrasing rule for a language pair, owned by a user.
type RuleEntry struct {
	ID             int64
	UserID         string
	SourceLanguage string
	TargetLanguage string
	Text           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Usage tracking kinds: authenticated users are tracked by user id,
// anonymous callers by network address.
const (
	UsageKindUser = "user"
	UsageKindAddr = "addr"
)

// UsageRecord holds the consumed-cost counter for one identity.
type UsageRecord struct {
	Identity  string
	Kind      string
	Used      int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
