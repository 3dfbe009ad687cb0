// Package glossary manages per-user term substitutions and phrasing rules,
// and finds glossary terms inside source texts using fuzzy matching.
package glossary

import (
	"fmt"
	"strings"

	"github.com/traduki/traduki/internal/storage"
)

// Manager wraps the persistent glossary and rule stores with validation.
// An empty user id addresses the shared glossary used for anonymous calls.
type Manager struct {
	store *storage.Store
}

func NewManager(store *storage.Store) *Manager {
	return &Manager{store: store}
}

// Upsert inserts or replaces a glossary entry. The source text is stored
// lowercased so lookups are case-insensitive.
func (m *Manager) Upsert(e storage.GlossaryEntry) error {
	if strings.TrimSpace(e.SourceText) == "" {
		return fmt.Errorf("glossary entry requires a source text")
	}
	if strings.TrimSpace(e.TargetText) == "" {
		return fmt.Errorf("glossary entry requires a target text")
	}
	if e.SourceLanguage == "" || e.TargetLanguage == "" {
		return fmt.Errorf("glossary entry requires a language pair")
	}
	return m.store.UpsertGlossaryEntry(e)
}

func (m *Manager) Delete(userID, sourceLang, targetLang, sourceText string) error {
	return m.store.DeleteGlossaryEntry(userID, sourceLang, targetLang, sourceText)
}

// Rename replaces the entry stored under oldSource with e, which may carry a
// different source text. Returns storage.ErrNotFound when oldSource does not
// exist.
func (m *Manager) Rename(userID, sourceLang, targetLang, oldSource string, e storage.GlossaryEntry) error {
	if strings.TrimSpace(oldSource) == "" {
		return fmt.Errorf("rename requires the current source text")
	}
	if _, err := m.store.GetGlossaryEntry(userID, sourceLang, targetLang, oldSource); err != nil {
		return err
	}
	if !strings.EqualFold(oldSource, e.SourceText) {
		if err := m.store.DeleteGlossaryEntry(userID, sourceLang, targetLang, oldSource); err != nil {
			return err
		}
	}
	return m.Upsert(e)
}

func (m *Manager) List(userID, sourceLang, targetLang string) ([]storage.GlossaryEntry, error) {
	return m.store.ListGlossaryEntries(userID, sourceLang, targetLang)
}

// UpsertRule inserts or replaces a phrasing rule.
func (m *Manager) UpsertRule(r storage.RuleEntry) error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("rule requires a text")
	}
	if r.SourceLanguage == "" || r.TargetLanguage == "" {
		return fmt.Errorf("rule requires a language pair")
	}
	return m.store.UpsertRuleEntry(r)
}

func (m *Manager) DeleteRule(userID, sourceLang, targetLang, text string) error {
	return m.store.DeleteRuleEntry(userID, sourceLang, targetLang, text)
}

func (m *Manager) ListRules(userID, sourceLang, targetLang string) ([]storage.RuleEntry, error) {
	return m.store.ListRuleEntries(userID, sourceLang, targetLang)
}

// MatchesFor loads the user's glossary for the language pair and returns the
// entries whose source terms occur in text.
func (m *Manager) MatchesFor(text, userID, sourceLang, targetLang string) ([]Match, error) {
	entries, err := m.store.ListGlossaryEntries(userID, sourceLang, targetLang)
	if err != nil {
		return nil, fmt.Errorf("loading glossary: %w", err)
	}
	return FindMatches(text, entries), nil
}
