package glossary

import (
	"strings"

	"github.com/traduki/traduki/internal/storage"
)

// FormatMatches renders matched glossary terms as prompt lines, one per
// entry, in "term: translation (note)" form. The note is omitted when empty.
func FormatMatches(matches []Match) string {
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.Text)
		b.WriteString(": ")
		b.WriteString(m.Entry.TargetText)
		if m.Entry.Note != "" {
			b.WriteString(" (")
			b.WriteString(m.Entry.Note)
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRules renders phrasing rules as a bulleted prompt block.
func FormatRules(rules []storage.RuleEntry) string {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString("- ")
		b.WriteString(r.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
