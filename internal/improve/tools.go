// Package improve extracts structured glossary and rule proposals from
// refinement feedback and manages their lifecycle until a user applies or
// discards them.
package improve

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/traduki/traduki/internal/llm"
)

// ErrInvalidProposal is returned when an apply request does not correspond
// to any cached proposal, or the proposal is malformed.
var ErrInvalidProposal = errors.New("invalid improvement proposal")

// Tool names the extraction model is asked to call, exactly one per turn.
const (
	ToolGlossaryUpdate = "GlossaryUpdate"
	ToolRulesUpdate    = "RulesUpdate"
	ToolNoUpdate       = "NoUpdate"
)

// Proposal types surfaced to callers.
const (
	TypeGlossary = "glossary"
	TypeRules    = "rules"
)

// Proposal is a pending improvement extracted from feedback, tagged with the
// language pair of the conversation it came from.
type Proposal struct {
	Type           string `json:"type"`
	Source         string `json:"source,omitempty"`
	Target         string `json:"target,omitempty"`
	Note           string `json:"note,omitempty"`
	Text           string `json:"text,omitempty"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type glossaryArgs struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Note   string `json:"note"`
}

type rulesArgs struct {
	Text string `json:"text"`
}

type noUpdateArgs struct {
	Reason string `json:"reason"`
}

// ToolDefs returns the three extraction tools offered to the model.
func ToolDefs() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        ToolGlossaryUpdate,
			Description: "Record a term translation the user asked for, so it is reused in future translations.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"source": {Type: "string", Description: "The term in the source language, as it appeared in the original text."},
					"target": {Type: "string", Description: "The translation the user wants for this term."},
					"note":   {Type: "string", Description: "A short note on when this translation applies."},
				},
				Required: []string{"source", "target"},
			},
		},
		{
			Name:        ToolRulesUpdate,
			Description: "Record a general phrasing or style rule the user asked for, not tied to a single term.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"text": {Type: "string", Description: "The rule, phrased as an instruction for future translations."},
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        ToolNoUpdate,
			Description: "The feedback contains nothing worth remembering for future translations.",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"reason": {Type: "string", Description: "Why no update is warranted."},
				},
				Required: []string{"reason"},
			},
		},
	}
}

// decodeProposal projects a cached tool call into a Proposal. NoUpdate calls
// and calls with unknown names or undecodable arguments yield ok=false.
func decodeProposal(call llm.ToolCall, sourceLang, targetLang string) (Proposal, bool) {
	switch call.Name {
	case ToolGlossaryUpdate:
		var args glossaryArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return Proposal{}, false
		}
		if strings.TrimSpace(args.Source) == "" || strings.TrimSpace(args.Target) == "" {
			return Proposal{}, false
		}
		return Proposal{
			Type:           TypeGlossary,
			Source:         args.Source,
			Target:         args.Target,
			Note:           args.Note,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		}, true
	case ToolRulesUpdate:
		var args rulesArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return Proposal{}, false
		}
		if strings.TrimSpace(args.Text) == "" {
			return Proposal{}, false
		}
		return Proposal{
			Type:           TypeRules,
			Text:           args.Text,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
		}, true
	default:
		return Proposal{}, false
	}
}

// matchesCall reports whether a cached tool call is the one the proposal
// identifies: source+target for glossary, text for rules. Exact match.
func matchesCall(call llm.ToolCall, p Proposal) bool {
	switch p.Type {
	case TypeGlossary:
		if call.Name != ToolGlossaryUpdate {
			return false
		}
		var args glossaryArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return false
		}
		return args.Source == p.Source && args.Target == p.Target
	case TypeRules:
		if call.Name != ToolRulesUpdate {
			return false
		}
		var args rulesArgs
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return false
		}
		return args.Text == p.Text
	default:
		return false
	}
}
