package improve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/traduki/traduki/internal/conversation"
	"github.com/traduki/traduki/internal/glossary"
	"github.com/traduki/traduki/internal/llm"
	"github.com/traduki/traduki/internal/storage"
	"github.com/traduki/traduki/internal/usage"
)

const extractionPrompt = `You review feedback a user gave on a machine translation and decide whether it contains something worth remembering for future translations.

The original text (in %s) was:
%s

The translation (into %s) the user was shown:
%s

The user's feedback:
%s

If the feedback asks for a specific term to be translated a certain way, call GlossaryUpdate with the source term, the requested translation, and a short note. If the feedback expresses a general phrasing or style preference, call RulesUpdate. If the feedback is a one-off correction with no reusable preference, call NoUpdate. Call exactly one tool.`

// Invoker is the slice of the model gateway the extractor needs.
type Invoker interface {
	InvokeWithTools(ctx context.Context, id usage.Identity, prompt string, tools []llm.ToolDef) (*llm.Completion, error)
}

// Extractor runs the secondary extraction workflow: it inspects the last
// feedback exchange of a conversation, asks the model to classify it via
// tool calling, and caches any resulting proposals.
type Extractor struct {
	gateway  Invoker
	convs    conversation.Store
	glossary *glossary.Manager
	cache    *Cache
	logger   *slog.Logger
}

func NewExtractor(gateway Invoker, convs conversation.Store, gm *glossary.Manager, cache *Cache, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{gateway: gateway, convs: convs, glossary: gm, cache: cache, logger: logger}
}

// CheckForUpdates extracts proposals from the conversation's most recent
// feedback round. It is a no-op until the conversation has at least three
// turns: the prior translation, the feedback, and the refined translation
// that resulted from it.
func (e *Extractor) CheckForUpdates(ctx context.Context, conversationID string) error {
	conv, err := e.convs.Get(conversationID)
	if err != nil {
		return err
	}
	if len(conv.Turns) < 3 {
		return nil
	}

	prior := conv.Turns[len(conv.Turns)-3].Content
	feedback := conv.Turns[len(conv.Turns)-2].Content

	prompt := fmt.Sprintf(extractionPrompt,
		conv.SourceLanguage, conv.OriginalText, conv.TargetLanguage, prior, feedback)

	id := usage.Identity{UserID: conv.UserID, Addr: conv.ClientAddr}
	comp, err := e.gateway.InvokeWithTools(ctx, id, prompt, ToolDefs())
	if err != nil {
		return fmt.Errorf("extraction call: %w", err)
	}

	for _, call := range comp.ToolCalls {
		if call.Name == ToolNoUpdate {
			var args noUpdateArgs
			_ = json.Unmarshal(call.Arguments, &args)
			e.logger.Info("no improvement extracted",
				"conversation_id", conversationID, "reason", args.Reason)
		}
	}
	e.cache.Append(conversationID, comp.ToolCalls)
	return nil
}

// List projects the conversation's cached tool calls into typed proposals,
// tagged with the conversation's language pair. NoUpdate calls are kept in
// the cache for audit but filtered out here.
func (e *Extractor) List(conversationID string) ([]Proposal, error) {
	conv, err := e.convs.Get(conversationID)
	if err != nil {
		return nil, err
	}

	var out []Proposal
	for _, call := range e.cache.Calls(conversationID) {
		if p, ok := decodeProposal(call, conv.SourceLanguage, conv.TargetLanguage); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Apply promotes a cached proposal into a permanent glossary entry or rule
// for the given user, then evicts it from the cache. Persistence happens
// first so a failed write leaves the proposal available to retry.
func (e *Extractor) Apply(conversationID string, p Proposal, userID string) error {
	calls := e.cache.Calls(conversationID)
	found := false
	for _, call := range calls {
		if matchesCall(call, p) {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: no matching pending proposal", ErrInvalidProposal)
	}

	sourceLang, targetLang := p.SourceLanguage, p.TargetLanguage
	if sourceLang == "" || targetLang == "" {
		conv, err := e.convs.Get(conversationID)
		if err != nil {
			return err
		}
		sourceLang, targetLang = conv.SourceLanguage, conv.TargetLanguage
	}

	switch p.Type {
	case TypeGlossary:
		if strings.TrimSpace(p.Source) == "" || strings.TrimSpace(p.Target) == "" {
			return fmt.Errorf("%w: glossary proposal requires source and target", ErrInvalidProposal)
		}
		err := e.glossary.Upsert(storage.GlossaryEntry{
			UserID:         userID,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
			SourceText:     p.Source,
			TargetText:     p.Target,
			Note:           p.Note,
		})
		if err != nil {
			return fmt.Errorf("persisting glossary entry: %w", err)
		}
	case TypeRules:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: rule proposal requires a text", ErrInvalidProposal)
		}
		err := e.glossary.UpsertRule(storage.RuleEntry{
			UserID:         userID,
			SourceLanguage: sourceLang,
			TargetLanguage: targetLang,
			Text:           p.Text,
		})
		if err != nil {
			return fmt.Errorf("persisting rule: %w", err)
		}
	default:
		return fmt.Errorf("%w: unknown proposal type %q", ErrInvalidProposal, p.Type)
	}

	e.cache.Remove(conversationID, func(call llm.ToolCall) bool {
		return matchesCall(call, p)
	})
	e.logger.Info("improvement applied",
		"conversation_id", conversationID, "type", p.Type, "user_id", userID)
	return nil
}

// Discard drops every pending proposal for a conversation without persisting
// any of them.
func (e *Extractor) Discard(conversationID string) error {
	if _, err := e.convs.Get(conversationID); err != nil {
		return err
	}
	e.cache.Drop(conversationID)
	e.logger.Info("improvements discarded", "conversation_id", conversationID)
	return nil
}
