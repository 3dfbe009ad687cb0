// Package workflow drives the interactive translation state machine: an
// initial translation suspends awaiting user feedback, and each resume
// produces a refined translation and re-suspends. Suspension is explicit
// state, not a blocked goroutine: every call reconstructs context from the
// persisted conversation record.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/traduki/traduki/internal/conversation"
	"github.com/traduki/traduki/internal/glossary"
	"github.com/traduki/traduki/internal/llm"
	"github.com/traduki/traduki/internal/usage"
)

// Invoker is the slice of the model gateway the engine needs.
type Invoker interface {
	Invoke(ctx context.Context, id usage.Identity, prompt string) (*llm.Completion, error)
}

// Enqueuer schedules improvement extraction for a conversation after a
// refinement round. Enqueue failures are best-effort and never fail the
// refinement itself.
type Enqueuer interface {
	EnqueueExtraction(conversationID string) error
}

// StartRequest begins a new conversation.
type StartRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	UserID         string
	ClientAddr     string
}

// Result is the outcome of a start or resume call. Status is always
// awaiting_feedback: the engine suspends after every translation.
type Result struct {
	ConversationID string
	Translation    string
	Status         string
}

// Engine owns conversation state transitions. Mutations to a single
// conversation are serialized through a per-conversation lock; the store's
// version check additionally guards against cross-process races.
type Engine struct {
	gateway  Invoker
	convs    conversation.Store
	glossary *glossary.Manager
	enqueue  Enqueuer
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(gateway Invoker, convs conversation.Store, gm *glossary.Manager, enqueue Enqueuer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gateway:  gateway,
		convs:    convs,
		glossary: gm,
		enqueue:  enqueue,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (e *Engine) lockFor(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Start translates the text and suspends the new conversation awaiting
// feedback. Known glossary terms are fuzzy-matched against the input so the
// prompt carries only entries relevant to this text; phrasing rules are
// always included.
func (e *Engine) Start(ctx context.Context, req StartRequest) (Result, error) {
	if req.Text == "" {
		return Result{}, fmt.Errorf("text to translate is required")
	}

	matches, err := e.glossary.MatchesFor(req.Text, req.UserID, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		return Result{}, err
	}
	rules, err := e.glossary.ListRules(req.UserID, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		return Result{}, fmt.Errorf("loading rules: %w", err)
	}

	prompt := translationPrompt(req.Text, req.SourceLanguage, req.TargetLanguage,
		glossary.FormatMatches(matches), glossary.FormatRules(rules))

	id := usage.Identity{UserID: req.UserID, Addr: req.ClientAddr}
	comp, err := e.gateway.Invoke(ctx, id, prompt)
	if err != nil {
		return Result{}, err
	}

	conv := conversation.Conversation{
		ID:             uuid.New().String(),
		OriginalText:   req.Text,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		UserID:         req.UserID,
		ClientAddr:     req.ClientAddr,
		Status:         conversation.StatusAwaitingFeedback,
	}
	conv.AppendTurn(conversation.RoleAssistant, comp.Content)
	conv.CreatedAt = conv.UpdatedAt

	if err := e.convs.Put(conv); err != nil {
		return Result{}, fmt.Errorf("persisting conversation: %w", err)
	}

	e.logger.Info("conversation started",
		"conversation_id", conv.ID,
		"pair", req.SourceLanguage+"-"+req.TargetLanguage,
		"glossary_matches", len(matches))
	return Result{ConversationID: conv.ID, Translation: comp.Content, Status: conv.Status}, nil
}

// Resume appends the feedback as a human turn, produces a refined
// translation from the last exchange, and re-suspends the conversation.
// Improvement extraction is enqueued after the refined turn is persisted so
// its failures cannot affect the refinement result.
func (e *Engine) Resume(ctx context.Context, conversationID, feedback string) (Result, error) {
	if feedback == "" {
		return Result{}, fmt.Errorf("feedback text is required")
	}

	l := e.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	conv, err := e.convs.Get(conversationID)
	if err != nil {
		return Result{}, err
	}
	if conv.Status != conversation.StatusAwaitingFeedback {
		return Result{}, fmt.Errorf("%w: conversation %s is not awaiting feedback", conversation.ErrNotFound, conversationID)
	}

	prior := conv.LastTurn().Content
	conv.AppendTurn(conversation.RoleHuman, feedback)

	prompt := refinementPrompt(prior, feedback, conv.SourceLanguage, conv.TargetLanguage)
	id := usage.Identity{UserID: conv.UserID, Addr: conv.ClientAddr}
	comp, err := e.gateway.Invoke(ctx, id, prompt)
	if err != nil {
		return Result{}, err
	}

	conv.AppendTurn(conversation.RoleAssistant, comp.Content)
	conv.Iterations++

	if err := e.convs.Put(conv); err != nil {
		return Result{}, fmt.Errorf("persisting conversation: %w", err)
	}

	if e.enqueue != nil {
		if err := e.enqueue.EnqueueExtraction(conversationID); err != nil {
			e.logger.Error("enqueueing improvement extraction failed",
				"conversation_id", conversationID, "error", err)
		}
	}

	e.logger.Info("conversation resumed",
		"conversation_id", conversationID, "iteration", conv.Iterations)
	return Result{ConversationID: conversationID, Translation: comp.Content, Status: conv.Status}, nil
}

// Snapshot returns the conversation's current persisted state.
func (e *Engine) Snapshot(conversationID string) (conversation.Conversation, error) {
	return e.convs.Get(conversationID)
}
