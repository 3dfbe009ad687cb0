// Package api maps the translation workflow, glossary, and improvement
// operations onto an HTTP surface. Handlers are thin: they decode, validate,
// call the engine, and translate domain errors to status codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/traduki/traduki/internal/conversation"
	"github.com/traduki/traduki/internal/glossary"
	"github.com/traduki/traduki/internal/improve"
	"github.com/traduki/traduki/internal/llm"
	"github.com/traduki/traduki/internal/storage"
	"github.com/traduki/traduki/internal/usage"
	"github.com/traduki/traduki/internal/workflow"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Engine    *workflow.Engine
	Extractor *improve.Extractor
	Glossary  *glossary.Manager
	Ledger    *usage.Ledger
	Token     string // optional shared service token; empty disables auth
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))
	r.Use(Identity)

	r.Get("/health", handleHealth)

	r.Post("/v1/translate", handleTranslate(deps))
	r.Post("/v1/refine", handleRefine(deps))
	r.Get("/v1/conversations/{id}", handleGetConversation(deps))

	r.Get("/v1/improvements", handleListImprovements(deps))
	r.Post("/v1/improvements/apply", handleApplyImprovement(deps))
	r.Delete("/v1/improvements", handleDiscardImprovements(deps))

	r.Get("/v1/glossary", handleListGlossary(deps))
	r.Post("/v1/glossary", handleUpsertGlossary(deps))
	r.Put("/v1/glossary", handleEditGlossary(deps))
	r.Delete("/v1/glossary", handleDeleteGlossary(deps))

	r.Get("/v1/rules", handleListRules(deps))
	r.Post("/v1/rules", handleUpsertRule(deps))
	r.Delete("/v1/rules", handleDeleteRule(deps))

	r.Get("/v1/usage", handleGetUsage(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type translateRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type translationResponse struct {
	ConversationID string `json:"conversation_id"`
	Translation    string `json:"translation"`
	Status         string `json:"status"`
}

func handleTranslate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if err := validateLanguagePair(req.SourceLanguage, req.TargetLanguage); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		res, err := deps.Engine.Start(r.Context(), workflow.StartRequest{
			Text:           req.Text,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			UserID:         id.UserID,
			ClientAddr:     id.Addr,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, translationResponse{
			ConversationID: res.ConversationID,
			Translation:    res.Translation,
			Status:         res.Status,
		})
	}
}

type refineRequest struct {
	ConversationID string `json:"conversation_id"`
	Feedback       string `json:"feedback"`
}

func handleRefine(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req refineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}
		if req.Feedback == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "feedback is required")
			return
		}

		res, err := deps.Engine.Resume(r.Context(), req.ConversationID, req.Feedback)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, translationResponse{
			ConversationID: res.ConversationID,
			Translation:    res.Translation,
			Status:         res.Status,
		})
	}
}

func handleGetConversation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Engine.Snapshot(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	}
}

func handleListImprovements(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}

		props, err := deps.Extractor.List(conversationID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if props == nil {
			props = []improve.Proposal{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"improvements": props})
	}
}

func handleDiscardImprovements(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}

		if err := deps.Extractor.Discard(conversationID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "discarded"})
	}
}

type applyRequest struct {
	ConversationID string           `json:"conversation_id"`
	Proposal       improve.Proposal `json:"proposal"`
}

func handleApplyImprovement(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req applyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ConversationID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id is required")
			return
		}

		id := identityFrom(r)
		if err := deps.Extractor.Apply(req.ConversationID, req.Proposal, id.UserID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	}
}

type glossaryRequest struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	SourceText     string `json:"source_text"`
	TargetText     string `json:"target_text"`
	Note           string `json:"note"`
}

type glossaryEntryResponse struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	SourceText     string `json:"source_text"`
	TargetText     string `json:"target_text"`
	Note           string `json:"note,omitempty"`
}

func handleListGlossary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srcLang, tgtLang := r.URL.Query().Get("source_language"), r.URL.Query().Get("target_language")
		if err := validateLanguagePair(srcLang, tgtLang); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		entries, err := deps.Glossary.List(id.UserID, srcLang, tgtLang)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]glossaryEntryResponse, 0, len(entries))
		for _, e := range entries {
			out = append(out, glossaryEntryResponse{
				SourceLanguage: e.SourceLanguage,
				TargetLanguage: e.TargetLanguage,
				SourceText:     e.SourceText,
				TargetText:     e.TargetText,
				Note:           e.Note,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": out})
	}
}

func handleUpsertGlossary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req glossaryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateLanguagePair(req.SourceLanguage, req.TargetLanguage); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		err := deps.Glossary.Upsert(storage.GlossaryEntry{
			UserID:         id.UserID,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			SourceText:     req.SourceText,
			TargetText:     req.TargetText,
			Note:           req.Note,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type glossaryEditRequest struct {
	glossaryRequest
	OldSourceText string `json:"old_source_text"`
}

func handleEditGlossary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req glossaryEditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateLanguagePair(req.SourceLanguage, req.TargetLanguage); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		err := deps.Glossary.Rename(id.UserID, req.SourceLanguage, req.TargetLanguage,
			req.OldSourceText, storage.GlossaryEntry{
				UserID:         id.UserID,
				SourceLanguage: req.SourceLanguage,
				TargetLanguage: req.TargetLanguage,
				SourceText:     req.SourceText,
				TargetText:     req.TargetText,
				Note:           req.Note,
			})
		if errors.Is(err, storage.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleDeleteGlossary(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := identityFrom(r)
		err := deps.Glossary.Delete(id.UserID,
			q.Get("source_language"), q.Get("target_language"), q.Get("source_text"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

type ruleRequest struct {
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Text           string `json:"text"`
}

func handleListRules(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		srcLang, tgtLang := r.URL.Query().Get("source_language"), r.URL.Query().Get("target_language")
		if err := validateLanguagePair(srcLang, tgtLang); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		rules, err := deps.Glossary.ListRules(id.UserID, srcLang, tgtLang)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		out := make([]ruleRequest, 0, len(rules))
		for _, rule := range rules {
			out = append(out, ruleRequest{
				SourceLanguage: rule.SourceLanguage,
				TargetLanguage: rule.TargetLanguage,
				Text:           rule.Text,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": out})
	}
}

func handleUpsertRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ruleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateLanguagePair(req.SourceLanguage, req.TargetLanguage); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		id := identityFrom(r)
		err := deps.Glossary.UpsertRule(storage.RuleEntry{
			UserID:         id.UserID,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			Text:           req.Text,
		})
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleDeleteRule(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := identityFrom(r)
		err := deps.Glossary.DeleteRule(id.UserID,
			q.Get("source_language"), q.Get("target_language"), q.Get("text"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleGetUsage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := identityFrom(r)
		used, limit, err := deps.Ledger.Current(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"used":  used,
			"limit": limit,
		})
	}
}

func validateLanguagePair(src, tgt string) error {
	if src == "" || tgt == "" {
		return fmt.Errorf("source_language and target_language are required")
	}
	if _, err := language.Parse(src); err != nil {
		return fmt.Errorf("invalid source_language %q", src)
	}
	if _, err := language.Parse(tgt); err != nil {
		return fmt.Errorf("invalid target_language %q", tgt)
	}
	return nil
}

// writeDomainError maps domain sentinel errors to the HTTP surface.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, usage.ErrQuotaExceeded):
		httpError(w, http.StatusTooManyRequests, "rate_limit_error", "%v", err)
	case errors.Is(err, improve.ErrInvalidProposal):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, llm.ErrBackendFailure):
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
