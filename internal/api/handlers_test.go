package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/traduki/traduki/internal/conversation"
	"github.com/traduki/traduki/internal/glossary"
	"github.com/traduki/traduki/internal/improve"
	"github.com/traduki/traduki/internal/llm"
	"github.com/traduki/traduki/internal/storage"
	"github.com/traduki/traduki/internal/usage"
	"github.com/traduki/traduki/internal/workflow"
)

// stubBackend is a canned llm.Backend for handler tests.
type stubBackend struct {
	name      string
	content   string
	toolCalls []llm.ToolCall
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Complete(ctx context.Context, prompt string, tools []llm.ToolDef) (*llm.Completion, error) {
	return &llm.Completion{Content: s.content, ToolCalls: s.toolCalls, Cost: 100}, nil
}

// syncEnqueuer runs extraction inline so tests can observe proposals right
// after a refine call.
type syncEnqueuer struct {
	extractor *improve.Extractor
}

func (s *syncEnqueuer) EnqueueExtraction(conversationID string) error {
	return s.extractor.CheckForUpdates(context.Background(), conversationID)
}

type testApp struct {
	handler http.Handler
	backend *stubBackend
}

func newTestApp(t *testing.T, anonLimit int64) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	backend := &stubBackend{name: "primary", content: "hola mundo"}
	ledger := usage.NewLedger(store, 10000, anonLimit)
	gateway := llm.NewGateway(backend, &stubBackend{name: "fallback", content: "fallback"}, ledger, 100000)

	gm := glossary.NewManager(store)
	convs := conversation.NewMemStore()
	cache := improve.NewCache()
	extractor := improve.NewExtractor(gateway, convs, gm, cache, nil)
	engine := workflow.NewEngine(gateway, convs, gm, &syncEnqueuer{extractor: extractor}, nil)

	return &testApp{
		handler: NewAppHandler(AppDeps{
			Engine:    engine,
			Extractor: extractor,
			Glossary:  gm,
			Ledger:    ledger,
		}),
		backend: backend,
	}
}

func (a *testApp) do(t *testing.T, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.RemoteAddr = "10.0.0.1:12345"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestTranslateAndRefine(t *testing.T) {
	app := newTestApp(t, 4000)

	rec := app.do(t, http.MethodPost, "/v1/translate",
		`{"text":"hello world","source_language":"en","target_language":"es"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("translate status = %d: %s", rec.Code, rec.Body)
	}
	res := decode[translationResponse](t, rec)
	if res.Translation != "hola mundo" {
		t.Errorf("translation = %q", res.Translation)
	}
	if res.ConversationID == "" || res.Status != conversation.StatusAwaitingFeedback {
		t.Errorf("response = %+v", res)
	}

	app.backend.content = "hola, mundo entero"
	rec = app.do(t, http.MethodPost, "/v1/refine",
		`{"conversation_id":"`+res.ConversationID+`","feedback":"more formal please"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refine status = %d: %s", rec.Code, rec.Body)
	}
	refined := decode[translationResponse](t, rec)
	if refined.Translation != "hola, mundo entero" {
		t.Errorf("refined translation = %q", refined.Translation)
	}

	rec = app.do(t, http.MethodGet, "/v1/conversations/"+res.ConversationID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot status = %d", rec.Code)
	}
	conv := decode[conversation.Conversation](t, rec)
	if len(conv.Turns) != 3 {
		t.Errorf("turns = %d, want 3", len(conv.Turns))
	}
}

func TestTranslateValidation(t *testing.T) {
	app := newTestApp(t, 4000)

	cases := []struct {
		name string
		body string
	}{
		{"missing text", `{"source_language":"en","target_language":"es"}`},
		{"missing languages", `{"text":"hi"}`},
		{"bad language code", `{"text":"hi","source_language":"not a lang!","target_language":"es"}`},
		{"malformed json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := app.do(t, http.MethodPost, "/v1/translate", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRefineUnknownConversation(t *testing.T) {
	app := newTestApp(t, 4000)

	rec := app.do(t, http.MethodPost, "/v1/refine",
		`{"conversation_id":"does-not-exist","feedback":"x"}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", rec.Code, rec.Body)
	}
}

func TestQuotaExceededSurfacesAs429(t *testing.T) {
	app := newTestApp(t, 0)

	rec := app.do(t, http.MethodPost, "/v1/translate",
		`{"text":"hello","source_language":"en","target_language":"es"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429: %s", rec.Code, rec.Body)
	}
}

func TestGlossaryCRUD(t *testing.T) {
	app := newTestApp(t, 4000)
	hdr := map[string]string{"X-User-ID": "u1"}

	rec := app.do(t, http.MethodPost, "/v1/glossary",
		`{"source_language":"en","target_language":"es","source_text":"Cat","target_text":"gato","note":"animal"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/glossary?source_language=en&target_language=es", "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[struct {
		Entries []glossaryEntryResponse `json:"entries"`
	}](t, rec)
	if len(list.Entries) != 1 || list.Entries[0].SourceText != "cat" {
		t.Errorf("entries = %+v", list.Entries)
	}

	// Another user does not see the entry.
	rec = app.do(t, http.MethodGet, "/v1/glossary?source_language=en&target_language=es", "",
		map[string]string{"X-User-ID": "u2"})
	other := decode[struct {
		Entries []glossaryEntryResponse `json:"entries"`
	}](t, rec)
	if len(other.Entries) != 0 {
		t.Errorf("entries leaked across users: %+v", other.Entries)
	}

	rec = app.do(t, http.MethodDelete,
		"/v1/glossary?source_language=en&target_language=es&source_text=cat", "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodDelete,
		"/v1/glossary?source_language=en&target_language=es&source_text=cat", "", hdr)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestGlossaryEdit(t *testing.T) {
	app := newTestApp(t, 4000)
	hdr := map[string]string{"X-User-ID": "u1"}

	rec := app.do(t, http.MethodPost, "/v1/glossary",
		`{"source_language":"en","target_language":"es","source_text":"colour","target_text":"color"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodPut, "/v1/glossary",
		`{"source_language":"en","target_language":"es","old_source_text":"colour","source_text":"color","target_text":"color","note":"US spelling"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/glossary?source_language=en&target_language=es", "", hdr)
	list := decode[struct {
		Entries []glossaryEntryResponse `json:"entries"`
	}](t, rec)
	if len(list.Entries) != 1 {
		t.Fatalf("entries = %+v, want the old key replaced", list.Entries)
	}
	if list.Entries[0].SourceText != "color" || list.Entries[0].Note != "US spelling" {
		t.Errorf("entry = %+v", list.Entries[0])
	}

	// Editing a term that does not exist reports not found.
	rec = app.do(t, http.MethodPut, "/v1/glossary",
		`{"source_language":"en","target_language":"es","old_source_text":"colour","source_text":"hue","target_text":"tono"}`, hdr)
	if rec.Code != http.StatusNotFound {
		t.Errorf("edit of missing term status = %d, want 404", rec.Code)
	}
}

func TestRulesCRUD(t *testing.T) {
	app := newTestApp(t, 4000)
	hdr := map[string]string{"X-User-ID": "u1"}

	rec := app.do(t, http.MethodPost, "/v1/rules",
		`{"source_language":"en","target_language":"es","text":"use informal address"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/rules?source_language=en&target_language=es", "", hdr)
	list := decode[struct {
		Rules []ruleRequest `json:"rules"`
	}](t, rec)
	if len(list.Rules) != 1 || list.Rules[0].Text != "use informal address" {
		t.Errorf("rules = %+v", list.Rules)
	}
}

func TestImprovementFlow(t *testing.T) {
	app := newTestApp(t, 4000)
	hdr := map[string]string{"X-User-ID": "u1"}

	rec := app.do(t, http.MethodPost, "/v1/translate",
		`{"text":"the cat sat","source_language":"en","target_language":"es"}`, hdr)
	res := decode[translationResponse](t, rec)

	// The refinement round's extraction returns a glossary proposal.
	args, _ := json.Marshal(map[string]string{"source": "cat", "target": "minino", "note": "informal"})
	app.backend.toolCalls = []llm.ToolCall{{Name: improve.ToolGlossaryUpdate, Arguments: args}}
	rec = app.do(t, http.MethodPost, "/v1/refine",
		`{"conversation_id":"`+res.ConversationID+`","feedback":"say minino"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("refine status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/improvements?conversation_id="+res.ConversationID, "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body)
	}
	list := decode[struct {
		Improvements []improve.Proposal `json:"improvements"`
	}](t, rec)
	if len(list.Improvements) != 1 {
		t.Fatalf("improvements = %+v", list.Improvements)
	}

	proposal, _ := json.Marshal(list.Improvements[0])
	rec = app.do(t, http.MethodPost, "/v1/improvements/apply",
		`{"conversation_id":"`+res.ConversationID+`","proposal":`+string(proposal)+`}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("apply status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/glossary?source_language=en&target_language=es", "", hdr)
	entries := decode[struct {
		Entries []glossaryEntryResponse `json:"entries"`
	}](t, rec)
	if len(entries.Entries) != 1 || entries.Entries[0].TargetText != "minino" {
		t.Errorf("glossary after apply = %+v", entries.Entries)
	}

	// Applying the same proposal again is rejected.
	rec = app.do(t, http.MethodPost, "/v1/improvements/apply",
		`{"conversation_id":"`+res.ConversationID+`","proposal":`+string(proposal)+`}`, hdr)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("re-apply status = %d, want 400", rec.Code)
	}
}

func TestImprovementDiscard(t *testing.T) {
	app := newTestApp(t, 4000)
	hdr := map[string]string{"X-User-ID": "u1"}

	rec := app.do(t, http.MethodPost, "/v1/translate",
		`{"text":"the cat sat","source_language":"en","target_language":"es"}`, hdr)
	res := decode[translationResponse](t, rec)

	args, _ := json.Marshal(map[string]string{"source": "cat", "target": "minino"})
	app.backend.toolCalls = []llm.ToolCall{{Name: improve.ToolGlossaryUpdate, Arguments: args}}
	rec = app.do(t, http.MethodPost, "/v1/refine",
		`{"conversation_id":"`+res.ConversationID+`","feedback":"say minino"}`, hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("refine status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodDelete, "/v1/improvements?conversation_id="+res.ConversationID, "", hdr)
	if rec.Code != http.StatusOK {
		t.Fatalf("discard status = %d: %s", rec.Code, rec.Body)
	}

	rec = app.do(t, http.MethodGet, "/v1/improvements?conversation_id="+res.ConversationID, "", hdr)
	list := decode[struct {
		Improvements []improve.Proposal `json:"improvements"`
	}](t, rec)
	if len(list.Improvements) != 0 {
		t.Errorf("improvements after discard = %+v, want none", list.Improvements)
	}

	// Nothing was persisted on discard.
	rec = app.do(t, http.MethodGet, "/v1/glossary?source_language=en&target_language=es", "", hdr)
	entries := decode[struct {
		Entries []glossaryEntryResponse `json:"entries"`
	}](t, rec)
	if len(entries.Entries) != 0 {
		t.Errorf("glossary after discard = %+v, want empty", entries.Entries)
	}

	rec = app.do(t, http.MethodDelete, "/v1/improvements?conversation_id=missing", "", hdr)
	if rec.Code != http.StatusNotFound {
		t.Errorf("discard of unknown conversation status = %d, want 404", rec.Code)
	}
}

func TestUsageEndpoint(t *testing.T) {
	app := newTestApp(t, 4000)

	rec := app.do(t, http.MethodPost, "/v1/translate",
		`{"text":"hello","source_language":"en","target_language":"es"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("translate status = %d", rec.Code)
	}

	rec = app.do(t, http.MethodGet, "/v1/usage", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage status = %d", rec.Code)
	}
	res := decode[struct {
		Used  int64 `json:"used"`
		Limit int64 `json:"limit"`
	}](t, rec)
	if res.Used != 100 {
		t.Errorf("used = %d, want the stub backend's reported cost", res.Used)
	}
	if res.Limit != 4000 {
		t.Errorf("limit = %d, want anonymous ceiling", res.Limit)
	}
}

func TestBearerAuth(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gm := glossary.NewManager(store)
	h := NewAppHandler(AppDeps{Glossary: gm, Token: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with token = %d, want 200", rec.Code)
	}
}

func TestClientAddrResolution(t *testing.T) {
	cases := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.2"}, "203.0.113.7"},
		{"loopback hop skipped", map[string]string{"X-Forwarded-For": "127.0.0.1, 203.0.113.7"}, "203.0.113.7"},
		{"loopback only falls through", map[string]string{"X-Forwarded-For": "127.0.0.1", "X-Real-IP": "203.0.113.8"}, "203.0.113.8"},
		{"ipv6 loopback skipped", map[string]string{"X-Forwarded-For": "::1", "X-Real-IP": "::1", "CF-Connecting-IP": "203.0.113.9"}, "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "203.0.113.8"}, "203.0.113.8"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "203.0.113.9"}, "203.0.113.9"},
		{"socket fallback", nil, "10.0.0.1"},
		{"all loopback uses socket", map[string]string{"X-Forwarded-For": "127.0.0.1"}, "10.0.0.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "10.0.0.1:12345"
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			if got := clientAddr(req); got != tc.want {
				t.Errorf("clientAddr = %q, want %q", got, tc.want)
			}
		})
	}
}
