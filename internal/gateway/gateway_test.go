package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/core"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/skills"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unitVec builds a unit vector concentrated on the given axes.
func unitVec(axes ...int) []float32 {
	v := make([]float32, memory.EmbeddingDim)
	for _, a := range axes {
		v[a] = 1
	}
	vec.Normalize(v)
	return v
}

// cannedEmbedder returns unit vectors keyed by exact text. Texts without
// a canned vector map to a shared off-axis default, near-orthogonal to
// everything canned.
type cannedEmbedder struct {
	vecs map[string][]float32
	err  error
}

func (e *cannedEmbedder) Embed(_ context.Context, text string) (memory.Embedding, error) {
	if e.err != nil {
		return memory.Embedding{}, e.err
	}
	v, ok := e.vecs[text]
	if !ok {
		v = unitVec(memory.EmbeddingDim - 1)
	}
	return memory.Embedding{Vector: v, Source: memory.SourceModel}, nil
}

// fakePromptStore is a map-backed memory.SkillPromptStore.
type fakePromptStore struct {
	mu      sync.Mutex
	prompts map[string]memory.SkillPrompt
}

func newFakePromptStore() *fakePromptStore {
	return &fakePromptStore{prompts: make(map[string]memory.SkillPrompt)}
}

func (s *fakePromptStore) Put(_ context.Context, p *memory.SkillPrompt) error {
	if p.ID == "" {
		return fmt.Errorf("%w: prompt id is required", memory.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[p.ID] = *p
	return nil
}

func (s *fakePromptStore) Get(_ context.Context, id string) (*memory.SkillPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return nil, memory.ErrPromptNotFound
	}
	return &p, nil
}

func (s *fakePromptStore) Search(_ context.Context, query []float32, k int, minSimilarity float64) ([]memory.PromptHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []memory.PromptHit
	for _, p := range s.prompts {
		if p.Embedding == nil {
			continue
		}
		sim := vec.Cosine(query, p.Embedding)
		if sim < minSimilarity {
			continue
		}
		hits = append(hits, memory.PromptHit{Prompt: p, Similarity: sim})
	}
	slices.SortFunc(hits, func(a, b memory.PromptHit) int {
		if a.Similarity != b.Similarity {
			if a.Similarity > b.Similarity {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Prompt.ID, b.Prompt.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *fakePromptStore) List(_ context.Context, limit, offset int) ([]memory.SkillPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]memory.SkillPrompt, 0, len(s.prompts))
	for _, p := range s.prompts {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b memory.SkillPrompt) int {
		return strings.Compare(b.ID, a.ID)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakePromptStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.prompts[id]
	delete(s.prompts, id)
	return ok, nil
}

func (s *fakePromptStore) RecordHit(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return memory.ErrPromptNotFound
	}
	p.HitCount++
	s.prompts[id] = p
	return nil
}

// fakeRuleStore is a map-backed memory.ContextRuleStore with the same
// validation and hit-count behavior as the SQLite implementation.
type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[string]memory.ContextRule
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]memory.ContextRule)}
}

func (s *fakeRuleStore) Put(_ context.Context, r *memory.ContextRule) error {
	r.ContextType = strings.TrimSpace(r.ContextType)
	r.ContextKey = strings.ToLower(strings.TrimSpace(r.ContextKey))
	r.RuleText = strings.TrimSpace(r.RuleText)

	if r.ContextType != memory.ContextTypeSite && r.ContextType != memory.ContextTypeApp {
		return fmt.Errorf("%w: contextType must be site or app, got %q", memory.ErrInvalidInput, r.ContextType)
	}
	if r.ContextKey == "" || r.RuleText == "" {
		return fmt.Errorf("%w: contextKey and ruleText are required", memory.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rules {
		if existing.ContextType == r.ContextType && existing.ContextKey == r.ContextKey && existing.RuleText == r.RuleText {
			existing.Category = r.Category
			existing.Source = r.Source
			existing.UpdatedAt = r.UpdatedAt
			s.rules[existing.ID] = existing
			*r = existing
			return nil
		}
	}
	s.rules[r.ID] = *r
	return nil
}

func (s *fakeRuleStore) Get(_ context.Context, contextType, contextKey string) ([]memory.ContextRule, error) {
	contextKey = strings.ToLower(strings.TrimSpace(contextKey))

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.ContextRule
	for id, r := range s.rules {
		if r.ContextType == contextType && r.ContextKey == contextKey {
			r.HitCount++
			s.rules[id] = r
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b memory.ContextRule) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *fakeRuleStore) List(_ context.Context, contextType string, limit, offset int) ([]memory.ContextRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.ContextRule
	for _, r := range s.rules {
		if contextType != "" && r.ContextType != contextType {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b memory.ContextRule) int {
		return strings.Compare(b.ID, a.ID)
	})
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeRuleStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rules[id]
	delete(s.rules, id)
	return ok, nil
}

// fakeRegistry is a map-backed memory.SkillRegistry keyed by name.
type fakeRegistry struct {
	mu     sync.Mutex
	skills map[string]memory.InstalledSkill
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{skills: make(map[string]memory.InstalledSkill)}
}

func (s *fakeRegistry) Upsert(_ context.Context, sk *memory.InstalledSkill) error {
	if sk.ID == "" || sk.Name == "" {
		return fmt.Errorf("%w: skill id and name are required", memory.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.skills[sk.Name]; ok {
		sk.ID = existing.ID
		sk.CreatedAt = existing.CreatedAt
	}
	s.skills[sk.Name] = *sk
	return nil
}

func (s *fakeRegistry) GetByName(_ context.Context, name string) (*memory.InstalledSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[name]
	if !ok {
		return nil, memory.ErrSkillNotFound
	}
	return &sk, nil
}

func (s *fakeRegistry) List(_ context.Context, includeDisabled bool) ([]memory.InstalledSkill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []memory.InstalledSkill
	for _, sk := range s.skills {
		if !includeDisabled && !sk.Enabled {
			continue
		}
		out = append(out, sk)
	}
	slices.SortFunc(out, func(a, b memory.InstalledSkill) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (s *fakeRegistry) SetEnabled(_ context.Context, name string, enabled bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sk, ok := s.skills[name]
	if !ok {
		return false, nil
	}
	sk.Enabled = enabled
	s.skills[name] = sk
	return true, nil
}

func (s *fakeRegistry) Remove(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.skills[name]
	delete(s.skills, name)
	return ok, nil
}

// fakeSkillManager validates against a real sandbox directory and returns
// a canned sync report.
type fakeSkillManager struct {
	sandbox string
	report  skills.Report
	err     error
}

func (f *fakeSkillManager) Sync(context.Context) (skills.Report, error) {
	return f.report, f.err
}

func (f *fakeSkillManager) Validate(s *memory.InstalledSkill) error {
	return skills.ValidateSkill(s, f.sandbox)
}

// testDeps are the registry entries the fixture registers before service
// resolution runs. Nil fields get working in-memory defaults.
type testDeps struct {
	store    memory.RecordStore
	embedder memory.Embedder
	prompts  memory.SkillPromptStore
	rules    memory.ContextRuleStore
	registry memory.SkillRegistry
	skillMgr skillManager
}

type testEnv struct {
	g     *Gateway
	ts    *httptest.Server
	hub   *events.Hub
	store memory.RecordStore
	embed *cannedEmbedder

	// key is the bearer token sent by call(); empty sends none.
	key string
}

// newTestGateway provisions a gateway, resolves its services from a
// populated registry, and serves its router on a test server. The real
// module Start is skipped only for its TCP listener.
func newTestGateway(t *testing.T, cfg Config, deps testDeps) *testEnv {
	t.Helper()

	embed := &cannedEmbedder{vecs: map[string][]float32{}}
	if deps.embedder == nil {
		deps.embedder = embed
	}
	if deps.store == nil {
		deps.store = memory.NewInMemoryStore()
	}
	if deps.prompts == nil {
		deps.prompts = newFakePromptStore()
	}
	if deps.rules == nil {
		deps.rules = newFakeRuleStore()
	}
	if deps.registry == nil {
		deps.registry = newFakeRegistry()
	}

	svc := memory.NewService(deps.store, deps.embedder, testLogger(),
		memory.Config{MinSimilarity: 0.3})

	appCtx := core.NewAppContext(testLogger(), t.TempDir())
	appCtx.RegisterService("memory", svc)
	appCtx.RegisterService("memory.store", deps.store)
	appCtx.RegisterService("embedder", deps.embedder)
	appCtx.RegisterService("store.prompts", deps.prompts)
	appCtx.RegisterService("store.rules", deps.rules)
	appCtx.RegisterService("store.skills", deps.registry)
	if deps.skillMgr != nil {
		appCtx.RegisterService("skills.manager", deps.skillMgr)
	}

	g := &Gateway{config: cfg}
	if err := g.Provision(appCtx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := g.resolveServices(); err != nil {
		t.Fatalf("resolve services: %v", err)
	}

	instrumented, _ := g.embedder.(memory.InstrumentedEmbedder)
	if err := g.metrics.Register(newStatsCollector(g.store, instrumented, g.hub)); err != nil {
		t.Fatalf("register collector: %v", err)
	}
	g.actions = g.actionTable()
	g.startedAt = time.Now()

	ts := httptest.NewServer(g.buildRouter())
	t.Cleanup(ts.Close)

	return &testEnv{g: g, ts: ts, hub: g.hub, store: deps.store, embed: embed}
}

// envelopeFor marshals a request envelope for action with requestId
// "req-1" and an empty context.
func envelopeFor(t *testing.T, action string, payload any) []byte {
	t.Helper()
	return envelopeWithContext(t, action, payload, RequestContext{})
}

func envelopeWithContext(t *testing.T, action string, payload any, rctx RequestContext) []byte {
	t.Helper()

	env := Envelope{
		Version:   ProtocolVersion,
		Service:   buildinfo.ServiceName,
		Action:    action,
		RequestID: "req-1",
		Context:   rctx,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		env.Payload = raw
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

// call posts a well-formed envelope for action and decodes the response.
func (e *testEnv) call(t *testing.T, action string, payload any) (int, ResponseEnvelope) {
	t.Helper()
	return e.callRaw(t, action, envelopeFor(t, action, payload), nil)
}

// callRaw posts body to the action endpoint; mutate can adjust the
// request before sending.
func (e *testEnv) callRaw(t *testing.T, action string, body []byte, mutate func(*http.Request)) (int, ResponseEnvelope) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/"+action, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.key != "" {
		req.Header.Set("Authorization", "Bearer "+e.key)
	}
	if mutate != nil {
		mutate(req)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", action, err)
	}
	defer resp.Body.Close()

	var out ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, out
}

// dataMap asserts the response data is a JSON object and returns it.
func dataMap(t *testing.T, env ResponseEnvelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("response data has type %T, want object", env.Data)
	}
	return m
}

func wantErrorCode(t *testing.T, status int, resp ResponseEnvelope, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Errorf("HTTP status = %d, want %d", status, wantStatus)
	}
	if resp.Status != "error" {
		t.Fatalf("envelope status = %q, want error", resp.Status)
	}
	if resp.Error == nil || resp.Error.Code != wantCode {
		t.Errorf("error = %+v, want code %s", resp.Error, wantCode)
	}
}

func TestDispatch_AuthLadder(t *testing.T) {
	env := newTestGateway(t, Config{APIKeys: "secret-key,other-key"}, testDeps{})

	// No credential.
	status, resp := env.call(t, "memory.list", nil)
	wantErrorCode(t, status, resp, http.StatusUnauthorized, "UNAUTHORIZED")

	// Wrong credential.
	env.key = "wrong"
	status, resp = env.call(t, "memory.list", nil)
	wantErrorCode(t, status, resp, http.StatusUnauthorized, "UNAUTHORIZED")

	// Either configured key passes.
	for _, key := range []string{"secret-key", "other-key"} {
		env.key = key
		status, resp = env.call(t, "memory.list", nil)
		if status != http.StatusOK || resp.Status != "ok" {
			t.Errorf("key %q: status = %d/%s, want 200/ok", key, status, resp.Status)
		}
	}

	// access_token query fallback for header-less clients.
	env.key = ""
	body := envelopeFor(t, "memory.list", nil)
	status, resp = env.callRaw(t, "memory.list?access_token=secret-key", body, nil)
	if status != http.StatusOK || resp.Status != "ok" {
		t.Errorf("query token: status = %d/%s, want 200/ok", status, resp.Status)
	}
}

func TestDispatch_NoKeysDisablesAuth(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	status, resp := env.call(t, "memory.list", nil)
	if status != http.StatusOK || resp.Status != "ok" {
		t.Errorf("status = %d/%s, want 200/ok with auth disabled", status, resp.Status)
	}
}

func TestDispatch_EnvelopeValidation(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	valid := func() Envelope {
		return Envelope{
			Version:   ProtocolVersion,
			Service:   buildinfo.ServiceName,
			Action:    "memory.list",
			RequestID: "req-42",
		}
	}

	cases := []struct {
		name   string
		mutate func(*Envelope)
	}{
		{"wrong version", func(e *Envelope) { e.Version = "mcp.v2" }},
		{"wrong service", func(e *Envelope) { e.Service = "other-service" }},
		{"empty action", func(e *Envelope) { e.Action = "" }},
		{"action mismatch", func(e *Envelope) { e.Action = "memory.search" }},
		{"missing requestId", func(e *Envelope) { e.RequestID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid()
			tc.mutate(&e)
			body, err := json.Marshal(e)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			status, resp := env.callRaw(t, "memory.list", body, nil)
			wantErrorCode(t, status, resp, http.StatusBadRequest, "INVALID_REQUEST")
		})
	}
}

func TestDispatch_ErrorEchoesRequestID(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	// Action mismatch parses far enough to recover the caller's id.
	e := Envelope{
		Version:   ProtocolVersion,
		Service:   buildinfo.ServiceName,
		Action:    "memory.search",
		RequestID: "req-echo-me",
	}
	body, _ := json.Marshal(e)
	_, resp := env.callRaw(t, "memory.list", body, nil)
	if resp.RequestID != "req-echo-me" {
		t.Errorf("requestId = %q, want req-echo-me", resp.RequestID)
	}
}

func TestDispatch_MalformedJSON(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	status, resp := env.callRaw(t, "memory.list", []byte("{not json"), nil)
	wantErrorCode(t, status, resp, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestDispatch_UnknownAction(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	status, resp := env.call(t, "memory.frobnicate", nil)
	wantErrorCode(t, status, resp, http.StatusNotFound, "NOT_FOUND")
}

func TestDispatch_PayloadTooLarge(t *testing.T) {
	env := newTestGateway(t, Config{MaxBodyBytes: 256}, testDeps{})

	big := map[string]any{"text": strings.Repeat("x", 1024)}
	status, resp := env.call(t, "memory.store", big)
	wantErrorCode(t, status, resp, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE")
}

func TestDispatch_DeepJSONRejected(t *testing.T) {
	env := newTestGateway(t, Config{}, testDeps{})

	depth := security.DefaultMaxJSONDepth + 4
	nested := strings.Repeat("[", depth) + strings.Repeat("]", depth)
	status, resp := env.call(t, "memory.store", json.RawMessage(nested))
	wantErrorCode(t, status, resp, http.StatusBadRequest, "INVALID_REQUEST")
}

func TestDispatch_RequestRateLimit(t *testing.T) {
	env := newTestGateway(t, Config{
		RateLimits: security.RateLimitConfig{RequestsPerMin: 2},
	}, testDeps{})

	for i := 0; i < 2; i++ {
		if status, _ := env.call(t, "memory.list", nil); status != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, status)
		}
	}
	status, resp := env.call(t, "memory.list", nil)
	wantErrorCode(t, status, resp, http.StatusTooManyRequests, CodeRateLimited)
}

func TestDispatch_WriteRateLimit(t *testing.T) {
	env := newTestGateway(t, Config{
		RateLimits: security.RateLimitConfig{WritesPerMin: 1},
	}, testDeps{})

	status, _ := env.call(t, "memory.store", map[string]any{"text": "first write"})
	if status != http.StatusOK {
		t.Fatalf("first write: status = %d, want 200", status)
	}

	status, resp := env.call(t, "memory.store", map[string]any{"text": "second write"})
	wantErrorCode(t, status, resp, http.StatusTooManyRequests, CodeRateLimited)

	// Reads use a separate bucket.
	if status, _ := env.call(t, "memory.list", nil); status != http.StatusOK {
		t.Errorf("read after write throttle: status = %d, want 200", status)
	}
}

func TestDispatch_AuditsAuthFailures(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	env := newTestGateway(t, Config{APIKeys: "secret", AuditLog: auditPath}, testDeps{})

	env.key = "wrong"
	env.call(t, "memory.list", nil)

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if !strings.Contains(string(data), string(security.EventAuthFailure)) {
		t.Errorf("audit log missing auth failure event: %s", data)
	}
}

func TestErrorCode_Mapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{errUnauthorized, "UNAUTHORIZED"},
		{security.ErrRateLimited, CodeRateLimited},
		{security.ErrPayloadTooLarge, "PAYLOAD_TOO_LARGE"},
		{security.ErrJSONTooDeep, "INVALID_REQUEST"},
		{security.ErrInvalidJSON, "INVALID_REQUEST"},
		{errUnknownAction, "NOT_FOUND"},
		{memory.ErrRecordNotFound, "NOT_FOUND"},
		{memory.ErrInvalidInput, "INVALID_REQUEST"},
		{memory.ErrEmbeddingFailed, "EMBEDDING_FAILED"},
		{memory.ErrDatabase, "DATABASE_ERROR"},
		{errors.New("mystery"), "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		if got := errorCode(fmt.Errorf("wrapped: %w", tc.err)); got != tc.want {
			t.Errorf("errorCode(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatusOf(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{"UNAUTHORIZED", http.StatusUnauthorized},
		{"INVALID_REQUEST", http.StatusBadRequest},
		{"PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge},
		{"NOT_FOUND", http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{"EMBEDDING_FAILED", http.StatusInternalServerError},
		{"DATABASE_ERROR", http.StatusInternalServerError},
		{"INTERNAL_ERROR", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatusOf(tc.code); got != tc.want {
			t.Errorf("httpStatusOf(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestConfig_Defaults(t *testing.T) {
	var c Config
	c.defaults()

	if got := c.addr(); got != "127.0.0.1:3001" {
		t.Errorf("addr() = %q, want 127.0.0.1:3001", got)
	}
	if c.WriteTimeout <= actionDeadline {
		t.Errorf("WriteTimeout %v must exceed the %v action deadline", c.WriteTimeout, actionDeadline)
	}
	if c.MaxBodyBytes != security.DefaultMaxPayloadSize {
		t.Errorf("MaxBodyBytes = %d, want %d", c.MaxBodyBytes, security.DefaultMaxPayloadSize)
	}
}

func TestConfig_KeysAndOrigins(t *testing.T) {
	c := Config{
		APIKeys:        " k1, ,k2 ",
		AllowedOrigins: "https://a.example,*",
	}
	if got := c.keys(); !slices.Equal(got, []string{"k1", "k2"}) {
		t.Errorf("keys() = %v, want [k1 k2]", got)
	}
	if got := c.origins(); !slices.Equal(got, []string{"https://a.example", "*"}) {
		t.Errorf("origins() = %v, want [https://a.example *]", got)
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	env := newTestGateway(t, Config{AllowedOrigins: "https://app.example"}, testDeps{})

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/memory.store", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "https://app.example")

	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin = %q, want the requesting origin", got)
	}

	// Unlisted origins get no CORS headers.
	req, _ = http.NewRequest(http.MethodOptions, env.ts.URL+"/memory.store", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp2, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q for unlisted origin, want empty", got)
	}
}
