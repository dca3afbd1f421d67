package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

// Prompt search defaults, mirroring the record search knobs.
const (
	defaultPromptLimit  = 5
	defaultPromptMinSim = 0.3
)

func (g *Gateway) actionPromptStore(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ID         string   `json:"id,omitempty"`
		Tags       []string `json:"tags,omitempty"`
		PromptText string   `json:"promptText"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(req.PromptText)
	if text == "" {
		return nil, fmt.Errorf("%w: promptText is required", memory.ErrInvalidInput)
	}

	emb, err := g.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrEmbeddingFailed, err)
	}

	now := time.Now().UTC()
	prompt := memory.SkillPrompt{
		ID:         req.ID,
		Tags:       normalizeTags(req.Tags),
		PromptText: text,
		Embedding:  emb.Vector,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if prompt.ID == "" {
		prompt.ID = memory.NewPromptID(now)
	}
	if err := g.prompts.Put(ctx, &prompt); err != nil {
		return nil, err
	}
	return map[string]any{
		"promptId":            prompt.ID,
		"stored":              true,
		"embeddingDimensions": len(emb.Vector),
		"embeddingSource":     emb.Source,
	}, nil
}

// promptResult is one scored prompt.
type promptResult struct {
	memory.SkillPrompt
	Similarity float64 `json:"similarity"`
}

func (g *Gateway) actionPromptSearch(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Query         string   `json:"query"`
		Limit         int      `json:"limit,omitempty"`
		MinSimilarity *float64 `json:"minSimilarity,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidInput)
	}
	if req.Limit <= 0 {
		req.Limit = defaultPromptLimit
	}
	minSim := defaultPromptMinSim
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	emb, err := g.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrEmbeddingFailed, err)
	}

	hits, err := g.prompts.Search(ctx, emb.Vector, req.Limit, minSim)
	if err != nil {
		return nil, err
	}

	results := make([]promptResult, 0, len(hits))
	for _, h := range hits {
		if err := g.prompts.RecordHit(ctx, h.Prompt.ID); err != nil {
			g.logger.Warn("prompt hit count update failed", "id", h.Prompt.ID, "error", err)
		}
		results = append(results, promptResult{SkillPrompt: h.Prompt, Similarity: h.Similarity})
	}
	return map[string]any{
		"results":              results,
		"total":                len(results),
		"queryEmbeddingSource": emb.Source,
	}, nil
}

func (g *Gateway) actionPromptList(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Limit  int `json:"limit,omitempty"`
		Offset int `json:"offset,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}

	items, err := g.prompts.List(ctx, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []memory.SkillPrompt{}
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

func (g *Gateway) actionPromptDelete(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", memory.ErrInvalidInput)
	}

	found, err := g.prompts.Delete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"promptId": req.ID, "deleted": found}, nil
}

func (g *Gateway) actionRuleStore(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ContextType string `json:"contextType"`
		ContextKey  string `json:"contextKey"`
		RuleText    string `json:"ruleText"`
		Category    string `json:"category,omitempty"`
		Source      string `json:"source,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rule := memory.ContextRule{
		ID:          memory.NewRuleID(now),
		ContextType: req.ContextType,
		ContextKey:  req.ContextKey,
		RuleText:    req.RuleText,
		Category:    req.Category,
		Source:      req.Source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Put validates type and key and refreshes the struct with the
	// canonical row when the triple already existed.
	if err := g.rules.Put(ctx, &rule); err != nil {
		return nil, err
	}
	return map[string]any{"ruleId": rule.ID, "stored": true, "rule": rule}, nil
}

func (g *Gateway) actionRuleGet(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ContextType string `json:"contextType"`
		ContextKey  string `json:"contextKey"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.ContextType == "" || req.ContextKey == "" {
		return nil, fmt.Errorf("%w: contextType and contextKey are required", memory.ErrInvalidInput)
	}

	rules, err := g.rules.Get(ctx, req.ContextType, req.ContextKey)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []memory.ContextRule{}
	}
	return map[string]any{"rules": rules, "count": len(rules)}, nil
}

func (g *Gateway) actionRuleList(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ContextType string `json:"contextType,omitempty"`
		Limit       int    `json:"limit,omitempty"`
		Offset      int    `json:"offset,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}

	rules, err := g.rules.List(ctx, req.ContextType, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []memory.ContextRule{}
	}
	return map[string]any{"items": rules, "count": len(rules)}, nil
}

func (g *Gateway) actionRuleDelete(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", memory.ErrInvalidInput)
	}

	found, err := g.rules.Delete(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ruleId": req.ID, "deleted": found}, nil
}

func (g *Gateway) actionSkillInstall(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		ContractMD  string `json:"contractMd,omitempty"`
		ExecPath    string `json:"execPath"`
		ExecType    string `json:"execType"`
		Enabled     *bool  `json:"enabled,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if g.skillMgr == nil {
		return nil, fmt.Errorf("skills manager not available")
	}

	now := time.Now().UTC()
	skill := memory.InstalledSkill{
		ID:          memory.NewSkillID(now),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		ContractMD:  req.ContractMD,
		ExecPath:    req.ExecPath,
		ExecType:    req.ExecType,
		Enabled:     req.Enabled == nil || *req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.skillMgr.Validate(&skill); err != nil {
		return nil, err
	}
	if err := g.registry.Upsert(ctx, &skill); err != nil {
		return nil, err
	}
	return map[string]any{"skill": skill, "installed": true}, nil
}

func (g *Gateway) actionSkillGet(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", memory.ErrInvalidInput)
	}
	return g.registry.GetByName(ctx, req.Name)
}

func (g *Gateway) actionSkillList(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		IncludeDisabled bool `json:"includeDisabled,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}

	items, err := g.registry.List(ctx, req.IncludeDisabled)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []memory.InstalledSkill{}
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

func (g *Gateway) actionSkillSetEnabled(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", memory.ErrInvalidInput)
	}

	found, err := g.registry.SetEnabled(ctx, req.Name, req.Enabled)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", memory.ErrSkillNotFound, req.Name)
	}
	return map[string]any{"name": req.Name, "enabled": req.Enabled}, nil
}

func (g *Gateway) actionSkillUninstall(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", memory.ErrInvalidInput)
	}

	found, err := g.registry.Remove(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	g.auditAction(security.EventSkillRemove, env.Action, "", req.Name)
	return map[string]any{"name": req.Name, "removed": found}, nil
}

func (g *Gateway) actionSkillSync(ctx context.Context, _ *Envelope) (any, error) {
	if g.skillMgr == nil {
		return nil, fmt.Errorf("skills manager not available")
	}
	return g.skillMgr.Sync(ctx)
}

// normalizeTags trims and drops empty tags. Tags are stored comma-joined,
// so embedded commas are stripped.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ReplaceAll(strings.TrimSpace(t), ",", " ")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
