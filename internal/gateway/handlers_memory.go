package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/classifier"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/events"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/monitor"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/vec"
)

func (g *Gateway) actionMemoryStore(ctx context.Context, env *Envelope) (any, error) {
	var req memory.StoreRequest
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}
	if req.SessionID == "" {
		req.SessionID = env.Context.SessionID
	}

	res, err := g.svc.Store(ctx, req)
	if err != nil {
		return nil, err
	}
	g.hub.Publish(events.TypeMemoryStored, map[string]any{
		"memoryId": res.MemoryID,
		"userId":   userOrDefault(req.UserID),
	})
	return res, nil
}

func (g *Gateway) actionMemorySearch(ctx context.Context, env *Envelope) (any, error) {
	var req memory.SearchRequest
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}
	if req.SessionID == "" {
		req.SessionID = env.Context.SessionID
	}
	return g.svc.Search(ctx, req)
}

func (g *Gateway) actionMemoryRetrieve(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ID     string `json:"id"`
		UserID string `json:"userId,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}
	return g.svc.Retrieve(ctx, req.ID, req.UserID)
}

func (g *Gateway) actionMemoryUpdate(ctx context.Context, env *Envelope) (any, error) {
	var req memory.UpdateRequest
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}
	return g.svc.Update(ctx, req)
}

func (g *Gateway) actionMemoryDelete(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		ID     string `json:"id"`
		UserID string `json:"userId,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}

	found, err := g.svc.Delete(ctx, req.ID, req.UserID)
	if err != nil {
		return nil, err
	}
	g.auditAction(security.EventMemoryDelete, env.Action, userOrDefault(req.UserID), req.ID)
	if found {
		g.hub.Publish(events.TypeMemoryDeleted, map[string]any{
			"memoryId": req.ID,
			"userId":   userOrDefault(req.UserID),
		})
	}
	return map[string]any{"memoryId": req.ID, "deleted": found}, nil
}

func (g *Gateway) actionMemoryList(ctx context.Context, env *Envelope) (any, error) {
	var req memory.ListRequest
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = env.Context.UserID
	}
	return g.svc.List(ctx, req)
}

func (g *Gateway) actionClassify(_ context.Context, env *Envelope) (any, error) {
	var req struct {
		Query   string              `json:"query"`
		Context *classifier.Context `json:"context,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", memory.ErrInvalidInput)
	}

	cctx := classifier.Context{
		SessionID:    env.Context.SessionID,
		MessageCount: env.Context.MessageCount,
		HasHistory:   env.Context.HasHistory,
	}
	if req.Context != nil {
		cctx = *req.Context
	}
	return classifier.Classify(req.Query, cctx), nil
}

// debugEmbeddingResult exposes embedding internals for troubleshooting
// degraded search quality.
type debugEmbeddingResult struct {
	Dimensions int                `json:"dimensions"`
	Source     string             `json:"source"`
	Norm       float64            `json:"norm"`
	Sample     []float32          `json:"sample"`
	Model      string             `json:"model,omitempty"`
	Cache      *memory.CacheStats `json:"cache,omitempty"`
}

func (g *Gateway) actionDebugEmbedding(ctx context.Context, env *Envelope) (any, error) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", memory.ErrInvalidInput)
	}

	emb, err := g.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrEmbeddingFailed, err)
	}

	sample := emb.Vector
	if len(sample) > 8 {
		sample = sample[:8]
	}
	res := debugEmbeddingResult{
		Dimensions: len(emb.Vector),
		Source:     emb.Source,
		Norm:       vec.Norm(emb.Vector),
		Sample:     sample,
	}
	if ie, ok := g.embedder.(memory.InstrumentedEmbedder); ok {
		res.Model = ie.ModelName()
		stats := ie.CacheStats()
		res.Cache = &stats
	}
	return res, nil
}

func (g *Gateway) actionHealthCheck(ctx context.Context, _ *Envelope) (any, error) {
	return g.healthDocument(ctx), nil
}

// recentOCRResult is the memory.getRecentOcr response: the newest
// observations from the in-memory ring plus the observer counters.
type recentOCRResult struct {
	Observations []monitor.Observation `json:"observations"`
	Count        int                   `json:"count"`
	Monitor      monitor.Stats         `json:"monitor"`
}

const defaultRecentOCRLimit = 10

func (g *Gateway) actionRecentOCR(_ context.Context, env *Envelope) (any, error) {
	var req struct {
		Limit int `json:"limit,omitempty"`
	}
	if err := decodePayload(env, &req); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = defaultRecentOCRLimit
	}

	res := recentOCRResult{Observations: []monitor.Observation{}}
	if g.monitor != nil {
		if obs := g.monitor.Recent(req.Limit); obs != nil {
			res.Observations = obs
		}
		res.Monitor = g.monitor.ObserverStats()
	}
	res.Count = len(res.Observations)
	return res, nil
}

func userOrDefault(userID string) string {
	if userID == "" {
		return memory.DefaultUserID
	}
	return userID
}
