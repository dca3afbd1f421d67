package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/monitor"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/retention"
)

// embedderHealth reports the embedding backend's identity and cache.
type embedderHealth struct {
	Model string            `json:"model"`
	Cache memory.CacheStats `json:"cache"`
}

// eventsHealth reports the live-event hub.
type eventsHealth struct {
	Subscribers int    `json:"subscribers"`
	Dropped     uint64 `json:"dropped"`
}

// healthDoc is the GET /service.health and memory.health-check document.
type healthDoc struct {
	Status    string           `json:"status"` // ok | degraded
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	UptimeSec int64            `json:"uptimeSec"`
	Store     *memory.Stats    `json:"store,omitempty"`
	Embedder  *embedderHealth  `json:"embedder,omitempty"`
	Monitor   *monitor.Stats   `json:"monitor,omitempty"`
	Retention *retention.Stats `json:"retention,omitempty"`
	Events    eventsHealth     `json:"events"`
}

// healthDocument assembles live state from the resolved services. A
// failing store marks the document degraded instead of erroring: health
// checks must answer even when the database is down.
func (g *Gateway) healthDocument(ctx context.Context) healthDoc {
	doc := healthDoc{
		Status:    "ok",
		Service:   buildinfo.ServiceName,
		Version:   buildinfo.Version,
		UptimeSec: int64(time.Since(g.startedAt).Seconds()),
		Events:    eventsHealth{Subscribers: g.hub.Subscribers(), Dropped: g.hub.Dropped()},
	}

	if g.store != nil {
		stats, err := g.store.Stats(ctx)
		if err != nil {
			g.logger.Warn("health: store stats failed", "error", err)
			doc.Status = "degraded"
		} else {
			doc.Store = &stats
		}
	}
	if ie, ok := g.embedder.(memory.InstrumentedEmbedder); ok {
		doc.Embedder = &embedderHealth{Model: ie.ModelName(), Cache: ie.CacheStats()}
	}
	if g.monitor != nil {
		stats := g.monitor.ObserverStats()
		doc.Monitor = &stats
	}
	if g.janitor != nil {
		stats := g.janitor.JanitorStats()
		doc.Retention = &stats
	}
	return doc
}

// handleHealth serves GET /service.health, unauthenticated. Degraded
// state answers 503 so load checkers see it without parsing the body.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc := g.healthDocument(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if doc.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(doc)
	}
}

// capabilitiesDoc is the GET /service.capabilities document: enough for
// a client to discover the protocol, the action set, and the embedding
// geometry without authenticating.
type capabilitiesDoc struct {
	Service   string   `json:"service"`
	Version   string   `json:"version"`
	Protocol  string   `json:"protocol"`
	Actions   []string `json:"actions"`
	Embedding struct {
		Dimensions int    `json:"dimensions"`
		Model      string `json:"model,omitempty"`
	} `json:"embedding"`
	Features struct {
		ScreenMonitor bool `json:"screenMonitor"`
		Retention     bool `json:"retention"`
		Events        bool `json:"events"`
		Metrics       bool `json:"metrics"`
	} `json:"features"`
}

// handleCapabilities serves GET /service.capabilities, unauthenticated.
func (g *Gateway) handleCapabilities() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		doc := capabilitiesDoc{
			Service:  buildinfo.ServiceName,
			Version:  buildinfo.Version,
			Protocol: ProtocolVersion,
		}
		doc.Actions = make([]string, 0, len(g.actions))
		for name := range g.actions {
			doc.Actions = append(doc.Actions, name)
		}
		slices.Sort(doc.Actions)

		doc.Embedding.Dimensions = memory.EmbeddingDim
		if ie, ok := g.embedder.(memory.InstrumentedEmbedder); ok {
			doc.Embedding.Model = ie.ModelName()
		}
		doc.Features.ScreenMonitor = g.monitor != nil && g.monitor.ObserverStats().Running
		doc.Features.Retention = g.janitor != nil
		doc.Features.Events = true
		doc.Features.Metrics = true

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}
