package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/security"
)

var tracer = otel.Tracer("github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/gateway")

// actionDeadline is the soft per-request deadline. Handlers observe it
// through context cancellation.
const actionDeadline = 30 * time.Second

// errUnknownAction is returned for a well-formed envelope naming an
// action the gateway does not serve.
var errUnknownAction = errors.New("unknown action")

// actionFunc executes one envelope action against the resolved services.
type actionFunc func(ctx context.Context, env *Envelope) (any, error)

// actionTable binds action names to handlers. Built at Start, after the
// service registry is populated.
func (g *Gateway) actionTable() map[string]actionFunc {
	return map[string]actionFunc{
		"memory.store":                         g.actionMemoryStore,
		"memory.search":                        g.actionMemorySearch,
		"memory.retrieve":                      g.actionMemoryRetrieve,
		"memory.update":                        g.actionMemoryUpdate,
		"memory.delete":                        g.actionMemoryDelete,
		"memory.list":                          g.actionMemoryList,
		"memory.classify-conversational-query": g.actionClassify,
		"memory.debug-embedding":               g.actionDebugEmbedding,
		"memory.health-check":                  g.actionHealthCheck,
		"memory.getRecentOcr":                  g.actionRecentOCR,

		"skill-prompts.store":  g.actionPromptStore,
		"skill-prompts.search": g.actionPromptSearch,
		"skill-prompts.list":   g.actionPromptList,
		"skill-prompts.delete": g.actionPromptDelete,

		"context-rules.store":  g.actionRuleStore,
		"context-rules.get":    g.actionRuleGet,
		"context-rules.list":   g.actionRuleList,
		"context-rules.delete": g.actionRuleDelete,

		"skills.install":     g.actionSkillInstall,
		"skills.get":         g.actionSkillGet,
		"skills.list":        g.actionSkillList,
		"skills.set-enabled": g.actionSkillSetEnabled,
		"skills.uninstall":   g.actionSkillUninstall,
		"skills.sync":        g.actionSkillSync,
	}
}

// writeActions name the actions throttled by the write rate bucket.
var writeActions = map[string]bool{
	"memory.store":         true,
	"memory.update":        true,
	"memory.delete":        true,
	"skill-prompts.store":  true,
	"skill-prompts.delete": true,
	"context-rules.store":  true,
	"context-rules.delete": true,
	"skills.install":       true,
	"skills.set-enabled":   true,
	"skills.uninstall":     true,
	"skills.sync":          true,
}

// handleAction is the POST /{action} entry point. Validation order:
// bearer match, then envelope shape, then action dispatch.
func (g *Gateway) handleAction() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		action := chi.URLParam(r, "action")

		ctx, span := tracer.Start(r.Context(), "gateway.dispatch",
			trace.WithAttributes(attribute.String("memory.action", action)))
		defer span.End()

		env, data, err := g.dispatch(ctx, w, r, action)

		elapsed := time.Since(start)
		requestID := ""
		if env != nil {
			requestID = env.RequestID
		}

		if err != nil {
			code := errorCode(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			g.metrics.Observe(action, code, elapsed)
			writeError(w, action, requestID, code, err.Error(), elapsed.Milliseconds())
			return
		}

		span.SetStatus(codes.Ok, "")
		g.metrics.Observe(action, "ok", elapsed)
		writeOK(w, action, requestID, data, elapsed.Milliseconds())
	}
}

// dispatch runs the validation ladder and the matched handler. The
// returned envelope is non-nil as soon as the body parsed, so error
// responses echo the caller's requestId whenever possible.
func (g *Gateway) dispatch(ctx context.Context, w http.ResponseWriter, r *http.Request, action string) (*Envelope, any, error) {
	if err := g.authorize(r); err != nil {
		return nil, nil, err
	}
	if err := g.limiter.Allow(security.KindRequest); err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(g.config.MaxBodyBytes)))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, nil, fmt.Errorf("%w: body exceeds %d bytes", security.ErrPayloadTooLarge, g.config.MaxBodyBytes)
		}
		return nil, nil, fmt.Errorf("%w: read body: %v", memory.ErrInvalidInput, err)
	}
	if err := security.ValidateJSONDepth(body, 0); err != nil {
		return nil, nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: malformed envelope: %v", memory.ErrInvalidInput, err)
	}
	if err := env.validate(action); err != nil {
		return &env, nil, fmt.Errorf("%w: %v", memory.ErrInvalidInput, err)
	}

	fn, ok := g.actions[env.Action]
	if !ok {
		return &env, nil, fmt.Errorf("%w: %q", errUnknownAction, env.Action)
	}

	if writeActions[env.Action] {
		if err := g.limiter.Allow(security.KindWrite); err != nil {
			return &env, nil, err
		}
	}

	actx, cancel := context.WithTimeout(ctx, actionDeadline)
	defer cancel()

	data, err := fn(actx, &env)
	return &env, data, err
}

// errorCode maps an error to its stable envelope code. Gateway-local
// failures are classified first, everything else defers to the service
// taxonomy.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnauthorized):
		return string(memory.CodeUnauthorized)
	case errors.Is(err, security.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, security.ErrPayloadTooLarge):
		return string(memory.CodePayloadTooLarge)
	case errors.Is(err, security.ErrJSONTooDeep), errors.Is(err, security.ErrInvalidJSON):
		return string(memory.CodeInvalidRequest)
	case errors.Is(err, errUnknownAction):
		return string(memory.CodeNotFound)
	default:
		return string(memory.CodeOf(err))
	}
}

// decodePayload unmarshals an action payload. A missing payload decodes
// as the zero value; required-field checks stay with each handler.
func decodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: payload: %v", memory.ErrInvalidInput, err)
	}
	return nil
}
