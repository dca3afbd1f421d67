package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/buildinfo"
	"github.com/lukaizhi5559/thinkdrop-user-memory-service/internal/memory"
)

// ProtocolVersion is the envelope protocol spoken on every action endpoint.
const ProtocolVersion = "mcp.v1"

// RequestContext carries per-request caller state. userId scopes storage;
// the session fields feed the conversational-query classifier.
type RequestContext struct {
	UserID       string `json:"userId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	HasHistory   bool   `json:"hasHistory,omitempty"`
}

// Envelope is the request wrapper posted to every action endpoint.
type Envelope struct {
	Version   string          `json:"version"`
	Service   string          `json:"service"`
	Action    string          `json:"action"`
	RequestID string          `json:"requestId"`
	Context   RequestContext  `json:"context"`
	Payload   json.RawMessage `json:"payload"`
}

// validate checks envelope shape after JSON decoding. urlAction is the
// path the envelope was posted to; the two must agree so a mis-routed
// client fails loudly instead of executing the wrong action.
func (e *Envelope) validate(urlAction string) error {
	switch {
	case e.Version != ProtocolVersion:
		return fmt.Errorf("version must be %q", ProtocolVersion)
	case e.Service != buildinfo.ServiceName:
		return fmt.Errorf("service must be %q", buildinfo.ServiceName)
	case e.Action == "":
		return fmt.Errorf("action is required")
	case e.Action != urlAction:
		return fmt.Errorf("action %q does not match endpoint %q", e.Action, urlAction)
	case e.RequestID == "":
		return fmt.Errorf("requestId is required")
	}
	return nil
}

// ErrorBody is the error half of a response envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMetrics carries per-request timing back to the caller.
type ResponseMetrics struct {
	ElapsedMs int64 `json:"elapsedMs"`
}

// ResponseEnvelope mirrors the request envelope. Exactly one of Data and
// Error is non-null.
type ResponseEnvelope struct {
	Version   string          `json:"version"`
	Service   string          `json:"service"`
	Action    string          `json:"action"`
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"` // ok | error
	Data      any             `json:"data"`
	Error     *ErrorBody      `json:"error"`
	Metrics   ResponseMetrics `json:"metrics"`
}

// CodeRateLimited extends the service error taxonomy for the gateway's
// request throttle.
const CodeRateLimited = "RATE_LIMITED"

// httpStatusOf maps a stable error code to its transport status.
func httpStatusOf(code string) int {
	switch code {
	case string(memory.CodeUnauthorized):
		return http.StatusUnauthorized
	case string(memory.CodeInvalidRequest):
		return http.StatusBadRequest
	case string(memory.CodePayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case string(memory.CodeNotFound):
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeOK emits a status:"ok" envelope.
func writeOK(w http.ResponseWriter, action, requestID string, data any, elapsedMs int64) {
	writeEnvelope(w, http.StatusOK, ResponseEnvelope{
		Version:   ProtocolVersion,
		Service:   buildinfo.ServiceName,
		Action:    action,
		RequestID: requestID,
		Status:    "ok",
		Data:      data,
		Metrics:   ResponseMetrics{ElapsedMs: elapsedMs},
	})
}

// writeError emits a status:"error" envelope with the HTTP status derived
// from code.
func writeError(w http.ResponseWriter, action, requestID, code, message string, elapsedMs int64) {
	writeEnvelope(w, httpStatusOf(code), ResponseEnvelope{
		Version:   ProtocolVersion,
		Service:   buildinfo.ServiceName,
		Action:    action,
		RequestID: requestID,
		Status:    "error",
		Error:     &ErrorBody{Code: code, Message: message},
		Metrics:   ResponseMetrics{ElapsedMs: elapsedMs},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, env ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
