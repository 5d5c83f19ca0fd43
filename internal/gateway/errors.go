// ABOUTME: JSON response helpers and the API error body
// ABOUTME: Classified errors map to their taxonomy status; internals are logged, not returned

package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/2389/serviceos-chat/internal/chaterr"
)

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("writing response failed", "error", err)
	}
}

// writeError writes err as an ErrorResponse. Causes of storage and
// unclassified failures stay in the log.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	ce := chaterr.From(err, "api")
	status := ce.Kind.Status()

	resp := ErrorResponse{Code: ce.Code(), Message: ce.Message}
	switch ce.Kind {
	case chaterr.KindStorage, chaterr.KindOffline:
		g.logger.Error("request failed", "code", resp.Code, "error", err)
	default:
		if ce.Err != nil {
			resp.Cause = ce.Err.Error()
		}
		if status >= http.StatusInternalServerError {
			g.logger.Warn("request failed", "code", resp.Code, "error", err)
		}
	}
	g.writeJSON(w, status, resp)
}
