// ABOUTME: Remote confidence scorer posting the conversation and catalog to an HTTP endpoint
// ABOUTME: Falls back to another Scorer when the endpoint fails or answers with nothing usable

package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultRemoteTimeout bounds one remote scoring request.
const DefaultRemoteTimeout = 3 * time.Second

// RemoteConfig configures a RemoteModel.
type RemoteConfig struct {
	Endpoint string
	Timeout  time.Duration
	// Fallback scores when the endpoint cannot. Nil uses a KeywordModel at
	// temperature 1.
	Fallback Scorer
	Client   *http.Client
	Logger   *slog.Logger
}

// RemoteModel asks an external classifier to score the catalog.
type RemoteModel struct {
	endpoint string
	timeout  time.Duration
	fallback Scorer
	client   *http.Client
	logger   *slog.Logger
}

// NewRemoteModel creates a remote scorer.
func NewRemoteModel(cfg RemoteConfig) *RemoteModel {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	fallback := cfg.Fallback
	if fallback == nil {
		fallback = NewKeywordModel(1.0)
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteModel{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		fallback: fallback,
		client:   client,
		logger:   logger.With("component", "workflows.remote"),
	}
}

var _ Scorer = (*RemoteModel)(nil)

type remoteTool struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type remoteRequest struct {
	Message string       `json:"message"`
	Tools   []remoteTool `json:"tools"`
}

// remoteResponse accepts either a per-tool scores map or a single pick.
type remoteResponse struct {
	Scores     map[string]float64 `json:"scores"`
	ToolName   string             `json:"tool_name"`
	Confidence float64            `json:"confidence"`
}

// Score implements Scorer.
func (m *RemoteModel) Score(ctx context.Context, text string, defs []Definition) Scoring {
	resp, err := m.post(ctx, text, defs)
	if err != nil {
		m.logger.Warn("remote scoring failed, using fallback", "endpoint", m.endpoint, "error", err)
		return m.fallback.Score(ctx, text, defs)
	}
	scoring, ok := resp.scoring(defs)
	if !ok {
		m.logger.Warn("remote scorer named no known workflow, using fallback", "endpoint", m.endpoint, "tool_name", resp.ToolName)
		return m.fallback.Score(ctx, text, defs)
	}
	return scoring
}

func (m *RemoteModel) post(ctx context.Context, text string, defs []Definition) (*remoteResponse, error) {
	body := remoteRequest{Message: text, Tools: make([]remoteTool, 0, len(defs))}
	for _, d := range defs {
		kws := d.Keywords
		if kws == nil {
			kws = []string{}
		}
		body.Tools = append(body.Tools, remoteTool{Name: d.Name, Description: d.Description, Keywords: kws})
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// scoring maps the response onto defs. Names outside the catalog are
// dropped; ok is false when nothing known remains.
func (r *remoteResponse) scoring(defs []Definition) (Scoring, bool) {
	var out Scoring
	if len(r.Scores) > 0 {
		for _, d := range defs {
			c, found := r.Scores[d.Name]
			if !found {
				continue
			}
			c = min(1, max(0, c))
			out.Scores = append(out.Scores, Score{Name: d.Name, Confidence: c})
			if out.Selected == "" || c > out.Confidence {
				out.Selected, out.Confidence = d.Name, c
			}
		}
		return out, out.Selected != ""
	}

	if _, found := Lookup(defs, r.ToolName); !found {
		return Scoring{}, false
	}
	c := min(1, max(0, r.Confidence))
	return Scoring{
		Selected:   r.ToolName,
		Confidence: c,
		Scores:     []Score{{Name: r.ToolName, Confidence: c}},
	}, true
}
