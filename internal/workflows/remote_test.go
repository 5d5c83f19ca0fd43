package workflows

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedScorer always returns the same scoring and counts calls.
type fixedScorer struct {
	scoring Scoring
	calls   atomic.Int32
}

func (f *fixedScorer) Score(context.Context, string, []Definition) Scoring {
	f.calls.Add(1)
	return f.scoring
}

func remoteServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteModel_ScoresMap(t *testing.T) {
	srv := remoteServer(t, http.StatusOK, `{"scores":{"lab_results_get":0.2,"prescription_refill":0.9,"not_a_workflow":0.99}}`)
	fallback := &fixedScorer{}
	m := NewRemoteModel(RemoteConfig{Endpoint: srv.URL, Fallback: fallback})

	scoring := m.Score(context.Background(), "refill please", Catalog())

	assert.Equal(t, "prescription_refill", scoring.Selected)
	assert.InDelta(t, 0.9, scoring.Confidence, 1e-9)
	require.Len(t, scoring.Scores, 2)
	assert.Equal(t, "prescription_refill", scoring.Ranked()[0].Name)
	assert.Zero(t, fallback.calls.Load())
}

func TestRemoteModel_SinglePick(t *testing.T) {
	srv := remoteServer(t, http.StatusOK, `{"tool_name":"appointment_cancel","confidence":1.7}`)
	m := NewRemoteModel(RemoteConfig{Endpoint: srv.URL, Fallback: &fixedScorer{}})

	scoring := m.Score(context.Background(), "cancel it", Catalog())

	assert.Equal(t, "appointment_cancel", scoring.Selected)
	assert.Equal(t, 1.0, scoring.Confidence)
}

func TestRemoteModel_FallsBack(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	tests := []struct {
		name     string
		endpoint func(t *testing.T) string
	}{
		{"unknown tool", func(t *testing.T) string {
			return remoteServer(t, http.StatusOK, `{"tool_name":"launch_rockets","confidence":0.9}`).URL
		}},
		{"only unknown scores", func(t *testing.T) string {
			return remoteServer(t, http.StatusOK, `{"scores":{"launch_rockets":0.9}}`).URL
		}},
		{"server error", func(t *testing.T) string {
			return remoteServer(t, http.StatusInternalServerError, `{"tool_name":"prescription_refill","confidence":0.9}`).URL
		}},
		{"malformed body", func(t *testing.T) string {
			return remoteServer(t, http.StatusOK, `not json`).URL
		}},
		{"unreachable", func(*testing.T) string { return closed.URL }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fallback := &fixedScorer{scoring: Scoring{Selected: "lab_results_get", Confidence: 0.7}}
			m := NewRemoteModel(RemoteConfig{Endpoint: tt.endpoint(t), Fallback: fallback})

			scoring := m.Score(context.Background(), "anything", Catalog())

			assert.Equal(t, "lab_results_get", scoring.Selected)
			assert.Equal(t, int32(1), fallback.calls.Load())
		})
	}
}

func TestRemoteModel_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	fallback := &fixedScorer{scoring: Scoring{Selected: "lab_results_get"}}
	m := NewRemoteModel(RemoteConfig{Endpoint: srv.URL, Timeout: 50 * time.Millisecond, Fallback: fallback})

	start := time.Now()
	scoring := m.Score(context.Background(), "anything", Catalog())

	assert.Equal(t, "lab_results_get", scoring.Selected)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoteModel_RequestPayload(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"tool_name":"prescription_refill","confidence":0.8}`))
	}))
	t.Cleanup(srv.Close)

	defs := Catalog()
	NewRemoteModel(RemoteConfig{Endpoint: srv.URL}).Score(context.Background(), "refill my prescription", defs)

	assert.Equal(t, "refill my prescription", got.Message)
	require.Len(t, got.Tools, len(defs))
	assert.Equal(t, defs[0].Name, got.Tools[0].Name)
	assert.Equal(t, defs[0].Description, got.Tools[0].Description)
	assert.Equal(t, defs[0].Keywords, got.Tools[0].Keywords)
}

func TestServer_EvaluateWithScorer(t *testing.T) {
	scorer := &fixedScorer{scoring: Scoring{
		Selected:   "lab_results_get",
		Confidence: 0.8,
		Scores:     []Score{{Name: "lab_results_get", Confidence: 0.8}, {Name: "appointment_cancel", Confidence: 0.1}},
	}}
	s := NewServer(nil, Config{Threshold: DefaultThreshold, Scorer: scorer})

	result, err := s.CallTool(context.Background(), ConfidenceTool, json.RawMessage(`{"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)

	var eval Evaluation
	require.NoError(t, json.Unmarshal(result.StructuredContent, &eval))
	require.NotNil(t, eval.Selected)
	assert.Equal(t, "lab_results_get", eval.Selected.Name)
	assert.Len(t, eval.Tools, 2)
	assert.Equal(t, int32(1), scorer.calls.Load())
}
