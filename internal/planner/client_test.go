package planner

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
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// setupPlanner rigs an HTTPPlanner against a mock server with fast retry
// bounds so failure tests stay quick.
func setupPlanner(t *testing.T, handler http.HandlerFunc) (*HTTPPlanner, *observer.ObservedLogs) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	loggerCore, observedLogs := observer.New(zap.InfoLevel)
	cfg := config.PlannerConfig{
		BaseURL:       server.URL,
		APIKey:        "test-key",
		Timeout:       2 * time.Second,
		MaxElapsed:    5 * time.Second,
		MaxInterval:   100 * time.Millisecond,
		RatePerSecond: 1000,
	}

	client, err := NewHTTPPlanner(cfg, zap.New(loggerCore))
	require.NoError(t, err)
	return client, observedLogs
}

func TestNewHTTPPlannerRequiresBaseURL(t *testing.T) {
	_, err := NewHTTPPlanner(config.PlannerConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestPlanParsesAction(t *testing.T) {
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plan", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req schemas.PlanRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "open a terminal", req.Goal)

		w.Write([]byte(`{"action":"CLICK","x":640,"y":360,"rationale":"terminal icon"}`))
	})

	action, err := client.Plan(context.Background(), schemas.PlanRequest{Goal: "open a terminal"})

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Type)
	assert.Equal(t, 640, action.X)
	assert.Equal(t, 360, action.Y)
}

func TestPlanToleratesMarkdownFences(t *testing.T) {
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Here is the next step:\n```json\n{\"action\":\"TYPE\",\"text\":\"ls\"}\n```\n"))
	})

	action, err := client.Plan(context.Background(), schemas.PlanRequest{Goal: "g"})

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionTypeText, action.Type)
	assert.Equal(t, "ls", action.Text)
}

func TestPlanUnknownKindBecomesFail(t *testing.T) {
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"action":"SCROLL","x":10,"y":10}`))
	})

	action, err := client.Plan(context.Background(), schemas.PlanRequest{Goal: "g"})

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionFail, action.Type)
	assert.Equal(t, "unknown action kind", action.Reason)
}

func TestPlanRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"action":"DONE"}`))
	})

	action, err := client.Plan(context.Background(), schemas.PlanRequest{Goal: "g"})

	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDone, action.Type)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPlanDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	})

	_, err := client.Plan(context.Background(), schemas.PlanRequest{Goal: "g"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load(), "4xx responses must not be retried")
}

func TestAnalyzeParsesVerdict(t *testing.T) {
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)

		var req schemas.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "make test", req.Command)

		w.Write([]byte(`{"success":false,"reason":"tests failed","issue":"non-zero exit"}`))
	})

	verdict, err := client.Analyze(context.Background(), schemas.AnalyzeRequest{Command: "make test", ExitCode: 2})

	require.NoError(t, err)
	assert.False(t, verdict.Success)
	assert.Equal(t, "tests failed", verdict.Reason)
}

func TestRecoverUsesPlanEndpointWithFailureContext(t *testing.T) {
	var seen schemas.PlanRequest
	client, _ := setupPlanner(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/plan", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		w.Write([]byte(`{"action":"SHELL_COMMAND","text":"mkdir -p /a/b/c"}`))
	})

	action, err := client.Recover(context.Background(), schemas.RecoverRequest{
		Goal:         "set up workspace",
		FailedAction: schemas.Action{Type: schemas.ActionShellCommand, Text: "mkdir /a/b/c"},
		Analysis:     schemas.FailureAnalysis{Reason: "No such file or directory", Issue: schemas.IssueNonZeroExit},
		Cwd:          "/home/user",
	})

	require.NoError(t, err)
	assert.Equal(t, "mkdir -p /a/b/c", action.Text)
	assert.Equal(t, "set up workspace", seen.Goal)
	assert.Equal(t, "/home/user", seen.Cwd)
	assert.Contains(t, seen.ScreenSummary, "No such file or directory")
}

func TestParseActionRejectsGarbage(t *testing.T) {
	_, err := ParseAction("no json here")
	require.Error(t, err)

	_, err = ParseAction(`{"x": 12}`)
	require.Error(t, err, "missing action field must be a transport error")
}

func TestExtractJSONBracePair(t *testing.T) {
	raw := extractJSON(`The plan is {"action":"WAIT","seconds":2} as requested.`)
	assert.JSONEq(t, `{"action":"WAIT","seconds":2}`, string(raw))
}
