// File: internal/planner/client.go
package planner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
	"github.com/xkilldash9x/marionette-cli/internal/config"
)

// HTTPPlanner talks to the external planner/analyzer service:
//
//	POST /plan    PlanRequest    -> Action JSON
//	POST /analyze AnalyzeRequest -> {success, reason, issue}
//
// Transport-level retries happen here with exponential backoff and are not
// automation steps; the control loop only ever sees the final verdict. A
// shared rate limiter paces all outbound calls, recovery prompts included.
type HTTPPlanner struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxElapsed  time.Duration
	maxInterval time.Duration
	logger      *zap.Logger
}

var _ schemas.Planner = (*HTTPPlanner)(nil)

// NewHTTPPlanner builds the client from configuration.
func NewHTTPPlanner(cfg config.PlannerConfig, logger *zap.Logger) (*HTTPPlanner, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("planner base URL is required")
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 2.0
	}
	return &HTTPPlanner{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
		maxElapsed:  cfg.MaxElapsed,
		maxInterval: cfg.MaxInterval,
		logger:      logger.Named("planner_client"),
	}, nil
}

// Plan requests the next action for the current perception context. Whatever
// comes back is normalized at this boundary: unparseable or unrecognized
// plans become Fail actions instead of propagating untyped data inward.
func (p *HTTPPlanner) Plan(ctx context.Context, req schemas.PlanRequest) (schemas.Action, error) {
	body, err := p.post(ctx, "/plan", req)
	if err != nil {
		return schemas.Action{}, err
	}
	return ParseAction(string(body))
}

// Analyze asks the model to judge logical success of a command. The answer
// is strictly {success, reason, issue}.
func (p *HTTPPlanner) Analyze(ctx context.Context, req schemas.AnalyzeRequest) (schemas.FailureAnalysis, error) {
	body, err := p.post(ctx, "/analyze", req)
	if err != nil {
		return schemas.FailureAnalysis{}, err
	}

	var analysis schemas.FailureAnalysis
	if err := json.Unmarshal(extractJSON(string(body)), &analysis); err != nil {
		return schemas.FailureAnalysis{}, fmt.Errorf("malformed analyze response: %w", err)
	}
	return analysis, nil
}

// Recover requests a corrected action for a failed step. It is the same
// /plan endpoint with a narrower, failure-specific context so the model
// addresses the concrete issue instead of replanning from scratch.
func (p *HTTPPlanner) Recover(ctx context.Context, req schemas.RecoverRequest) (schemas.Action, error) {
	summary := fmt.Sprintf(
		"Previous action %s failed. Issue: %s. Reason: %s. Produce a corrected action that addresses this specific failure; do not repeat the failed action verbatim.",
		req.FailedAction.Summary(), req.Analysis.Issue, req.Analysis.Reason)

	return p.Plan(ctx, schemas.PlanRequest{
		Goal:          req.Goal,
		ScreenSummary: summary,
		Cwd:           req.Cwd,
	})
}

// post sends one JSON payload with bounded-attempt exponential backoff.
// 429/5xx are transient and retried; other non-200s are permanent.
func (p *HTTPPlanner) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("planner rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal planner payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = p.maxElapsed
	b.MaxInterval = p.maxInterval

	var respBody []byte
	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		start := time.Now()
		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			p.logger.Warn("Network error during planner request, retrying...",
				zap.String("path", path), zap.Error(err))
			return fmt.Errorf("planner request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read planner response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("planner returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusInternalServerError,
				http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				return err // Transient, retry.
			default:
				return backoff.Permanent(err)
			}
		}

		p.logger.Debug("Planner call complete",
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_bytes", len(data)))
		respBody = data
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return respBody, nil
}

// Matches a JSON object inside a markdown code fence.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON tolerates models that wrap their JSON in markdown fences or
// prose: it prefers a fenced block, then the outermost brace pair, then the
// raw text.
func extractJSON(response string) []byte {
	response = strings.TrimSpace(response)

	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		return []byte(strings.TrimSpace(matches[1]))
	}

	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		return []byte(response[first : last+1])
	}
	return []byte(response)
}

// ParseAction converts raw planner output into a typed Action. An
// unrecognized action kind becomes Fail{"unknown action kind"} so nothing
// dynamic leaks past this boundary; transport-level garbage is an error so
// the loop can distinguish a broken planner from a deliberate failure.
func ParseAction(response string) (schemas.Action, error) {
	raw := extractJSON(response)
	if len(raw) == 0 {
		return schemas.Action{}, fmt.Errorf("no JSON found in planner response")
	}

	var action schemas.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return schemas.Action{}, fmt.Errorf("failed to unmarshal planner action: %w", err)
	}
	if action.Type == "" {
		return schemas.Action{}, fmt.Errorf("planner action missing 'action' field")
	}

	switch action.Type {
	case schemas.ActionClick, schemas.ActionTypeText, schemas.ActionKey,
		schemas.ActionWait, schemas.ActionShellCommand, schemas.ActionDone, schemas.ActionFail:
		return action, nil
	default:
		return schemas.FailAction("unknown action kind"), nil
	}
}
