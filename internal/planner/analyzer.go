// File: internal/planner/analyzer.go
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette-cli/api/schemas"
)

// ResultAnalyzer judges whether a shell command logically succeeded. Exit
// code 0 is necessary but not sufficient: tools print usage errors and exit
// 0, and others warn on stderr while succeeding. The analyzer is the only
// place output text is ever inspected.
type ResultAnalyzer interface {
	Analyze(ctx context.Context, command string, res schemas.CommandResult) schemas.FailureAnalysis
}

// ModelAnalyzer combines cheap local heuristics with a model-assisted
// verdict. When the model call fails the heuristic verdict is kept and the
// issue is marked degraded so callers treat it as lower confidence.
type ModelAnalyzer struct {
	planner schemas.Planner
	logger  *zap.Logger
}

var _ ResultAnalyzer = (*ModelAnalyzer)(nil)

// NewModelAnalyzer builds the analyzer around a planner collaborator.
func NewModelAnalyzer(planner schemas.Planner, logger *zap.Logger) *ModelAnalyzer {
	return &ModelAnalyzer{
		planner: planner,
		logger:  logger.Named("result_analyzer"),
	}
}

// Analyze classifies one command result.
//
// A non-zero exit is decided locally; there is nothing for the model to
// second-guess and skipping the call saves a round trip on the common
// failure path. Exit 0 goes to the model, which can catch the "error text
// but exit 0" case heuristics cannot.
func (a *ModelAnalyzer) Analyze(ctx context.Context, command string, res schemas.CommandResult) schemas.FailureAnalysis {
	if res.ExitCode != 0 {
		return schemas.FailureAnalysis{
			Success: false,
			Reason:  nonZeroReason(res),
			Issue:   schemas.IssueNonZeroExit,
		}
	}

	verdict, err := a.planner.Analyze(ctx, schemas.AnalyzeRequest{
		Command:  command,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	})
	if err != nil {
		a.logger.Warn("Model-assisted analysis unavailable, degrading to exit-code heuristics",
			zap.String("command", command), zap.Error(err))
		return degradedVerdict(res)
	}
	return verdict
}

// degradedVerdict is the exit-code-only fallback. Exit 0 with an empty
// stderr is treated as success; anything else is reported as-is with the
// degraded marker so the loop knows the verdict was not model-checked.
func degradedVerdict(res schemas.CommandResult) schemas.FailureAnalysis {
	stderr := strings.TrimSpace(res.Stderr)
	if res.ExitCode == 0 && stderr == "" {
		return schemas.FailureAnalysis{
			Success: true,
			Reason:  "exit 0, no stderr",
			Issue:   schemas.IssueAnalyzerDegraded,
		}
	}
	if res.ExitCode == 0 {
		// Warnings on stderr are common on success; without the model we
		// give exit 0 the benefit of the doubt but flag it.
		return schemas.FailureAnalysis{
			Success: true,
			Reason:  "exit 0 with stderr: " + firstLine(stderr),
			Issue:   schemas.IssueAnalyzerDegraded,
		}
	}
	return schemas.FailureAnalysis{
		Success: false,
		Reason:  nonZeroReason(res),
		Issue:   schemas.IssueAnalyzerDegraded,
	}
}

func nonZeroReason(res schemas.CommandResult) string {
	if line := firstLine(strings.TrimSpace(res.Stderr)); line != "" {
		return fmt.Sprintf("exit %d: %s", res.ExitCode, line)
	}
	return fmt.Sprintf("exit %d", res.ExitCode)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 200
	if len(s) > max {
		return s[:max]
	}
	return s
}
