package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/marionette-cli/internal/config"
)

func TestRunPlannerConfigAppliesOverrideToCopy(t *testing.T) {
	viper.Set("planner.base_url", "http://override:9999")
	t.Cleanup(viper.Reset)

	base := config.PlannerConfig{BaseURL: "http://loaded:8080", APIKey: "k"}
	got := runPlannerConfig(base)

	assert.Equal(t, "http://override:9999", got.BaseURL)
	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, "http://loaded:8080", base.BaseURL, "the loaded config must stay untouched")
}

func TestRunPlannerConfigKeepsLoadedURLWithoutOverride(t *testing.T) {
	viper.Reset()

	base := config.PlannerConfig{BaseURL: "http://loaded:8080"}

	assert.Equal(t, "http://loaded:8080", runPlannerConfig(base).BaseURL)
}
