package reservation

import (
	"testing"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/branch"
	"github.com/randalmurphal/joingraph/pkg/joingraph/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, ProviderScripted, s.Provider)
	assert.Equal(t, ":memory:", s.Database)
	assert.Equal(t, branch.DefaultMaxToolRounds, s.MaxToolRounds)
	assert.Equal(t, AggregatorInformative, s.Aggregator)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
reservation:
  provider: anthropic
  model: claude-sonnet-4-5
  max_tokens: 2048
  database: hotel.db
  max_tool_rounds: 3
  aggregator: model
  fallback: Please call the front desk.
  hotel: Hotel Aurora
  prompts:
    sql: You answer booking questions for ${hotel}. Use tools when necessary.
  retry:
    max_attempts: 5
    initial_backoff: 250ms
`))
	require.NoError(t, err)

	s, err := SettingsFromConfig(cfg.Sub("reservation"))
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, s.Provider)
	assert.Equal(t, "claude-sonnet-4-5", s.Model)
	assert.Equal(t, 2048, s.MaxTokens)
	assert.Equal(t, "hotel.db", s.Database)
	assert.Equal(t, 3, s.MaxToolRounds)
	assert.Equal(t, AggregatorModel, s.Aggregator)
	assert.Equal(t, "Please call the front desk.", s.Fallback)
	assert.Equal(t, "Hotel Aurora", s.Hotel)
	assert.Equal(t, ConversationPrompt, s.Prompts.Conversation, "unset prompts keep the default")

	prompts, err := s.RenderPrompts()
	require.NoError(t, err)
	assert.Equal(t, "You answer booking questions for Hotel Aurora. Use tools when necessary.", prompts.SQL)
	assert.Equal(t, "You are the front desk assistant of Hotel Aurora. Answer greetings and small talk briefly.", prompts.Conversation)
	assert.Equal(t, 5, s.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, s.Retry.InitialBackoff)
	assert.Empty(t, s.APIKey)
}

func TestSettingsFromConfig_Empty(t *testing.T) {
	s, err := SettingsFromConfig(config.New(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSettingsFromConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"empty provider", map[string]any{"provider": ""}},
		{"zero max tokens", map[string]any{"max_tokens": 0}},
		{"empty database", map[string]any{"database": ""}},
		{"negative tool rounds", map[string]any{"max_tool_rounds": -1}},
		{"unknown aggregator", map[string]any{"aggregator": "vote"}},
		{"zero attempts", map[string]any{"retry": map[string]any{"max_attempts": 0}}},
		{"empty prompt", map[string]any{"prompts": map[string]any{"retriever": ""}}},
		{"unknown prompt variable", map[string]any{"prompts": map[string]any{"sql": "Assist ${guest}."}}},
		{"huge backoff", map[string]any{"retry": map[string]any{"initial_backoff": "2h"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SettingsFromConfig(config.New(tt.data))
			require.Error(t, err)
		})
	}
}

func TestRenderPrompts_NamesTheBadPrompt(t *testing.T) {
	s := DefaultSettings()
	s.Prompts.Compliance = "Check ${policy_book} for ${hotel}."

	_, err := s.RenderPrompts()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompts.compliance")
	assert.Contains(t, err.Error(), "policy_book")
}
