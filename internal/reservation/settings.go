package reservation

import (
	"fmt"
	"time"

	"github.com/randalmurphal/joingraph/pkg/joingraph/branch"
	"github.com/randalmurphal/joingraph/pkg/joingraph/config"
	"github.com/randalmurphal/joingraph/pkg/joingraph/prompt"
	"github.com/randalmurphal/joingraph/pkg/joingraph/retry"
)

// Aggregator choices.
const (
	AggregatorModel       = "model"
	AggregatorInformative = "informative"
)

// DefaultFallback is what a branch answers when its model call fails.
const DefaultFallback = "I'm sorry, I cannot help with that right now."

// DefaultHotel names the hotel in the default prompts.
const DefaultHotel = "the Harbor View Hotel"

// Prompts are the workflow's system prompts. They may use ${hotel}.
type Prompts struct {
	Conversation string
	SQL          string
	Compliance   string
	Retriever    string
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		Conversation: ConversationPrompt,
		SQL:          SQLPrompt,
		Compliance:   CompliancePrompt,
		Retriever:    RetrieverPrompt,
	}
}

// Settings configures the reservation workflow.
type Settings struct {
	// Provider names the model factory ("scripted" or "anthropic").
	Provider string
	// Model is the model name sent to the provider.
	Model     string
	MaxTokens int
	// APIKey is never read from the config file.
	APIKey string

	// Database is the hotel database path.
	Database string

	MaxToolRounds int
	// Aggregator is "model" or "informative".
	Aggregator string
	Fallback   string

	// Hotel fills ${hotel} in the prompts.
	Hotel   string
	Prompts Prompts

	Retry retry.Config
}

// DefaultSettings returns settings that run offline.
func DefaultSettings() Settings {
	return Settings{
		Provider:      ProviderScripted,
		MaxTokens:     1024,
		Database:      ":memory:",
		MaxToolRounds: branch.DefaultMaxToolRounds,
		Aggregator:    AggregatorInformative,
		Fallback:      DefaultFallback,
		Hotel:         DefaultHotel,
		Prompts:       DefaultPrompts(),
		Retry:         retry.Default,
	}
}

// SettingsFromConfig reads a "reservation" config section over the defaults.
//
// Recognized keys: provider, model, max_tokens, database, max_tool_rounds,
// aggregator, fallback, hotel, prompts.conversation, prompts.sql,
// prompts.compliance, prompts.retriever, retry.max_attempts,
// retry.initial_backoff.
//
// Example:
//
//	reservation:
//	  provider: anthropic
//	  model: claude-sonnet-4-5
//	  aggregator: model
//	  retry:
//	    max_attempts: 5
func SettingsFromConfig(cfg config.Config) (Settings, error) {
	s := DefaultSettings()

	s.Provider = cfg.String("provider", s.Provider)
	s.Model = cfg.String("model", s.Model)
	s.MaxTokens = cfg.Int("max_tokens", s.MaxTokens)
	s.Database = cfg.String("database", s.Database)
	s.MaxToolRounds = cfg.Int("max_tool_rounds", s.MaxToolRounds)
	s.Aggregator = cfg.String("aggregator", s.Aggregator)
	s.Fallback = cfg.String("fallback", s.Fallback)
	s.Hotel = cfg.String("hotel", s.Hotel)
	s.Prompts.Conversation = cfg.String("prompts.conversation", s.Prompts.Conversation)
	s.Prompts.SQL = cfg.String("prompts.sql", s.Prompts.SQL)
	s.Prompts.Compliance = cfg.String("prompts.compliance", s.Prompts.Compliance)
	s.Prompts.Retriever = cfg.String("prompts.retriever", s.Prompts.Retriever)
	s.Retry.MaxAttempts = cfg.Int("retry.max_attempts", s.Retry.MaxAttempts)
	s.Retry.InitialBackoff = cfg.Duration("retry.initial_backoff", s.Retry.InitialBackoff)

	return s, s.Validate()
}

// Validate checks the settings for values the workflow cannot run with.
func (s Settings) Validate() error {
	if s.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if s.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0, got %d", s.MaxTokens)
	}
	if s.Database == "" {
		return fmt.Errorf("database is required")
	}
	if s.MaxToolRounds <= 0 {
		return fmt.Errorf("max_tool_rounds must be > 0, got %d", s.MaxToolRounds)
	}
	if s.Aggregator != AggregatorModel && s.Aggregator != AggregatorInformative {
		return fmt.Errorf("aggregator must be %q or %q, got %q", AggregatorModel, AggregatorInformative, s.Aggregator)
	}
	if _, err := s.RenderPrompts(); err != nil {
		return err
	}
	if s.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.InitialBackoff < 0 || s.Retry.InitialBackoff > time.Minute {
		return fmt.Errorf("retry.initial_backoff must be within 0..1m, got %s", s.Retry.InitialBackoff)
	}
	return nil
}

// RenderPrompts fills the prompt variables. Empty prompts are an error.
func (s Settings) RenderPrompts() (Prompts, error) {
	vars := map[string]any{"hotel": s.Hotel}
	var out Prompts
	for _, p := range []struct {
		key  string
		text string
		dst  *string
	}{
		{"prompts.conversation", s.Prompts.Conversation, &out.Conversation},
		{"prompts.sql", s.Prompts.SQL, &out.SQL},
		{"prompts.compliance", s.Prompts.Compliance, &out.Compliance},
		{"prompts.retriever", s.Prompts.Retriever, &out.Retriever},
	} {
		if p.text == "" {
			return Prompts{}, fmt.Errorf("%s is required", p.key)
		}
		text, err := prompt.Render(p.text, vars)
		if err != nil {
			return Prompts{}, fmt.Errorf("%s: %w", p.key, err)
		}
		*p.dst = text
	}
	return out, nil
}
