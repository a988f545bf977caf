package reservation

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/joingraph/pkg/joingraph/llm"
	"github.com/randalmurphal/joingraph/pkg/joingraph/registry"
)

// Model providers.
const (
	ProviderScripted  = "scripted"
	ProviderAnthropic = "anthropic"
)

// ErrUnknownProvider indicates the settings name a provider no factory serves.
var ErrUnknownProvider = errors.New("unknown model provider")

// ModelFactory builds the client the workflow's reasoners share.
type ModelFactory func(s Settings) (llm.Client, error)

// Models returns the built-in model factories.
func Models() *registry.Registry[string, ModelFactory] {
	r := registry.New[string, ModelFactory]()
	r.Register(ProviderScripted, func(Settings) (llm.Client, error) {
		return ScriptedClient{}, nil
	})
	r.Register(ProviderAnthropic, func(s Settings) (llm.Client, error) {
		if s.APIKey == "" {
			return nil, fmt.Errorf("%s: API key is required", ProviderAnthropic)
		}
		opts := []llm.AnthropicOption{llm.WithAnthropicMaxTokens(s.MaxTokens)}
		if s.Model != "" {
			opts = append(opts, llm.WithAnthropicModel(s.Model))
		}
		return llm.WithRetry(llm.NewAnthropic(s.APIKey, opts...), s.Retry), nil
	})
	return r
}

// NewClient builds the client for s.Provider from factories.
func NewClient(factories *registry.Registry[string, ModelFactory], s Settings) (llm.Client, error) {
	factory, ok := factories.Get(s.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownProvider, s.Provider, factories.Keys())
	}
	return factory(s)
}
