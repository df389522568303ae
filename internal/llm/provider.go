package llm

import (
	"context"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one system + user prompt pair and returns the model's reply
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for a single completion
type CompletionRequest struct {
	// System is the instruction block (stage prompt + allowed labels)
	System string

	// Prompt is the user message (the items to classify)
	Prompt string

	// Model overrides the configured model when set
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// Completion is the model's reply
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// TokensUsed returns the total token count of the exchange
func (c *Completion) TokensUsed() int {
	return c.PromptTokens + c.CompletionTokens
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, Azure-compatible gateways)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Temperature is 0 by default so that labels are reproducible
	Temperature float32

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Timeout:   60,
		MaxTokens: 800,
	}
}

// ConfigFromModel converts model.OracleConfig to llm.Config
func ConfigFromModel(c model.OracleConfig) Config {
	return Config{
		Provider:    c.Provider,
		Model:       c.Model,
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		HTTPProxy:   c.HTTPProxy,
		HTTPSProxy:  c.HTTPSProxy,
		NoProxy:     c.NoProxy,
	}
}
