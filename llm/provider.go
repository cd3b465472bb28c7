package llm

import (
	"context"
	"fmt"
)

// Completer is the interface for vision/text completion capabilities.
// A single request carries an ordered sequence of text and image parts
// plus a generation policy; the provider returns one text completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Embedder generates embeddings for a batch of texts. Optional capability:
// used for the similar-question index, not for the answering path.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CompletionRequest is a single multimodal completion request.
type CompletionRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Parts       []Part  `json:"parts"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	// JSONMode asks the provider for a JSON-only response where supported.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Part is one element of a completion request: text, or an inline image.
type Part struct {
	Text string `json:"text,omitempty"`
	// Image holds raw image bytes, sent inline as a base64 data URL.
	Image []byte `json:"-"`
	// MIME is the content type of Image (e.g. "image/png").
	MIME string `json:"mime,omitempty"`
}

// TextPart builds a text-only part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart builds an image part from raw bytes.
func ImagePart(data []byte, mime string) Part { return Part{Image: data, MIME: mime} }

// Completion is the response from a completion request.
type Completion struct {
	Content          string `json:"content"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Config configures a provider endpoint.
type Config struct {
	Provider string `json:"provider"` // openai, gemini, groq, ollama, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	// RequestsPerMinute caps the client-side request rate. Zero disables
	// the limiter.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`
}

// Validate fails fast on configurations that would only surface as a
// runtime error deep in an ingestion run.
func (c Config) Validate() error {
	switch c.Provider {
	case "":
		return fmt.Errorf("llm provider not specified")
	case "openai", "gemini", "groq":
		if c.APIKey == "" {
			return fmt.Errorf("llm provider %q requires an api key", c.Provider)
		}
	case "ollama":
		// Local provider, no key required.
	case "custom":
		if c.BaseURL == "" {
			return fmt.Errorf("llm provider %q requires a base url", c.Provider)
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.Provider)
	}
	return nil
}

// NewCompleter creates a completion provider from configuration.
// Every variant speaks the same request/response contract; the switch is
// the only place vendor names appear.
func NewCompleter(cfg Config) (Completer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "groq":
		return NewGroq(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// NewEmbedder creates an embedding provider from configuration. All built-in
// variants implement Embedder over the same OpenAI-compatible surface.
func NewEmbedder(cfg Config) (Embedder, error) {
	c, err := NewCompleter(cfg)
	if err != nil {
		return nil, err
	}
	e, ok := c.(Embedder)
	if !ok {
		return nil, fmt.Errorf("llm provider %q does not support embeddings", cfg.Provider)
	}
	return e, nil
}
