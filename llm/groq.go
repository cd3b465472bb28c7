package llm

import "context"

// groqProvider implements Completer for Groq's OpenAI-compatible API.
// Useful as the cheap high-throughput backend for per-question text
// extraction batches.
type groqProvider struct {
	base openAICompatClient
}

// NewGroq creates a provider for Groq.
func NewGroq(cfg Config) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai"
	}
	return &groqProvider{base: newOpenAICompatClient(cfg)}
}

func (p *groqProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return p.base.complete(ctx, req)
}

func (p *groqProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
