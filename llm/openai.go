package llm

import "context"

// openAIProvider implements Completer for the OpenAI API.
//
// Vision-capable chat models: gpt-4o, gpt-4o-mini.
// Embedding models: text-embedding-3-small (1536 dim), text-embedding-3-large.
type openAIProvider struct {
	base openAICompatClient
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(cfg Config) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	return &openAIProvider{base: newOpenAICompatClient(cfg)}
}

func (p *openAIProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return p.base.complete(ctx, req)
}

func (p *openAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
