package llm

import "context"

// geminiProvider implements Completer for Google's Gemini API using the
// OpenAI-compatible endpoint. Gemini uses a different path prefix than
// standard OpenAI providers (no /v1).
//
// Vision-capable chat models:
//
//	gemini-2.5-flash       fast, cost effective; default for segmentation
//	gemini-2.5-pro         highest capability; suits the answering step
//
// Gemini accepts PDF pages as inline data parts, which lets the detector
// send rasterized pages without an intermediate image conversion.
type geminiProvider struct {
	base openAICompatClient
}

// NewGemini creates a provider for Google Gemini.
func NewGemini(cfg Config) Completer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return &geminiProvider{base: newOpenAICompatClientPrefix(cfg, "")}
}

func (p *geminiProvider) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	return p.base.complete(ctx, req)
}

func (p *geminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
