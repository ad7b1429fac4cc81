package llm

import (
	"log/slog"
	"net/http"

	"chasingclaw/internal/infra/config"
)

// openrouterTransport injects the attribution headers OpenRouter expects.
type openrouterTransport struct {
	base http.RoundTripper
}

func (t *openrouterTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("HTTP-Referer", "https://github.com/chasingclaw/chasingclaw")
	clone.Header.Set("X-Title", "chasingclaw")
	return t.base.RoundTrip(clone)
}

// NewOpenRouterProvider creates an OpenAI-compatible provider for OpenRouter.
func NewOpenRouterProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	client := NewHTTPClient(cfg)
	client.Transport = &openrouterTransport{base: client.Transport}
	return newOpenAIProvider(cfg, "https://openrouter.ai/api/v1", client, logger)
}
