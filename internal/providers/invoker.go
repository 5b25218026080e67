package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Reply is the normalized output of a single model invocation.
type Reply struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// ModelInvoker executes one generation call. Implementations do not retry;
// the batch processor's row-level fallback is the only retry path.
type ModelInvoker interface {
	Invoke(ctx context.Context, systemInstructions, userContent string) (*Reply, error)
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultHTTPTimeout = 60 * time.Second
)

// Registry resolves an invoker from a provider id, a model id, and a
// decrypted credential. Resolution happens once per job.
type Registry struct {
	httpClient *http.Client
}

// NewRegistry creates a registry. A nil client gets a 60s-timeout default.
func NewRegistry(client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Registry{httpClient: client}
}

// Resolve returns the invoker for the provider id. Unknown providers are a
// submission-validation escape, reported as an error rather than a panic.
func (r *Registry) Resolve(provider, model, credential string) (ModelInvoker, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGemini:
		return NewGeminiInvoker(GeminiOptions{
			APIKey:     credential,
			Model:      model,
			HTTPClient: r.httpClient,
		})
	case ProviderOpenAI:
		return NewOpenAIInvoker(OpenAIOptions{
			APIKey:     credential,
			Model:      model,
			HTTPClient: r.httpClient,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}
