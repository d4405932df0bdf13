package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"gamesmith/pkg/config"
	"gamesmith/pkg/llm"
	"gamesmith/pkg/llm/anthropic"
	"gamesmith/pkg/llm/google"
	"gamesmith/pkg/llm/ollama"
	"gamesmith/pkg/llm/openai"
	"gamesmith/pkg/logx"
	"gamesmith/pkg/metrics"
)

// requestMeta labels one request for the metrics middleware.
type requestMeta struct {
	sessionID string
	agentKey  string
}

func (m requestMeta) GetSessionID() string { return m.sessionID }
func (m requestMeta) GetAgentKey() string  { return m.agentKey }

// clientProvider is the factory seam the manager calls through; tests swap
// in scripted clients.
type clientProvider interface {
	clientFor(model string, meta requestMeta) (llm.Client, error)
}

// clientFactory caches one raw provider client per model and dresses each
// request in the middleware chain. The chain is rebuilt per request because
// the metrics labels are request-scoped; the expensive part, the provider
// client, is shared.
type clientFactory struct {
	logger   *logx.Logger
	recorder metrics.Recorder
	clients  map[string]llm.Client
	timeout  time.Duration
	mu       sync.Mutex
}

func newClientFactory(recorder metrics.Recorder, timeout time.Duration, logger *logx.Logger) *clientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &clientFactory{
		logger:   logger,
		recorder: recorder,
		clients:  make(map[string]llm.Client),
		timeout:  timeout,
	}
}

func (f *clientFactory) clientFor(model string, meta requestMeta) (llm.Client, error) {
	raw, err := f.rawClient(model)
	if err != nil {
		return nil, err
	}

	return llm.Chain(raw,
		metrics.Middleware(f.recorder, nil, meta, f.logger),
		llm.RetryMiddleware(f.logger, f.recorder),
		llm.TimeoutMiddleware(f.timeout),
	), nil
}

// rawClient returns the cached provider client for model, creating it on
// first use. Routing follows the model registry with prefix inference for
// unknown names.
func (f *clientFactory) rawClient(model string) (llm.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[model]; ok {
		return client, nil
	}

	provider, err := config.GetModelProvider(model)
	if err != nil {
		return nil, fmt.Errorf("cannot route model %q: %w", model, err)
	}

	// For Ollama the "key" is the host URL; no credential is involved.
	key, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("no credentials for provider %s: %w", provider, err)
	}

	var client llm.Client
	switch provider {
	case config.ProviderAnthropic:
		client = anthropic.New(key, model)
	case config.ProviderOpenAI:
		client = openai.New(key, model)
	case config.ProviderGoogle:
		client = google.New(key, model)
	case config.ProviderOllama:
		// The explicit "ollama:" routing prefix is not part of the name the
		// server knows the model by.
		client = ollama.New(key, strings.TrimPrefix(model, config.ProviderOllama+":"))
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	f.clients[model] = client
	f.logger.Info("🔌 Created %s client for model %s", provider, model)
	return client, nil
}
