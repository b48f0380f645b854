// Package llmtest provides an in-memory llm.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/Corphon/Voice2SOP/internal/llm"
)

// Provider returns a canned reply and records the last request.
type Provider struct {
	Reply string
	Err   error
	// Chunks, if set, are streamed in order; otherwise Reply is split on spaces.
	Chunks []string

	mu          sync.Mutex
	lastRequest llm.CompletionRequest
	calls       int
	config      map[string]string
}

// Register installs p under name in the provider registry.
func Register(name string, p *Provider) {
	llm.Register(name, func() llm.Provider { return p })
}

func (p *Provider) Initialize(config map[string]string) error {
	if config["api_key"] == "" {
		return llm.ErrMissingAPIKey
	}
	p.mu.Lock()
	p.config = config
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetName() string { return "fake" }

func (p *Provider) GetSupportedModels() []string { return []string{"fake-1"} }

func (p *Provider) record(req llm.CompletionRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastRequest = req
	p.calls++
}

// LastRequest returns the most recent request.
func (p *Provider) LastRequest() llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRequest
}

// Calls returns how many completions were requested.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// APIKey returns the key the provider was initialized with.
func (p *Provider) APIKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config["api_key"]
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{
		Text:         p.Reply,
		TokensUsed:   len(p.Reply),
		ModelName:    "fake-1",
		ProviderName: p.GetName(),
	}, nil
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	p.record(req)
	if p.Err != nil {
		return nil, p.Err
	}

	chunks := p.Chunks
	if chunks == nil {
		chunks = strings.SplitAfter(p.Reply, " ")
	}

	out := make(chan llm.StreamResponse, len(chunks)+1)
	var full strings.Builder
	for _, c := range chunks {
		full.WriteString(c)
		out <- llm.StreamResponse{Text: c, ModelName: "fake-1"}
	}
	out <- llm.StreamResponse{Text: full.String(), ModelName: "fake-1", Done: true}
	close(out)
	return out, nil
}
