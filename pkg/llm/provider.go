// Package llm abstracts chat-completion providers behind the
// LanguageProvider capability the agent runtime consumes.
package llm

import (
	"context"
	"sync"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/errs"
)

// CompleteRequest is one chat-completion call.
type CompleteRequest struct {
	System      string
	User        string
	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// CompleteResponse is the provider's reply.
type CompleteResponse struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Provider is the LanguageProvider capability. Implementations must honour
// the per-call timeout and fail with LLM_UNAVAILABLE (transport) or
// LLM_PROTOCOL (malformed reply) domain errors.
type Provider interface {
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)
	Name() string
}

// Registry holds providers keyed by binding id, plus per-scene bindings.
// Readers see a consistent snapshot; mutation is copy-on-write.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	scenes    map[string]string // scene → binding id
	defaultID string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		scenes:    make(map[string]string),
	}
}

// Register installs a provider under a binding id.
func (r *Registry) Register(bindingID string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[bindingID] = p
}

// SetDefault marks the fallback binding used when neither the request nor
// the scene names one.
func (r *Registry) SetDefault(bindingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultID = bindingID
}

// BindScene binds a scene to a provider binding id.
func (r *Registry) BindScene(scene, bindingID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenes[scene] = bindingID
}

// Resolve picks the provider for a request: explicit binding id first,
// then the scene binding, then the default. With none of the three
// configured the caller gets a validation error rather than a guess.
func (r *Registry) Resolve(bindingID, scene string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := bindingID
	if id == "" {
		id = r.scenes[scene]
	}
	if id == "" {
		id = r.defaultID
	}
	if id == "" {
		return nil, errs.New(errs.KindValidation,
			"no llm binding for scene %q and no default provider", scene)
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "llm binding %q is not registered", id)
	}
	return p, nil
}
