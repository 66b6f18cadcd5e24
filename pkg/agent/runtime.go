// Package agent hosts the agent runtime and the specialist agents built
// on top of it: schema resolution, SQL generation and visualization.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/chatbi-ai/chatbi/pkg/config"
	"github.com/chatbi-ai/chatbi/pkg/llm"
	"github.com/chatbi-ai/chatbi/pkg/models"
)

// ProfileSource resolves agent profiles by id.
type ProfileSource interface {
	Profile(id string) config.AgentProfile
}

// LogSink receives one record per runtime call. Implementations must not
// block; the runtime calls it inline.
type LogSink func(models.AgentLogRecord)

// Runtime invokes a LanguageProvider and post-processes its reply into
// an AgentMessage. Every call emits started and completed/failed log
// records through the sink.
type Runtime struct {
	providers *llm.Registry
	profiles  ProfileSource
	sink      LogSink
	log       *slog.Logger
}

// NewRuntime wires the runtime. sink may be nil.
func NewRuntime(providers *llm.Registry, profiles ProfileSource, sink LogSink) *Runtime {
	return &Runtime{
		providers: providers,
		profiles:  profiles,
		sink:      sink,
		log:       slog.Default().With("component", "agent_runtime"),
	}
}

// InvokeRequest is one runtime call.
type InvokeRequest struct {
	ProfileID string
	Step      string
	System    string
	User      string

	// BindingID overrides provider resolution; Scene is the fallback key.
	BindingID string
	Scene     models.Scene

	Temperature *float64
	MaxTokens   int
	Timeout     time.Duration
}

// Features returns the feature mask of the request's profile.
func (r *Runtime) Features(profileID string) models.FeatureMask {
	return r.profiles.Profile(profileID).Features
}

// Invoke resolves the provider, runs the completion and parses the
// textual reply into a structured AgentMessage.
func (r *Runtime) Invoke(ctx context.Context, req InvokeRequest) (*models.AgentMessage, error) {
	r.record(models.AgentLogRecord{
		ProfileID: req.ProfileID,
		Step:      req.Step,
		Status:    "started",
		TS:        time.Now(),
	})

	provider, err := r.providers.Resolve(req.BindingID, string(req.Scene))
	if err != nil {
		r.fail(req, err)
		return nil, err
	}

	resp, err := provider.Complete(ctx, llm.CompleteRequest{
		System:      req.System,
		User:        req.User,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Timeout:     req.Timeout,
	})
	if err != nil {
		r.fail(req, err)
		return nil, err
	}

	msg := ParseReply(resp.Text)
	r.record(models.AgentLogRecord{
		ProfileID: req.ProfileID,
		Step:      req.Step,
		Status:    "completed",
		Detail:    string(msg.Intent),
		Metadata: map[string]any{
			"provider":          provider.Name(),
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
		TS: time.Now(),
	})
	return msg, nil
}

func (r *Runtime) fail(req InvokeRequest, err error) {
	r.log.Warn("Agent invocation failed", "profile_id", req.ProfileID, "step", req.Step, "error", err)
	r.record(models.AgentLogRecord{
		ProfileID: req.ProfileID,
		Step:      req.Step,
		Status:    "failed",
		Detail:    err.Error(),
		TS:        time.Now(),
	})
}

func (r *Runtime) record(rec models.AgentLogRecord) {
	if r.sink != nil {
		r.sink(rec)
	}
}
