package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbi-ai/chatbi/pkg/errs"
)

type stubProvider struct{ name string }

func (s *stubProvider) Complete(context.Context, CompleteRequest) (*CompleteResponse, error) {
	return &CompleteResponse{Text: s.name}, nil
}
func (s *stubProvider) Name() string { return s.name }

func TestResolveExplicitBinding(t *testing.T) {
	r := NewRegistry()
	r.Register("gpt4", &stubProvider{name: "gpt4"})
	r.Register("local", &stubProvider{name: "local"})
	r.SetDefault("gpt4")
	r.BindScene("dashboard", "local")

	p, err := r.Resolve("gpt4", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "gpt4", p.Name())
}

func TestResolveSceneBindingBeatsDefault(t *testing.T) {
	r := NewRegistry()
	r.Register("gpt4", &stubProvider{name: "gpt4"})
	r.Register("local", &stubProvider{name: "local"})
	r.SetDefault("gpt4")
	r.BindScene("loan_ops", "local")

	p, err := r.Resolve("", "loan_ops")
	require.NoError(t, err)
	assert.Equal(t, "local", p.Name())

	p, err = r.Resolve("", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, "gpt4", p.Name())
}

func TestResolveNoBindingAnywhere(t *testing.T) {
	r := NewRegistry()
	r.Register("gpt4", &stubProvider{name: "gpt4"})

	_, err := r.Resolve("", "dashboard")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestResolveUnknownBinding(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ghost", "")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
