package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{ name string }

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Search(context.Context, string, string) (*Result, error) {
	return &Result{}, nil
}

func TestRegistryResolveCaseInsensitive(t *testing.T) {
	r := NewRegistry(fakeProvider{name: "deepseek"}, fakeProvider{name: "doubao"})

	p, name, ok := r.Resolve("DeepSeek")
	require.True(t, ok)
	assert.Equal(t, "deepseek", name)
	assert.Equal(t, "deepseek", p.Name())

	_, _, ok = r.Resolve("kimi")
	assert.False(t, ok)
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(fakeProvider{name: "bocha"})
	assert.Equal(t, []string{"bocha"}, r.Names())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindAuthRequired, KindOf(NewError(KindAuthRequired, "login", nil)))
	assert.Equal(t, KindProviderError, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := NewError(KindProviderError, "wrapped", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "wrapped", err.Error())
}
