package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customYAML = `
default_style: plain
default_model: small
styles:
  plain:
    prompt: Be plain.
  pirate:
    description: Arr.
    prompt: Talk like a pirate.
models:
  small:
    id: vendor/small
  big:
    id: vendor/big
`

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	assert.Equal(t, "casual", c.DefaultStyle)
	assert.Equal(t, "x-ai/grok-4.1-fast:free", c.Models[c.DefaultModel].ID)
	assert.NotEmpty(t, c.Styles[c.DefaultStyle].Prompt)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(customYAML))
	require.NoError(t, err)
	assert.Equal(t, []string{"pirate", "plain"}, c.StyleKeys())
	assert.Equal(t, []string{"big", "small"}, c.ModelKeys())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not yaml", "styles: [unclosed"},
		{"empty", ""},
		{"missing models", "default_style: a\ndefault_model: b\nstyles:\n  a:\n    prompt: x\n"},
		{"unknown field", customYAML + "extra: true\n"},
		{"model without id", "default_style: a\ndefault_model: b\nstyles:\n  a:\n    prompt: x\nmodels:\n  b:\n    description: no id\n"},
		{"bad key", "default_style: A\ndefault_model: b\nstyles:\n  A:\n    prompt: x\nmodels:\n  b:\n    id: y\n"},
		{"default style missing", "default_style: z\ndefault_model: b\nstyles:\n  a:\n    prompt: x\nmodels:\n  b:\n    id: y\n"},
		{"default model missing", "default_style: a\ndefault_model: z\nstyles:\n  a:\n    prompt: x\nmodels:\n  b:\n    id: y\n"},
		{"blank prompt", "default_style: a\ndefault_model: b\nstyles:\n  a:\n    prompt: \"   \"\nmodels:\n  b:\n    id: y\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestValidate_DefaultErrorsAreTyped(t *testing.T) {
	c, err := Parse([]byte(customYAML))
	require.NoError(t, err)

	c.DefaultStyle = "missing"
	assert.ErrorIs(t, Validate(c), ErrUnknownStyle)

	c.DefaultStyle = "plain"
	c.DefaultModel = "missing"
	assert.ErrorIs(t, Validate(c), ErrUnknownModel)
}

func writeCatalog(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRegistry_Resolution(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), customYAML)
	r, err := Load(path, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "Talk like a pirate.", r.StylePrompt("pirate"))
	assert.Equal(t, "Be plain.", r.StylePrompt(""))
	assert.Equal(t, "Be plain.", r.StylePrompt("removed-style"))
	assert.Equal(t, "vendor/big", r.ModelID("big"))
	assert.Equal(t, "vendor/small", r.ModelID(""))

	assert.NoError(t, r.ValidateStyle("pirate"))
	assert.ErrorIs(t, r.ValidateStyle("nope"), ErrUnknownStyle)
	assert.NoError(t, r.ValidateModel("big"))
	assert.ErrorIs(t, r.ValidateModel("nope"), ErrUnknownModel)
}

func TestRegistry_DefaultModelOverride(t *testing.T) {
	r, err := Load("", "vendor/override", nil)
	require.NoError(t, err)

	assert.Equal(t, "vendor/override", r.ModelID(""))
	assert.Equal(t, "vendor/override", r.ModelID("unknown"))
	assert.Equal(t, "openai/gpt-4o-mini", r.ModelID("gpt-mini"))
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeCatalog(t, t.TempDir(), "default_style: x\n")
	_, err := Load(path, "", nil)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), "", nil)
	assert.Error(t, err)
}

func TestRegistry_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, customYAML)
	r, err := Load(path, "", nil)
	require.NoError(t, err)

	writeCatalog(t, dir, "garbage: [")
	assert.Error(t, r.Reload())
	assert.Equal(t, "Be plain.", r.StylePrompt(""))
}

func TestRegistry_WatchPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeCatalog(t, dir, customYAML)
	r, err := Load(path, "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := `
default_style: plain
default_model: small
styles:
  plain:
    prompt: Be very plain.
models:
  small:
    id: vendor/small
`
	// The watcher may not be registered yet, so keep rewriting until the
	// change is observed.
	assert.Eventually(t, func() bool {
		writeCatalog(t, dir, updated)
		return r.StylePrompt("") == "Be very plain."
	}, 5*time.Second, 50*time.Millisecond)
}
