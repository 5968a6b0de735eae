package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Template{Name: "greeting", Body: "hi {{.Name}}", Enabled: true})

	tpl, ok := reg.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi {{.Name}}", tpl.Body)
}

func TestRegistry_BodyReturnsEmptyWhenDisabled(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Template{Name: "greeting", Body: "hi", Enabled: false})
	assert.Empty(t, reg.Body("greeting"))
}

func TestRegistry_Render(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Template{Name: "greeting", Body: "hello {{.Name}}", Enabled: true})

	out, err := reg.Render("greeting", struct{ Name string }{Name: "Sam"})
	require.NoError(t, err)
	assert.Equal(t, "hello Sam", out)
}

func TestRegistry_RenderMissingTemplate(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Render("missing", nil)
	assert.Error(t, err)
}

func TestLoader_ReloadFallsBackToBuiltin(t *testing.T) {
	reg := NewRegistry()
	loader := NewLoader("/nonexistent/path", Defaults())
	require.NoError(t, loader.Reload(reg))

	assert.NotEmpty(t, reg.Body("system_prompt"))
	assert.NotEmpty(t, reg.Body("intent_recognition"))
}

func TestLoader_ReloadOverlaysFromDisk(t *testing.T) {
	dir := t.TempDir()
	yaml := `name: system_prompt
version: v2-test
body: "Overridden prompt body"
enabled: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system_prompt.yaml"), []byte(yaml), 0o644))

	reg := NewRegistry()
	loader := NewLoader(dir, Defaults())
	require.NoError(t, loader.Reload(reg))

	assert.Equal(t, "Overridden prompt body", reg.Body("system_prompt"))
	// builtin default for a name not present on disk should still be there
	assert.NotEmpty(t, reg.Body("intent_recognition"))
}
