package game

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPrompts(t *testing.T) {
	t.Parallel()

	prompts := DefaultPrompts()
	assert.Len(t, prompts, 30)
	prompts[0] = "mutated"
	assert.NotEqual(t, "mutated", DefaultPrompts()[0])
}

func TestLoadPromptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompts.txt")
	content := "# party pack\nFirst question?\n\n  Second   question?  \nFirst question?\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	prompts, err := LoadPromptFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"First question?", "Second question?"}, prompts)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o600))
	_, err = LoadPromptFile(empty)
	assert.Error(t, err)
}
