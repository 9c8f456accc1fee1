package cmd

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagescaler/pagescaler/auth"
	"github.com/pagescaler/pagescaler/settings"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/hires/book/p1.png", pngBytes(t, 40, 30), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/lores/book/p1.png", pngBytes(t, 8, 6), 0644))
	require.NoError(t, afero.WriteFile(fsys, "/hires/book/index.meta", []byte("\"\":\n  original-dpi: 300\n"), 0644))

	cache, err := newCache(fsys, &settings.Settings{
		BaseDirs: []string{"/hires", "/lores"},
		MetaFile: "index.meta",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, probe(&out, cache, "book", 1))
	s := out.String()
	assert.Contains(t, s, "/hires/book/p1.png")
	assert.Contains(t, s, "40x30")
	assert.Contains(t, s, "/lores/book/p1.png")
	assert.Contains(t, s, "8x6")
	assert.Contains(t, s, "resolution: 300x300 dpi")

	assert.Error(t, probe(&out, cache, "book", 2))
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "ada", "--roles", "admin,scholar", "--jwtsecret", "s3cret"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	tok := strings.TrimSpace(out.String())
	require.NotEmpty(t, tok)

	c, err := auth.NewIdentifier("s3cret", nil).Identify("Bearer "+tok, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "ada", c.Subject)
	assert.ElementsMatch(t, []string{"admin", "scholar"}, c.Roles)
}
