package meta

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagescaler/pagescaler/errs"
)

func TestMerge_Additive(t *testing.T) {
	m := Metadata{"dpi": "300"}
	m = m.Merge(Metadata{"dpi": "600", "title": "x"})
	assert.Equal(t, Metadata{"dpi": "300", "title": "x"}, m)

	// idempotent
	m = m.Merge(Metadata{"dpi": "600", "title": "x"})
	assert.Equal(t, Metadata{"dpi": "300", "title": "x"}, m)
}

func TestMerge_NilDoesNotAlias(t *testing.T) {
	src := Metadata{"a": "1"}
	var m Metadata
	m = m.Merge(src)
	m["b"] = "2"
	assert.NotContains(t, src, "b")
}

func TestFloat(t *testing.T) {
	m := Metadata{"dpi": " 300.5 ", "bad": "x"}
	f, ok := m.Float("dpi")
	require.True(t, ok)
	assert.InDelta(t, 300.5, f, 1e-9)
	_, ok = m.Float("bad")
	assert.False(t, ok)
	_, ok = m.Float("missing")
	assert.False(t, ok)
}

func TestYAMLLoader(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/base/index.meta", []byte(`
"":
  title: Codex A
page1.jpg:
  original-dpi: 300
/sub/page1.jpg/:
  original-dpi-x: 600
  scanned: true
`), 0644))

	fm, err := YAMLLoader{}.Load(fsys, "/base/index.meta")
	require.NoError(t, err)
	assert.Equal(t, "Codex A", fm[Self]["title"])
	assert.Equal(t, "300", fm["page1.jpg"]["original-dpi"])
	assert.Equal(t, "600", fm["sub/page1.jpg"]["original-dpi-x"])
	assert.Equal(t, "true", fm["sub/page1.jpg"]["scanned"])
}

func TestYAMLLoader_MissingAndEmpty(t *testing.T) {
	fsys := afero.NewMemMapFs()
	fm, err := YAMLLoader{}.Load(fsys, "/nope/index.meta")
	require.NoError(t, err)
	assert.Nil(t, fm)

	require.NoError(t, afero.WriteFile(fsys, "/empty.meta", []byte("  \n"), 0644))
	fm, err = YAMLLoader{}.Load(fsys, "/empty.meta")
	require.NoError(t, err)
	assert.Nil(t, fm)
}

func TestYAMLLoader_ParseError(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/bad.meta", []byte("- just\n- a list\n"), 0644))
	_, err := YAMLLoader{}.Load(fsys, "/bad.meta")
	assert.ErrorIs(t, err, errs.ErrMetadataParse)
}
