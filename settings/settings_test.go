package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	v := newViper()
	v.Set("basedirs", []string{"/srv/scans"})

	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/scans"}, s.BaseDirs)
	assert.GreaterOrEqual(t, s.Workers, 1)
	assert.Equal(t, 20, s.MaxWaiting)
	assert.Equal(t, "index.meta", s.MetaFile)
	assert.Equal(t, time.Second, s.Recheck)
	assert.Equal(t, 5*time.Minute, s.ResultTTL)
	assert.Equal(t, uint64(256), s.ResultSize)
	assert.Equal(t, ":8080", s.Listen())
	assert.Nil(t, s.Aliases)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "scaler.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
port: 9000
basedirs:
  - /srv/hires
  - /srv/lores
workers: 3
maxwaiting: 0
recheck: 250ms
aliases:
  - "old/books = books"
resultcache:
  ttl: 1m
  size: 10
log:
  level: debug
`), 0644))

	s, err := Load(newViper(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 9000, s.Port)
	assert.Equal(t, []string{"/srv/hires", "/srv/lores"}, s.BaseDirs)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, 0, s.MaxWaiting)
	assert.Equal(t, 250*time.Millisecond, s.Recheck)
	assert.Equal(t, map[string]string{"old/books": "books"}, s.Aliases)
	assert.Equal(t, time.Minute, s.ResultTTL)
	assert.Equal(t, uint64(10), s.ResultSize)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SCALER_BASEDIRS", "/a /b")
	t.Setenv("SCALER_WORKERS", "7")
	t.Setenv("SCALER_RESULTCACHE_SIZE", "3")

	s, err := Load(newViper(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b"}, s.BaseDirs)
	assert.Equal(t, 7, s.Workers)
	assert.Equal(t, uint64(3), s.ResultSize)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := homedir.Dir()
	require.NoError(t, err)

	v := newViper()
	v.Set("basedirs", []string{"~/scans"})
	v.Set("authfile", "~/auth.yaml")
	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(home, "scans")}, s.BaseDirs)
	assert.Equal(t, filepath.Join(home, "auth.yaml"), s.AuthFile)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"no base dirs", map[string]any{}},
		{"no workers", map[string]any{"basedirs": []string{"/a"}, "workers": 0}},
		{"negative queue", map[string]any{"basedirs": []string{"/a"}, "maxwaiting": -1}},
		{"bad alias", map[string]any{"basedirs": []string{"/a"}, "aliases": []string{"nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v, "")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(newViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
