package meta

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pagescaler/pagescaler/errs"
)

// Loader reads a metadata file. A missing or empty file yields no metadata
// and no error.
type Loader interface {
	Load(fsys afero.Fs, path string) (FileMeta, error)
}

// YAMLLoader reads metadata files written as a YAML mapping from entry name
// to a mapping of keys to scalar values:
//
//	"":
//	  title: Codex A
//	page1.jpg:
//	  original-dpi: 300
//	sub/page1.jpg:
//	  original-dpi: 600
type YAMLLoader struct{}

// Load implements Loader.
func (YAMLLoader) Load(fsys afero.Fs, path string) (FileMeta, error) {
	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrMetadataParse, path, err)
	}

	out := make(FileMeta, len(raw))
	for name, kv := range raw {
		m := make(Metadata, len(kv))
		for k, v := range kv {
			m[k] = scalar(v)
		}
		out[strings.Trim(name, "/")] = m
	}
	return out, nil
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
