// Package serializer writes artifact values to disk, picking the format from
// the file extension.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/pkg/schema"
)

// Serializer dumps one value to a file.
type Serializer interface {
	Dump(value any, path string) error
}

// Func adapts an encoding function to a Serializer.
type Func func(value any) ([]byte, error)

// Dump encodes value and writes it to path, creating parent directories.
func (f Func) Dump(value any, path string) error {
	data, err := f(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSerialization, "encode %s", filepath.Base(path)).WithCause(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeSerialization, "create directory for %s", path).WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return schema.NewErrorf(schema.ErrCodeSerialization, "write %s", path).WithCause(err)
	}
	return nil
}

// Registry maps lowercase file extensions (with the dot) to serializers.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Serializer
}

// NewRegistry returns a registry with the JSON, YAML and text serializers.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Serializer)}
	r.Register(".json", Func(encodeJSON))
	r.Register(".yaml", Func(encodeYAML))
	r.Register(".yml", Func(encodeYAML))
	r.Register(".txt", Func(encodeText))
	return r
}

// Register binds a serializer to an extension, replacing any previous one.
func (r *Registry) Register(ext string, s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[normalizeExt(ext)] = s
}

// Lookup returns the serializer for path's extension.
func (r *Registry) Lookup(path string) (Serializer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byExt[normalizeExt(filepath.Ext(path))]
	return s, ok
}

// Extensions lists the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func encodeJSON(value any) ([]byte, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func encodeYAML(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeText writes strings verbatim, lists one element per line and
// anything else with its default formatting.
func encodeText(value any) ([]byte, error) {
	var buf bytes.Buffer
	switch v := value.(type) {
	case string:
		buf.WriteString(v)
	case []any:
		for _, item := range v {
			fmt.Fprintln(&buf, item)
		}
		return buf.Bytes(), nil
	default:
		fmt.Fprint(&buf, v)
	}
	if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
