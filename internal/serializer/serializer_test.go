package serializer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/pkg/schema"
)

func dump(t *testing.T, name string, value any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", name)
	s, ok := NewRegistry().Lookup(path)
	require.True(t, ok, name)
	require.NoError(t, s.Dump(value, path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestLookup_ByExtension(t *testing.T) {
	r := NewRegistry()
	for _, p := range []string{"a.json", "a.JSON", "a.yaml", "b/c.yml", "x.txt"} {
		_, ok := r.Lookup(p)
		assert.True(t, ok, p)
	}
	_, ok := r.Lookup("a.parquet")
	assert.False(t, ok)
	_, ok = r.Lookup("noext")
	assert.False(t, ok)
	assert.Equal(t, []string{".json", ".txt", ".yaml", ".yml"}, r.Extensions())
}

func TestDump_JSONIndented(t *testing.T) {
	out := dump(t, "out.json", map[string]any{"n": 2, "tokens": []any{"a"}})
	assert.Equal(t, "{\n  \"n\": 2,\n  \"tokens\": [\n    \"a\"\n  ]\n}\n", out)
}

func TestDump_YAML(t *testing.T) {
	out := dump(t, "out.yaml", map[string]any{"tokens": []any{"a", "b"}})
	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, []any{"a", "b"}, back["tokens"])
}

func TestDump_Text(t *testing.T) {
	assert.Equal(t, "hello\n", dump(t, "s.txt", "hello"))
	assert.Equal(t, "a\nb\n", dump(t, "l.txt", []any{"a", "b"}))
	assert.Equal(t, "42\n", dump(t, "n.txt", 42))
}

func TestDump_EncodeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	s, _ := NewRegistry().Lookup(path)
	err := s.Dump(map[string]any{"f": func() {}}, path)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeSerialization))
	assert.NoFileExists(t, path)
}

func TestRegister_Custom(t *testing.T) {
	r := NewRegistry()
	r.Register("csv", Func(func(v any) ([]byte, error) { return []byte("x\n"), nil }))
	_, ok := r.Lookup("table.csv")
	assert.True(t, ok)
}
