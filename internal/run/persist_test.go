package run

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/serializer"
	"github.com/rendis/flowfunc/pkg/schema"
)

type failingSerializer struct{}

func (failingSerializer) Dump(any, string) error { return errors.New("disk full") }

func TestArtifactPersister_IsolatesFailures(t *testing.T) {
	reg := serializer.NewRegistry()
	reg.Register(".bad", failingSerializer{})

	var logs bytes.Buffer
	p := &ArtifactPersister{Serializers: reg, Logger: slog.New(slog.NewTextHandler(&logs, nil))}
	out := t.TempDir()

	manifest := p.Persist(map[string]string{
		"tokens":  "tokens.json",
		"n":       "count/n.txt",
		"broken":  "broken.bad",
		"unknown": "unknown.parquet",
		"escape":  "../outside.json",
		"missing": "missing.json",
	}, pipeline.ResultMap{
		"tokens":  {Output: [][]string{{"a"}, {"b"}}},
		"n":       {Output: 2},
		"broken":  {Output: 1},
		"unknown": {Output: 1},
		"escape":  {Output: 1},
	}, "", out)

	assert.Equal(t, map[string]string{
		"tokens": filepath.Join(out, "tokens.json"),
		"n":      filepath.Join(out, "count", "n.txt"),
	}, manifest)

	data, err := os.ReadFile(filepath.Join(out, "tokens.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[["a"],["b"]]`, string(data))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "outside.json"))

	assert.Contains(t, logs.String(), "artifact source not found")
	assert.Contains(t, logs.String(), "disk full")
	assert.Contains(t, logs.String(), "escapes the output directory")
}

func TestArtifactPersister_ScopedLookup(t *testing.T) {
	p := &ArtifactPersister{Serializers: serializer.NewRegistry(), Logger: discard}
	out := t.TempDir()
	manifest := p.Persist(map[string]string{"n": "n.json"},
		pipeline.ResultMap{"exp.n": {Output: 3}}, "exp", out)
	assert.Contains(t, manifest, "n")
}

func TestArtifactPath(t *testing.T) {
	_, err := artifactPath("/out", "")
	assert.Error(t, err)
	_, err = artifactPath("/out", "/abs.json")
	assert.Error(t, err)
	got, err := artifactPath("/out", "a/../b.json")
	require.NoError(t, err)
	assert.Equal(t, "/out/b.json", got)
}

func TestWriteAndReadSummary(t *testing.T) {
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Second)
	s := &schema.Summary{
		RunID:     "r1",
		RunDir:    t.TempDir(),
		Status:    schema.RunStatusFailed,
		StartTime: &start,
		EndTime:   &end,
	}

	path, err := WriteSummary(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.RunDir, SummaryFile), path)

	back, err := ReadSummary(s.RunDir)
	require.NoError(t, err)
	assert.Equal(t, "r1", back.RunID)
	assert.Equal(t, schema.RunStatusFailed, back.Status)
	assert.True(t, start.Equal(*back.StartTime))

	_, err = ReadSummary(t.TempDir())
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))

	_, err = WriteSummary(&schema.Summary{})
	assert.Error(t, err)
}
