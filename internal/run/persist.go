package run

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/serializer"
	"github.com/rendis/flowfunc/internal/values"
	"github.com/rendis/flowfunc/pkg/schema"
)

// SummaryFile is the name of the summary written into every run directory.
const SummaryFile = "summary.json"

// SerializerLookup resolves a serializer from a file path.
type SerializerLookup interface {
	Lookup(path string) (serializer.Serializer, bool)
}

// ArtifactPersister writes declared artifacts into a run's output directory.
type ArtifactPersister struct {
	Serializers SerializerLookup
	Logger      *slog.Logger
}

// Persist writes every artifact whose source value is present in results
// and returns the manifest of written files. Artifacts are isolated: a
// missing source or a failed write is logged and the rest still run.
func (p *ArtifactPersister) Persist(
	artifacts map[string]string,
	results pipeline.ResultMap,
	scope string,
	outputDir string,
) map[string]string {
	manifest := make(map[string]string, len(artifacts))
	for _, name := range sortedNames(artifacts) {
		rel := artifacts[name]
		logger := p.Logger.With(slog.String("artifact", name))

		res, ok := lookupResult(results, scope, name)
		if !ok {
			logger.Warn("artifact source not found in results; skipping")
			continue
		}
		path, err := artifactPath(outputDir, rel)
		if err != nil {
			logger.Error("invalid artifact path", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		s, ok := p.Serializers.Lookup(path)
		if !ok {
			logger.Error("no serializer for artifact", slog.String("path", rel))
			continue
		}
		if err := s.Dump(values.Plain(res.Output), path); err != nil {
			logger.Error("failed to persist artifact", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		logger.Info("artifact saved", slog.String("path", path))
		manifest[name] = path
	}
	return manifest
}

// lookupResult finds an artifact source by its plain name, then scoped.
func lookupResult(results pipeline.ResultMap, scope, name string) (pipeline.Result, bool) {
	if r, ok := results[name]; ok {
		return r, true
	}
	if scope != "" {
		if r, ok := results[pipeline.Qualify(scope, name)]; ok {
			return r, true
		}
	}
	return pipeline.Result{}, false
}

// artifactPath joins rel onto outputDir, refusing paths that leave it.
func artifactPath(outputDir, rel string) (string, error) {
	if rel == "" {
		return "", schema.NewError(schema.ErrCodePersistence, "artifact path is empty")
	}
	if filepath.IsAbs(rel) {
		return "", schema.NewErrorf(schema.ErrCodePersistence, "artifact path %q must be relative", rel)
	}
	path := filepath.Join(outputDir, rel)
	inside, err := filepath.Rel(outputDir, path)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodePersistence, "artifact path %q escapes the output directory", rel)
	}
	return path, nil
}

// WriteSummary writes summary.json into the summary's run directory.
func WriteSummary(s *schema.Summary) (string, error) {
	if s.RunDir == "" {
		return "", schema.NewError(schema.ErrCodePersistence, "summary has no run directory")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", schema.NewError(schema.ErrCodePersistence, "encode summary").WithCause(err)
	}
	path := filepath.Join(s.RunDir, SummaryFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", schema.NewErrorf(schema.ErrCodePersistence, "write %s", path).WithCause(err)
	}
	return path, nil
}

// ReadSummary loads summary.json from a run directory.
func ReadSummary(runDir string) (*schema.Summary, error) {
	data, err := os.ReadFile(filepath.Join(runDir, SummaryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no summary in %s", runDir)
		}
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "read summary in %s", runDir).WithCause(err)
	}
	var s schema.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "decode summary in %s", runDir).WithCause(err)
	}
	return &s, nil
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
