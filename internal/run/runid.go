package run

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRunPrefix prefixes run ids when no run name is given.
const DefaultRunPrefix = "run"

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	underscores = regexp.MustCompile(`_+`)
)

// Sanitize makes s safe for use as a path segment: unsafe characters become
// underscores, underscore runs collapse and edge underscores are trimmed.
// An empty result becomes DefaultRunPrefix.
func Sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return DefaultRunPrefix
	}
	return s
}

// NewRunID returns "{prefix}_{yyyymmdd_HHMMSS}_{6 hex}". The prefix is the
// sanitized run name, or DefaultRunPrefix.
func NewRunID(runName string, now time.Time) string {
	prefix := DefaultRunPrefix
	if runName != "" {
		prefix = Sanitize(runName)
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return prefix + "_" + now.Format("20060102_150405") + "_" + suffix
}

// RunDir returns {runsRoot}/{sanitized workflow name}/{runID}.
func RunDir(runsRoot, workflowName, runID string) string {
	return filepath.Join(runsRoot, Sanitize(workflowName), runID)
}
