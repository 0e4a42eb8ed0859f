package schema

import (
	"encoding/json"
	"maps"
	"time"
)

// Summary is the record of one run. It is persisted as summary.json in the run directory.
type Summary struct {
	RunID          string            `json:"run_id"`
	WorkflowName   string            `json:"workflow_name"`
	WorkflowFile   string            `json:"workflow_file"`
	RunDir         string            `json:"run_dir,omitempty"`
	OutputDir      string            `json:"output_dir,omitempty"`
	Status         RunStatus         `json:"status"`
	StartTime      *time.Time        `json:"start_time"`
	EndTime        *time.Time        `json:"end_time"`
	UserParams     map[string]any    `json:"user_params"`
	ResolvedParams map[string]any    `json:"resolved_params"`
	Artifacts      map[string]string `json:"artifacts"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// DurationSeconds is end_time - start_time, or nil until the run has ended.
func (s *Summary) DurationSeconds() *float64 {
	if s.StartTime == nil || s.EndTime == nil {
		return nil
	}
	d := s.EndTime.Sub(*s.StartTime).Seconds()
	return &d
}

type summaryAlias Summary

func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		summaryAlias
		DurationSeconds *float64 `json:"duration_seconds"`
	}{
		summaryAlias:    summaryAlias(s),
		DurationSeconds: s.DurationSeconds(),
	})
}

// Clone returns a copy whose maps can be read without racing the tracker.
func (s *Summary) Clone() *Summary {
	c := *s
	c.UserParams = maps.Clone(s.UserParams)
	c.ResolvedParams = maps.Clone(s.ResolvedParams)
	c.Artifacts = maps.Clone(s.Artifacts)
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	return &c
}
