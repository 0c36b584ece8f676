package qc

import (
	"strings"
	"time"
)

// FlagType is the severity of a finding. Only FlagTypeError fails a QC pass.
type FlagType string

const (
	FlagTypeError   FlagType = "error"
	FlagTypeWarning FlagType = "warning"
	FlagTypeInfo    FlagType = "info"
)

// FlagSource records which analysis pass produced a finding.
type FlagSource string

const (
	FlagSourceMetadata       FlagSource = "metadata"
	FlagSourceRule           FlagSource = "rule"
	FlagSourceAITextAnalysis FlagSource = "ai_text_analysis"
	FlagSourceDeepVisual     FlagSource = "deep_visual"
	FlagSourceDeepAudio      FlagSource = "deep_audio"
)

// Flag is a single QC finding. IDs are local to the run that produced the
// flag; identity across repeated runs comes from the dedup key, not the ID.
type Flag struct {
	ID          string     `json:"id"`
	Type        FlagType   `json:"type"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Source      FlagSource `json:"source"`
	Timestamp   *float64   `json:"timestamp,omitempty"`
}

// ThoughtTrace summarizes what an analysis run actually looked at.
type ThoughtTrace struct {
	StandardsChecked      []string `json:"standardsChecked,omitempty"`
	FeedbackItemsReviewed int      `json:"feedbackItemsReviewed"`
	AIModel               string   `json:"aiModel,omitempty"`
	VisualFramesAnalyzed  int      `json:"visualFramesAnalyzed"`
	AudioAnalyzed         bool     `json:"audioAnalyzed"`
}

// QCResult is the merged outcome of all analysis passes for one upload.
type QCResult struct {
	Passed       bool           `json:"passed"`
	Flags        []Flag         `json:"flags"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	AnalyzedAt   time.Time      `json:"analyzedAt"`
	ThoughtTrace ThoughtTrace   `json:"thoughtTrace"`
}

// Passed reports whether a flag set passes QC: true unless any flag is an
// error. Callers recompute this after every merge; it is never cached.
func Passed(flags []Flag) bool {
	for _, f := range flags {
		if f.Type == FlagTypeError {
			return false
		}
	}
	return true
}

// Normalize trims, lowercases and collapses internal whitespace so that
// cosmetically different findings compare equal.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
