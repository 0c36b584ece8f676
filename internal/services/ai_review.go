package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/platform/openai"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

// TextAnalyzer runs the cheap synchronous AI pass over an upload's filename,
// metadata, rule descriptions and any reviewer feedback. It produces zero or
// more flags; frame and audio analysis belong to the deep-analysis worker.
type TextAnalyzer interface {
	Review(ctx context.Context, in TextReviewInput) (*TextReviewResult, error)
}

type TextReviewInput struct {
	FileName      string
	Metadata      map[string]string
	RuleSets      []*qc.RuleSet
	FeedbackItems []string
	AnalysisMode  string // "quick" or "thorough"
}

type TextReviewResult struct {
	Flags []qc.Flag
	Model string
}

type textAnalyzer struct {
	log *logger.Logger
	ai  openai.Client
}

func NewTextAnalyzer(log *logger.Logger, ai openai.Client) TextAnalyzer {
	return &textAnalyzer{
		log: log.With("service", "TextAnalyzer"),
		ai:  ai,
	}
}

var reviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"issues": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"severity":    map[string]any{"type": "string", "enum": []string{"error", "warning", "info"}},
					"category":    map[string]any{"type": "string"},
					"title":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
				},
				"required":             []string{"severity", "category", "title", "description"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"issues"},
	"additionalProperties": false,
}

const reviewSystemPrompt = `You are a video delivery QC reviewer for a production studio.
Given a file name, its metadata, the studio's delivery standards and any client feedback,
report concrete delivery problems you can infer from that text alone.
Do not guess about picture or sound content; another pass covers those.
Report nothing when everything looks fine.`

func (a *textAnalyzer) Review(ctx context.Context, in TextReviewInput) (*TextReviewResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "File name: %s\n", in.FileName)
	if len(in.Metadata) > 0 {
		b.WriteString("Metadata:\n")
		for k, v := range in.Metadata {
			fmt.Fprintf(&b, "  %s: %s\n", k, v)
		}
	}
	for _, set := range in.RuleSets {
		if set == nil {
			continue
		}
		fmt.Fprintf(&b, "Delivery standards (%s):\n", set.Name)
		for _, r := range set.Rules {
			fmt.Fprintf(&b, "  - %s: %s\n", r.Title, r.Description)
		}
	}
	if len(in.FeedbackItems) > 0 {
		b.WriteString("Client feedback on previous deliveries:\n")
		for _, item := range in.FeedbackItems {
			fmt.Fprintf(&b, "  - %s\n", item)
		}
	}
	if in.AnalysisMode == "thorough" {
		b.WriteString("Be exhaustive; include low-confidence findings as info severity.\n")
	}

	obj, err := a.ai.GenerateJSON(ctx, reviewSystemPrompt, b.String(), "qc_text_review", reviewSchema)
	if err != nil {
		return nil, fmt.Errorf("ai text review: %w", err)
	}

	flags := parseReviewIssues(obj)
	return &TextReviewResult{Flags: flags, Model: a.ai.Model()}, nil
}

// parseReviewIssues converts the model's JSON into flags, dropping malformed
// entries rather than failing the whole pass.
func parseReviewIssues(obj map[string]any) []qc.Flag {
	flags := []qc.Flag{}
	rawIssues, _ := obj["issues"].([]any)
	n := 0
	for _, raw := range rawIssues {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := m["title"].(string)
		if strings.TrimSpace(title) == "" {
			continue
		}
		sev, _ := m["severity"].(string)
		typ := qc.FlagType(strings.ToLower(strings.TrimSpace(sev)))
		switch typ {
		case qc.FlagTypeError, qc.FlagTypeWarning, qc.FlagTypeInfo:
		default:
			typ = qc.FlagTypeInfo
		}
		category, _ := m["category"].(string)
		description, _ := m["description"].(string)
		n++
		flags = append(flags, qc.Flag{
			ID:          qc.NewFlagID(qc.FlagSourceAITextAnalysis, n),
			Type:        typ,
			Category:    category,
			Title:       title,
			Description: description,
			Source:      qc.FlagSourceAITextAnalysis,
		})
	}
	return flags
}
