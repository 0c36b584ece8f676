package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	uploadrepo "github.com/framewell/studio-qc-backend/internal/data/repos/qc"
	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/apierr"
	"github.com/framewell/studio-qc-backend/internal/platform/dbctx"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

const (
	feedbackLookback    = 90 * 24 * time.Hour
	feedbackMaxPatterns = 50
	feedbackMaxExamples = 3
	feedbackConfigKey   = "config/feedback.json"
	patternTitleWords   = 4
)

// FeedbackService folds reviewer dismissals into the suppression document the
// deep-analysis worker consults. Error-severity findings never contribute:
// a dismissed error is treated as reviewer sign-off on that one upload, not
// as a reusable exception.
type FeedbackService interface {
	Sync(dbc dbctx.Context) (*types.FeedbackConfig, error)
}

type feedbackService struct {
	log    *logger.Logger
	repo   uploadrepo.UploadRepo
	bucket gcp.BucketService
	clock  func() time.Time
}

func NewFeedbackService(baseLog *logger.Logger, repo uploadrepo.UploadRepo, bucket gcp.BucketService) FeedbackService {
	return &feedbackService{
		log:    baseLog.With("service", "FeedbackService"),
		repo:   repo,
		bucket: bucket,
		clock:  time.Now,
	}
}

func (s *feedbackService) Sync(dbc dbctx.Context) (*types.FeedbackConfig, error) {
	since := s.clock().Add(-feedbackLookback)
	uploads, err := s.repo.ListDismissedSince(dbc, since)
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "storage", fmt.Errorf("scan dismissals: %w", err))
	}

	cfg := BuildFeedbackConfig(uploads, s.clock())

	body, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, apierr.New(http.StatusInternalServerError, "internal", fmt.Errorf("encode feedback config: %w", err))
	}
	if err := s.bucket.UploadFile(dbc.Ctx, gcp.BucketCategoryWorkerIntake, feedbackConfigKey, bytes.NewReader(body)); err != nil {
		return nil, apierr.New(http.StatusBadGateway, "storage", fmt.Errorf("publish feedback config: %w", err))
	}

	s.log.Info("Feedback config published",
		"patterns", len(cfg.KnownExceptions),
		"total_dismissals", cfg.TotalDismissals)
	return cfg, nil
}

type patternAccumulator struct {
	category      string
	pattern       string
	count         int
	lastDismissed time.Time
	examples      []string
	exampleSeen   map[string]struct{}
}

// BuildFeedbackConfig aggregates dismissed flags across uploads into
// recurring patterns. Grouping key is the normalized category plus the
// leading words of the normalized title, so minor wording drift still
// collapses into one pattern.
func BuildFeedbackConfig(uploads []*types.Upload, now time.Time) *types.FeedbackConfig {
	accs := map[string]*patternAccumulator{}
	order := []string{}
	total := 0

	for _, u := range uploads {
		dismissed := dismissedSet(u)
		if len(dismissed) == 0 {
			continue
		}
		var result qc.QCResult
		if err := json.Unmarshal(u.QCResult, &result); err != nil {
			continue
		}
		for _, f := range result.Flags {
			if _, ok := dismissed[f.ID]; !ok {
				continue
			}
			if f.Type == qc.FlagTypeError {
				continue
			}
			total++
			cat := qc.Normalize(f.Category)
			pat := titlePattern(f.Title)
			key := cat + "\x00" + pat
			acc, ok := accs[key]
			if !ok {
				acc = &patternAccumulator{
					category:    cat,
					pattern:     pat,
					exampleSeen: map[string]struct{}{},
				}
				accs[key] = acc
				order = append(order, key)
			}
			acc.count++
			if u.UpdatedAt.After(acc.lastDismissed) {
				acc.lastDismissed = u.UpdatedAt
			}
			if len(acc.examples) < feedbackMaxExamples {
				if _, seen := acc.exampleSeen[f.Title]; !seen {
					acc.exampleSeen[f.Title] = struct{}{}
					acc.examples = append(acc.examples, f.Title)
				}
			}
		}
	}

	patterns := make([]types.DismissedPattern, 0, len(accs))
	for _, key := range order {
		acc := accs[key]
		patterns = append(patterns, types.DismissedPattern{
			Category:      acc.category,
			Pattern:       acc.pattern,
			Count:         acc.count,
			LastDismissed: acc.lastDismissed,
			ExampleTitles: acc.examples,
		})
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].LastDismissed.After(patterns[j].LastDismissed)
	})
	if len(patterns) > feedbackMaxPatterns {
		patterns = patterns[:feedbackMaxPatterns]
	}

	return &types.FeedbackConfig{
		KnownExceptions: patterns,
		UpdatedAt:       now,
		TotalDismissals: total,
	}
}

func dismissedSet(u *types.Upload) map[string]struct{} {
	ids := []string{}
	if len(u.DismissedFlags) > 0 {
		_ = json.Unmarshal(u.DismissedFlags, &ids)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

var patternPunct = regexp.MustCompile(`[^a-z0-9 ]+`)

// titlePattern strips punctuation before taking the leading words, so titles
// differing only in punctuation or case collapse into the same pattern.
func titlePattern(title string) string {
	cleaned := patternPunct.ReplaceAllString(qc.Normalize(title), " ")
	words := strings.Fields(cleaned)
	if len(words) > patternTitleWords {
		words = words[:patternTitleWords]
	}
	return strings.Join(words, " ")
}
