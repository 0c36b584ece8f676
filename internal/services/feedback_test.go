package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	types "github.com/framewell/studio-qc-backend/internal/domain"
	"github.com/framewell/studio-qc-backend/internal/platform/gcp"
	"github.com/framewell/studio-qc-backend/internal/qc"
)

func uploadWithDismissals(t *testing.T, flags []qc.Flag, dismissed []string, updatedAt time.Time) *types.Upload {
	t.Helper()
	result := qc.QCResult{Passed: qc.Passed(flags), Flags: flags}
	rb, _ := json.Marshal(result)
	db, _ := json.Marshal(dismissed)
	return &types.Upload{
		ID:             uuid.New(),
		FileName:       "sunrise_005_v02.mp4",
		Status:         types.UploadStatusReviewed,
		QCResult:       rb,
		DismissedFlags: db,
		UpdatedAt:      updatedAt,
	}
}

func TestBuildFeedbackConfigAggregatesPatterns(t *testing.T) {
	now := time.Now()
	warn := func(id, title string) qc.Flag {
		return qc.Flag{ID: id, Type: qc.FlagTypeWarning, Category: "Color", Title: title, Source: qc.FlagSourceDeepVisual}
	}

	uploads := []*types.Upload{
		uploadWithDismissals(t,
			[]qc.Flag{warn("a1", "Slight banding in sky gradient"), warn("a2", "Slight banding in sky near horizon")},
			[]string{"a1", "a2"}, now.Add(-2*time.Hour)),
		uploadWithDismissals(t,
			[]qc.Flag{warn("b1", "Slight banding in sky gradient")},
			[]string{"b1"}, now.Add(-time.Hour)),
		uploadWithDismissals(t,
			[]qc.Flag{{ID: "c1", Type: qc.FlagTypeWarning, Category: "audio", Title: "Room tone shift", Source: qc.FlagSourceDeepAudio}},
			[]string{"c1"}, now.Add(-30*time.Minute)),
	}

	cfg := BuildFeedbackConfig(uploads, now)
	if cfg.TotalDismissals != 4 {
		t.Fatalf("total dismissals = %d, want 4", cfg.TotalDismissals)
	}
	if len(cfg.KnownExceptions) != 2 {
		t.Fatalf("expected 2 patterns, got %+v", cfg.KnownExceptions)
	}

	// Highest count first. The two banding titles share the leading words so
	// they collapse into one pattern.
	top := cfg.KnownExceptions[0]
	if top.Category != "color" || top.Count != 3 {
		t.Fatalf("top pattern = %+v", top)
	}
	if top.Pattern != "slight banding in sky" {
		t.Fatalf("pattern key = %q", top.Pattern)
	}
	if len(top.ExampleTitles) != 2 {
		t.Fatalf("examples = %v", top.ExampleTitles)
	}
}

func TestBuildFeedbackConfigIgnoresPunctuationAndCase(t *testing.T) {
	now := time.Now()
	audio := func(id, title string) qc.Flag {
		return qc.Flag{ID: id, Type: qc.FlagTypeWarning, Category: "Audio", Title: title, Source: qc.FlagSourceDeepAudio}
	}

	uploads := []*types.Upload{
		uploadWithDismissals(t, []qc.Flag{audio("a1", "Low dialogue level")}, []string{"a1"}, now.Add(-3*time.Hour)),
		uploadWithDismissals(t, []qc.Flag{audio("b1", "Low dialogue level.")}, []string{"b1"}, now.Add(-2*time.Hour)),
		uploadWithDismissals(t, []qc.Flag{audio("c1", "low dialogue level!")}, []string{"c1"}, now.Add(-time.Hour)),
	}

	cfg := BuildFeedbackConfig(uploads, now)
	if len(cfg.KnownExceptions) != 1 {
		t.Fatalf("punctuation variants split the pattern: %+v", cfg.KnownExceptions)
	}
	p := cfg.KnownExceptions[0]
	if p.Category != "audio" || p.Pattern != "low dialogue level" || p.Count != 3 {
		t.Fatalf("pattern = %+v", p)
	}
}

func TestBuildFeedbackConfigExcludesErrorSeverity(t *testing.T) {
	now := time.Now()
	uploads := []*types.Upload{
		uploadWithDismissals(t,
			[]qc.Flag{
				{ID: "e1", Type: qc.FlagTypeError, Category: "format", Title: "Corrupt frames", Source: qc.FlagSourceDeepVisual},
				{ID: "w1", Type: qc.FlagTypeWarning, Category: "color", Title: "Banding", Source: qc.FlagSourceDeepVisual},
			},
			[]string{"e1", "w1"}, now),
	}

	cfg := BuildFeedbackConfig(uploads, now)
	if cfg.TotalDismissals != 1 {
		t.Fatalf("dismissed error counted: total = %d", cfg.TotalDismissals)
	}
	for _, p := range cfg.KnownExceptions {
		if p.Category == "format" {
			t.Fatalf("error-severity finding became a suppression pattern: %+v", p)
		}
	}
}

func TestBuildFeedbackConfigIgnoresUndismissedFlags(t *testing.T) {
	now := time.Now()
	uploads := []*types.Upload{
		uploadWithDismissals(t,
			[]qc.Flag{
				{ID: "w1", Type: qc.FlagTypeWarning, Category: "color", Title: "Banding", Source: qc.FlagSourceDeepVisual},
				{ID: "w2", Type: qc.FlagTypeWarning, Category: "audio", Title: "Hiss", Source: qc.FlagSourceDeepAudio},
			},
			[]string{"w1"}, now),
	}
	cfg := BuildFeedbackConfig(uploads, now)
	if cfg.TotalDismissals != 1 || len(cfg.KnownExceptions) != 1 {
		t.Fatalf("undismissed flag aggregated: %+v", cfg)
	}
}

func TestFeedbackSyncPublishesConfig(t *testing.T) {
	repo := newFakeUploadRepo()
	bucket := newFakeBucket()
	svc := NewFeedbackService(testLogger(t), repo, bucket)

	u := uploadWithDismissals(t,
		[]qc.Flag{{ID: "w1", Type: qc.FlagTypeWarning, Category: "color", Title: "Banding", Source: qc.FlagSourceDeepVisual}},
		[]string{"w1"}, time.Now())
	repo.put(u)

	cfg, err := svc.Sync(dbcBg())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if cfg.TotalDismissals != 1 {
		t.Fatalf("config = %+v", cfg)
	}

	raw, ok := bucket.object(gcp.BucketCategoryWorkerIntake, "config/feedback.json")
	if !ok {
		t.Fatalf("feedback config not published")
	}
	var published types.FeedbackConfig
	if err := json.Unmarshal(raw, &published); err != nil {
		t.Fatalf("published config unreadable: %v", err)
	}
	if len(published.KnownExceptions) != 1 || published.KnownExceptions[0].Category != "color" {
		t.Fatalf("published config = %+v", published)
	}
}
