package qc

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UploadStatus is the primary lifecycle: file intake through submission to
// the external review platform.
const (
	UploadStatusPending   = "pending"
	UploadStatusAnalyzing = "analyzing"
	UploadStatusReviewed  = "reviewed"
	UploadStatusUploading = "uploading"
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
)

// DeepAnalysisStatus is the independent secondary lifecycle tracking the
// external deep-analysis worker.
const (
	DeepAnalysisPending    = "pending"
	DeepAnalysisProcessing = "processing"
	DeepAnalysisCompleted  = "completed"
	DeepAnalysisFailed     = "failed"
)

// Upload is one submitted video file. The row is the single coordination
// point for the whole QC pipeline; components mutate it via targeted field
// updates only, and rows are never deleted.
type Upload struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProjectID  uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	UploaderID uuid.UUID `gorm:"type:uuid;not null;index" json:"uploader_id"`

	FileName    string `gorm:"column:file_name;not null" json:"file_name"`
	StoragePath string `gorm:"column:storage_path" json:"storage_path"`
	ClientName  string `gorm:"column:client_name;index" json:"client_name,omitempty"`

	Status             string         `gorm:"column:status;not null;index" json:"status"`
	DeepAnalysisStatus string         `gorm:"column:deep_analysis_status;not null;index" json:"deep_analysis_status"`
	DeepProgress       datatypes.JSON `gorm:"column:deep_analysis_progress;type:jsonb" json:"deep_analysis_progress,omitempty"`

	QCResult       datatypes.JSON `gorm:"column:qc_result;type:jsonb" json:"qc_result,omitempty"`
	QCPassed       *bool          `gorm:"column:qc_passed" json:"qc_passed,omitempty"`
	DismissedFlags datatypes.JSON `gorm:"column:dismissed_flags;type:jsonb" json:"dismissed_flags,omitempty"`
	VisualAnalysis datatypes.JSON `gorm:"column:visual_analysis;type:jsonb" json:"visual_analysis,omitempty"`
	AudioAnalysis  datatypes.JSON `gorm:"column:audio_analysis;type:jsonb" json:"audio_analysis,omitempty"`
	DeepFailure    datatypes.JSON `gorm:"column:deep_failure;type:jsonb" json:"-"`

	SignedURL          string     `gorm:"column:signed_url" json:"-"`
	SignedURLExpiresAt *time.Time `gorm:"column:signed_url_expires_at" json:"-"`

	ExternalPlatformID string `gorm:"column:external_platform_id;index" json:"external_platform_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Upload) TableName() string { return "qc_upload" }

// DeepAnalysisTerminal reports whether the secondary lifecycle has finished,
// successfully or not.
func (u *Upload) DeepAnalysisTerminal() bool {
	return u.DeepAnalysisStatus == DeepAnalysisCompleted || u.DeepAnalysisStatus == DeepAnalysisFailed
}

// DeepProgressState is the last-known-good worker progress, monotone in
// percent while processing.
type DeepProgressState struct {
	Percent int    `json:"percent"`
	Stage   string `json:"stage,omitempty"`
}

// DismissedPattern is one recurring dismissed finding, aggregated across
// uploads by the feedback aggregator.
type DismissedPattern struct {
	Category      string    `json:"category"`
	Pattern       string    `json:"pattern"`
	Count         int       `json:"count"`
	LastDismissed time.Time `json:"last_dismissed"`
	ExampleTitles []string  `json:"example_titles,omitempty"`
}

// FeedbackConfig is the published suppression document the external worker
// reads before each run. Advisory only; it never suppresses errors outright.
type FeedbackConfig struct {
	KnownExceptions []DismissedPattern `json:"known_exceptions"`
	UpdatedAt       time.Time          `json:"updated_at"`
	TotalDismissals int                `json:"total_dismissals"`
}
