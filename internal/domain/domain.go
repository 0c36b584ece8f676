package domain

import (
	qcdomain "github.com/framewell/studio-qc-backend/internal/domain/qc"
)

type (
	Upload            = qcdomain.Upload
	DeepProgressState = qcdomain.DeepProgressState
	DismissedPattern  = qcdomain.DismissedPattern
	FeedbackConfig    = qcdomain.FeedbackConfig
)

const (
	UploadStatusPending   = qcdomain.UploadStatusPending
	UploadStatusAnalyzing = qcdomain.UploadStatusAnalyzing
	UploadStatusReviewed  = qcdomain.UploadStatusReviewed
	UploadStatusUploading = qcdomain.UploadStatusUploading
	UploadStatusCompleted = qcdomain.UploadStatusCompleted
	UploadStatusFailed    = qcdomain.UploadStatusFailed

	DeepAnalysisPending    = qcdomain.DeepAnalysisPending
	DeepAnalysisProcessing = qcdomain.DeepAnalysisProcessing
	DeepAnalysisCompleted  = qcdomain.DeepAnalysisCompleted
	DeepAnalysisFailed     = qcdomain.DeepAnalysisFailed
)
