package qc

import (
	"context"
	"time"
)

// UploadView is the slice of an upload row a polling client needs to decide
// whether deep analysis is still in flight.
type UploadView struct {
	ID                 string
	Status             string
	DeepAnalysisStatus string
	Result             *QCResult
	DeepProgressPct    int
	DeepProgressStage  string
}

// DeepTerminal mirrors the server-side terminal check for the secondary
// lifecycle.
func (v UploadView) DeepTerminal() bool {
	return v.DeepAnalysisStatus == "completed" || v.DeepAnalysisStatus == "failed"
}

// UploadReader fetches the current view of one upload. Implementations wrap
// the polling read endpoint or, in process, the upload repo.
type UploadReader interface {
	ReadUpload(ctx context.Context, id string) (*UploadView, error)
}

// Poller re-reads an upload until its deep analysis reaches a terminal
// state. The authoritative merged result always comes from the server; the
// poller never merges flags itself, so a re-read after redelivery shows the
// same flag set.
type Poller struct {
	reader   UploadReader
	interval time.Duration
}

const defaultPollInterval = 3 * time.Second

func NewPoller(reader UploadReader, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Poller{reader: reader, interval: interval}
}

// Watch polls the upload and invokes onUpdate with each fetched view,
// including the terminal one. Returns the final view, or the context error
// if cancelled first. Read errors are transient: the poll continues.
func (p *Poller) Watch(ctx context.Context, id string, onUpdate func(UploadView)) (*UploadView, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		view, err := p.reader.ReadUpload(ctx, id)
		if err == nil {
			if onUpdate != nil {
				onUpdate(*view)
			}
			if view.DeepTerminal() {
				return view, nil
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
