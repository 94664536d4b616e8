// Package scrape routes claimed jobs to their platform fetcher and reports
// progress and results back through the job service's update contract.
package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/jobs"
	"github.com/mgrall/collector/internal/progress"
	"github.com/mgrall/collector/internal/store"
)

// Orchestrator runs one job at a time per call: claim, fetch, record
// artifacts, write the terminal state. It never holds a long-lived Job
// reference across the fetch; every write goes through the service by id.
type Orchestrator struct {
	service  *jobs.Service
	files    store.FileRepository
	fetchers map[collector.Platform]collector.Fetcher
	emitter  progress.Emitter
	clock    collector.Clock
	root     string
	logger   *zap.Logger
}

// New builds an Orchestrator over the given fetcher registry. root is the
// download root used to measure artifacts whose fetcher reported no size.
func New(
	service *jobs.Service,
	files store.FileRepository,
	fetchers map[collector.Platform]collector.Fetcher,
	emitter progress.Emitter,
	clock collector.Clock,
	root string,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := make(map[collector.Platform]collector.Fetcher, len(fetchers))
	for p, f := range fetchers {
		reg[p] = f
	}
	return &Orchestrator{
		service:  service,
		files:    files,
		fetchers: reg,
		emitter:  emitter,
		clock:    clock,
		root:     root,
		logger:   logger,
	}
}

// Run executes jobID to completion. ctx is the job's cancellation token;
// when it fires mid-fetch the terminal write is skipped so the cancelled
// status set by the service survives.
func (o *Orchestrator) Run(ctx context.Context, jobID string) {
	job, err := o.service.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("submitted job vanished", zap.String("job_id", jobID))
		return
	}
	if err != nil {
		o.logger.Error("loading submitted job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != collector.JobStatusPending {
		// Cancelled (or otherwise moved on) while queued.
		o.logger.Info("skipping job no longer pending",
			zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return
	}

	started := o.clock.Now()
	if ok := o.markRunning(ctx, jobID); !ok {
		return
	}
	o.emit(progress.Event{
		JobID:    jobID,
		Platform: job.Platform,
		TS:       started.UTC(),
		Stage:    progress.StageJobStart,
	})

	result, err := o.fetch(ctx, job)
	elapsed := o.clock.Now().Sub(started)

	if o.cancelled(ctx, jobID) {
		o.logger.Info("job cancelled mid-fetch, skipping terminal write",
			zap.String("job_id", jobID))
		return
	}

	// The check above is best-effort; FinishJob's status-guarded write is
	// what actually keeps a late cancel from being overwritten. WithoutCancel
	// keeps the token from tearing the persist itself.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil || !result.Success {
		msg := result.Err
		if err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "fetch failed"
		}
		o.fail(writeCtx, job, msg, elapsed)
		return
	}
	o.complete(writeCtx, job, result, elapsed)
}

// fetch resolves the fetcher and invokes it, converting panics into errors
// so a misbehaving fetcher fails one job instead of the process.
func (o *Orchestrator) fetch(ctx context.Context, job collector.Job) (result collector.ScrapeResult, err error) {
	fetcher, ok := o.fetchers[job.Platform]
	if !ok {
		return collector.ScrapeResult{}, fmt.Errorf("no fetcher registered for platform %q", job.Platform)
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("fetcher panicked",
				zap.String("job_id", job.ID), zap.Any("panic", r))
			err = fmt.Errorf("fetcher panicked: %v", r)
		}
	}()

	cb := func(percent int, operation string) {
		o.reportProgress(ctx, job, percent, operation)
	}
	return fetcher.Scrape(ctx, job.ID, job.URL, cb)
}

func (o *Orchestrator) markRunning(ctx context.Context, jobID string) bool {
	status := collector.JobStatusRunning
	op := "starting"
	ok, err := o.service.Update(ctx, jobID, store.JobUpdate{
		Status:           &status,
		CurrentOperation: &op,
	})
	if err != nil {
		o.logger.Error("marking job running", zap.String("job_id", jobID), zap.Error(err))
		return false
	}
	return ok
}

// reportProgress forwards fetcher callbacks into the persisted update path.
func (o *Orchestrator) reportProgress(ctx context.Context, job collector.Job, percent int, operation string) {
	upd := store.JobUpdate{Progress: &percent}
	if operation != "" {
		upd.CurrentOperation = &operation
	}
	if _, err := o.service.Update(ctx, job.ID, upd); err != nil {
		o.logger.Warn("progress update failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	o.emit(progress.Event{
		JobID:     job.ID,
		Platform:  job.Platform,
		TS:        o.clock.Now().UTC(),
		Stage:     progress.StageJobProgress,
		Percent:   percent,
		Operation: operation,
	})
}

// cancelled reports whether the job was cancelled while the fetch ran,
// either via its token or by a direct status flip.
func (o *Orchestrator) cancelled(ctx context.Context, jobID string) bool {
	if ctx.Err() != nil {
		return true
	}
	current, err := o.service.Get(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return false
	}
	return current.Status == collector.JobStatusCancelled
}

func (o *Orchestrator) complete(ctx context.Context, job collector.Job, result collector.ScrapeResult, elapsed time.Duration) {
	var bytes int64
	now := o.clock.Now().UTC()
	var metadataJSON string
	if len(result.Metadata) > 0 {
		if raw, err := json.Marshal(result.Metadata); err == nil {
			metadataJSON = string(raw)
		}
	}
	var firstID int64
	metadataAttached := false
	for _, sf := range result.Files {
		file := collector.File{
			JobID:     job.ID,
			FilePath:  sf.Path,
			FileType:  sf.Type,
			FileSize:  sf.Size,
			CreatedAt: now,
		}
		if sf.Type == collector.FileTypeMetadata && metadataJSON != "" {
			file.MetadataJSON = metadataJSON
			metadataAttached = true
		}
		id, err := o.files.Create(ctx, file)
		if err != nil {
			o.logger.Error("recording artifact",
				zap.String("job_id", job.ID), zap.String("path", sf.Path), zap.Error(err))
			continue
		}
		if firstID == 0 {
			firstID = id
		}
		size := sf.Size
		if size == 0 && o.root != "" {
			// Not every fetcher knows final sizes; measure on disk and
			// backfill the row.
			if fi, statErr := os.Stat(filepath.Join(o.root, filepath.FromSlash(sf.Path))); statErr == nil && fi.Mode().IsRegular() {
				size = fi.Size()
				if err := o.files.UpdateSize(ctx, id, size); err != nil {
					o.logger.Warn("backfilling artifact size",
						zap.String("job_id", job.ID), zap.String("path", sf.Path), zap.Error(err))
				}
			}
		}
		bytes += size
	}
	if !metadataAttached && metadataJSON != "" && firstID != 0 {
		// No metadata artifact to carry the scrape metadata; hang it off
		// the primary file instead.
		if err := o.files.UpdateMetadata(ctx, firstID, metadataJSON); err != nil {
			o.logger.Warn("attaching scrape metadata",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	status := collector.JobStatusCompleted
	progressDone := 100
	op := "done"
	upd := store.JobUpdate{
		Status:           &status,
		Progress:         &progressDone,
		CurrentOperation: &op,
		BytesDownloaded:  &bytes,
	}
	if result.Title != "" {
		upd.Title = &result.Title
	}
	ok, err := o.service.FinishJob(ctx, job.ID, upd)
	if err != nil {
		o.logger.Error("terminal write failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		o.logger.Info("job cancelled before completion landed", zap.String("job_id", job.ID))
		return
	}
	o.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("files", len(result.Files)),
		zap.Int64("bytes", bytes),
		zap.Duration("elapsed", elapsed))
	o.emit(progress.Event{
		JobID:    job.ID,
		Platform: job.Platform,
		TS:       o.clock.Now().UTC(),
		Stage:    progress.StageJobDone,
		Bytes:    bytes,
		Dur:      elapsed,
	})
}

func (o *Orchestrator) fail(ctx context.Context, job collector.Job, msg string, elapsed time.Duration) {
	status := collector.JobStatusFailed
	ok, err := o.service.FinishJob(ctx, job.ID, store.JobUpdate{
		Status:       &status,
		ErrorMessage: &msg,
	})
	if err != nil {
		o.logger.Error("terminal write failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if !ok {
		o.logger.Info("job cancelled before failure landed", zap.String("job_id", job.ID))
		return
	}
	o.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("error", msg),
		zap.Duration("elapsed", elapsed))
	o.emit(progress.Event{
		JobID:    job.ID,
		Platform: job.Platform,
		TS:       o.clock.Now().UTC(),
		Stage:    progress.StageJobError,
		Dur:      elapsed,
		Note:     msg,
	})
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter != nil {
		o.emitter.Emit(evt)
	}
}
