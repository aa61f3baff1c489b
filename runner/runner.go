// Package runner implements the Rendition Runner: the task body a queue
// worker executes for one Job Output. It loads persistent state, drives a
// pipeline.Controller through to completion, reacts to its terminal status,
// and — if its Output is the last sibling to finish — runs Job Completion
// under a cross-worker lock.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/livepeer/catalyst-render/config"
	"github.com/livepeer/catalyst-render/executor"
	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/log"
	"github.com/livepeer/catalyst-render/manifest"
	"github.com/livepeer/catalyst-render/metrics"
	"github.com/livepeer/catalyst-render/pipeline"
	"github.com/livepeer/catalyst-render/queue"
	"github.com/livepeer/catalyst-render/webhook"
)

// controllerHandle is the slice of *pipeline.Controller the Runner drives;
// narrowed to an interface, the way the teacher's pipeline.Handler is, so
// tests can substitute a stub instead of forking real subprocesses.
type controllerHandle interface {
	Start(settings job.RenditionSettings, progressCallback func(float64)) error
	Status() executor.Status
	IsCompleted() bool
	Stop()
	Close()
}

// Runner is stateless between invocations; every method takes the
// job/output ids it operates on so a single Runner can be shared by every
// task a worker pulls off the queue.
type Runner struct {
	store    job.Store
	notifier *webhook.Notifier
	merger   *manifest.Merger
	locker   queue.Locker
	revoker  *queue.Revoker

	newController func() controllerHandle
}

func New(store job.Store, notifier *webhook.Notifier, merger *manifest.Merger, locker queue.Locker, revoker *queue.Revoker) *Runner {
	return &Runner{
		store:    store,
		notifier: notifier,
		merger:   merger,
		locker:   locker,
		revoker:  revoker,
		newController: func() controllerHandle {
			return pipeline.New()
		},
	}
}

// Run executes jobID/outputID's rendition to completion. backgroundTaskID
// is this invocation's own revocation key: it is registered with the
// Revoker for the duration of the run, so a sibling's ffmpeg-exception path
// can cancel this one. The queue driving the worker is expected to call Run
// once per enqueued Output task, matching spec.md §1's black-box contract.
func (r *Runner) Run(backgroundTaskID, jobID, outputID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in rendition runner, recovering", "err", rec, "trace", debug.Stack())
			err = fmt.Errorf("panic in rendition runner: %v", rec)
		}
	}()

	ctx := r.revoker.Register(backgroundTaskID)
	defer r.revoker.Unregister(backgroundTaskID)

	settings, err := r.initialize(jobID, outputID)
	if err != nil {
		return err
	}

	controller := r.newController()
	defer controller.Close()

	if err := controller.Start(settings, func(pct float64) { r.updateProgress(jobID, outputID, pct) }); err != nil {
		r.handleFfmpegException(jobID, outputID, err)
		return err
	}

	r.drive(ctx, jobID, outputID, controller)

	for !controller.IsCompleted() {
		time.Sleep(config.RunnerPollInterval)
	}

	return r.maybeCompleteJob(jobID)
}

// initialize loads the Job/Output, promotes the Job to Processing on the
// first Output to start (stamping start_time and firing the webhook), and
// marks this Output Processing. Returns the settings Run needs to start the
// Controller with.
func (r *Runner) initialize(jobID, outputID string) (job.RenditionSettings, error) {
	var settings job.RenditionSettings
	var promoted bool

	err := r.store.UpdateJob(jobID, func(j *job.Job) error {
		if j.Status != job.StatusProcessing {
			j.Status = job.StatusProcessing
			now := config.Clock.GetTime()
			j.StartTime = &now
			promoted = true
		}

		o := findOutput(j, outputID)
		if o == nil {
			return fmt.Errorf("output %s not found on job %s", outputID, jobID)
		}
		o.Status = job.StatusProcessing
		now := config.Clock.GetTime()
		o.StartTime = &now
		settings = o.Settings
		return nil
	})
	if err != nil {
		return settings, err
	}

	if promoted {
		r.notifyWebhook(jobID)
	}
	return settings, nil
}

func findOutput(j *job.Job, outputID string) *job.Output {
	for _, o := range j.Outputs {
		if o.ID == outputID {
			return o
		}
	}
	return nil
}

// drive polls the Controller's aggregate status until it leaves Running,
// reacting to Finished/Errored, or reacts early to ctx being cancelled by a
// sibling's revoke (the stand-in for the original's SoftTimeLimitExceeded
// signal delivered into the task's execution context).
func (r *Runner) drive(ctx context.Context, jobID, outputID string, controller controllerHandle) {
	for {
		select {
		case <-ctx.Done():
			r.updateOutputStatus(jobID, outputID, job.StatusCancelled)
			controller.Stop()
			return
		default:
		}

		switch controller.Status() {
		case executor.Finished:
			r.updateOutputCompleted(jobID, outputID)
			return
		case executor.Errored:
			r.handleFfmpegException(jobID, outputID, fmt.Errorf("transcoding pipeline reported an error"))
			return
		}

		time.Sleep(config.RunnerPollInterval)
	}
}

func (r *Runner) updateOutputCompleted(jobID, outputID string) {
	_ = r.store.UpdateJob(jobID, func(j *job.Job) error {
		o := findOutput(j, outputID)
		if o == nil {
			return nil
		}
		o.Status = job.StatusCompleted
		o.Progress = 100
		now := config.Clock.GetTime()
		o.EndTime = &now
		j.UpdateProgress()
		return nil
	})
}

func (r *Runner) updateOutputStatus(jobID, outputID string, status job.Status) {
	_ = r.store.UpdateJob(jobID, func(j *job.Job) error {
		o := findOutput(j, outputID)
		if o == nil {
			return nil
		}
		o.Status = status
		now := config.Clock.GetTime()
		o.EndTime = &now
		j.UpdateProgress()
		return nil
	})
}

// updateProgress persists the Output's progress only when percentage is
// itself an exact multiple of 5 and differs from what's already stored,
// matching the original's is_multiple_of_five guard against hammering the
// store on every parsed ffmpeg progress line.
func (r *Runner) updateProgress(jobID, outputID string, percentage float64) {
	if math.Mod(percentage, 5) != 0 {
		return
	}
	var persisted bool
	_ = r.store.UpdateJob(jobID, func(j *job.Job) error {
		o := findOutput(j, outputID)
		if o == nil || o.Progress == percentage {
			return nil
		}
		o.Progress = percentage
		j.UpdateProgress()
		persisted = true
		return nil
	})
	if persisted {
		metrics.Metrics.ProgressUpdates.Inc()
	}
}

// handleFfmpegException records the failure on this Output, revokes every
// sibling Output's task so the rest of the job tears down promptly, and
// promotes the Job itself to Error exactly once.
func (r *Runner) handleFfmpegException(jobID, outputID string, cause error) {
	var siblingTaskIDs []string
	var jobAlreadyError bool

	metrics.Metrics.RenditionErrors.WithLabelValues(errorReason(cause)).Inc()

	_ = r.store.UpdateJob(jobID, func(j *job.Job) error {
		o := findOutput(j, outputID)
		if o != nil {
			o.ErrorMessage = cause.Error()
			o.Status = job.StatusError
			now := config.Clock.GetTime()
			o.EndTime = &now
		}
		for _, sibling := range j.Outputs {
			if sibling.ID != outputID && sibling.BackgroundTaskID != "" {
				siblingTaskIDs = append(siblingTaskIDs, sibling.BackgroundTaskID)
			}
		}
		jobAlreadyError = j.Status == job.StatusError
		return nil
	})

	for _, id := range siblingTaskIDs {
		r.revoker.Revoke(id)
	}

	if jobAlreadyError {
		return
	}

	var startTime *time.Time
	_ = r.store.UpdateJob(jobID, func(j *job.Job) error {
		if j.Status == job.StatusError {
			return nil
		}
		j.Status = job.StatusError
		now := config.Clock.GetTime()
		j.EndTime = &now
		startTime = j.StartTime
		return nil
	})
	observeJobDuration(job.StatusError, startTime)
	r.notifyWebhook(jobID)
}

// errorReason buckets a transcoding failure for the rendition_errors_total
// metric's "reason" label without leaking the full (and highly variable)
// error message as a label value.
func errorReason(cause error) string {
	switch {
	case errors.Is(cause, context.Canceled):
		return "cancelled"
	case cause == nil:
		return "unknown"
	default:
		return "pipeline_error"
	}
}

// observeJobDuration records job_duration_seconds for a Job transitioning
// to a terminal status. startTime is nil if the Job never left Queued (e.g.
// a double error callback), in which case there's nothing to observe.
func observeJobDuration(status job.Status, startTime *time.Time) {
	if startTime == nil {
		return
	}
	metrics.Metrics.JobDurationSec.WithLabelValues(string(status)).Observe(time.Since(*startTime).Seconds())
}

// maybeCompleteJob runs Job Completion under the cross-worker lock iff
// every sibling Output has reached Completed: promotes the Job to
// Completed, fires the webhook, and runs the Manifest Merger. Entered by
// every sibling Runner as it finishes; the lock plus the re-check inside it
// ensures exactly one of them does the work.
func (r *Runner) maybeCompleteJob(jobID string) error {
	unlock, err := r.locker.Lock(context.Background(), jobID)
	if err != nil {
		return fmt.Errorf("acquiring job completion lock: %w", err)
	}
	defer unlock()

	j, ok := r.store.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if !j.AllOutputsCompleted() || j.Status == job.StatusCompleted {
		return nil
	}

	var startTime *time.Time
	err = r.store.UpdateJob(jobID, func(j *job.Job) error {
		if j.Status != job.StatusCompleted {
			j.Status = job.StatusCompleted
			now := config.Clock.GetTime()
			j.EndTime = &now
		}
		startTime = j.StartTime
		return nil
	})
	if err != nil {
		return err
	}
	observeJobDuration(job.StatusCompleted, startTime)

	r.notifyWebhook(jobID)

	j, ok = r.store.GetJob(jobID)
	if !ok {
		return fmt.Errorf("job %s not found after completion", jobID)
	}
	if err := r.merger.Merge(j); err != nil {
		log.LogNoRequestID("failed to generate manifest", "job_id", jobID, "err", err.Error())
		return fmt.Errorf("generating manifest: %w", err)
	}
	return nil
}

func (r *Runner) notifyWebhook(jobID string) {
	j, ok := r.store.GetJob(jobID)
	if !ok {
		return
	}
	r.notifier.Notify(j)
}
