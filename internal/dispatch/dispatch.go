// Package dispatch bridges "it is time to publish" to "a platform
// uploader has been asked to publish". It reads schedule entries from
// the store and submits one deferred job per entry to the task engine,
// routed by the entry's platform metadata key.
package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"castline/internal/platform"
	"castline/internal/status"
	"castline/internal/store"
	"castline/internal/task/engine"
	logx "castline/pkg/logx"
)

type Dispatcher struct {
	store  *store.Store
	engine *engine.Service
	reg    *platform.Registry
	log    logx.Logger
}

func New(st *store.Store, eng *engine.Service, reg *platform.Registry, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{store: st, engine: eng, reg: reg, log: log}
}

// Dispatch submits one deferred upload job per schedule entry of the
// project, with the job's earliest-execution time set to the entry's
// scheduled time. It returns the number of jobs submitted and does not
// wait for any of them; completion is reported asynchronously through
// the entry's status.
//
// Entries already in a terminal state are skipped. Re-running Dispatch
// resubmits jobs for entries still queued; deduplication of in-flight
// work is left to idempotent uploader behavior.
func (d *Dispatcher) Dispatch(ctx context.Context, projectID int64) (int, error) {
	entries, err := d.store.ListScheduleEntries(ctx, projectID)
	if err != nil {
		return 0, fmt.Errorf("dispatch project %d: %w", projectID, err)
	}

	count := 0
	for _, e := range entries {
		if e.Status().Terminal() {
			continue
		}

		name := e.Metadata[status.KeyPlatform]
		up, ok := d.reg.Lookup(name)
		if !ok {
			// No route for this entry; record the failure rather than
			// leaving it queued forever.
			d.log.Error("no uploader for platform",
				logx.String("platform", name), logx.Int64("entry_id", e.ID))
			if err := d.store.SetStatus(ctx, e.ID, status.Failed); err != nil {
				return count, err
			}
			continue
		}

		job := platform.Job{ProjectID: e.ProjectID, EntryID: e.ID, Meta: e.Metadata}
		task := engine.Task{
			ID:        uuid.New().String(),
			Name:      "upload." + up.Name(),
			NotBefore: e.ScheduledAt,
			Run:       d.runner(up, job),
			// One attempt per dispatch: the uploaders record a terminal
			// status themselves, so blind re-runs would race with it.
			Opt: engine.TaskOptions{RetryMax: -1},
		}
		if err := d.engine.Submit(task); err != nil {
			return count, fmt.Errorf("submit entry %d: %w", e.ID, err)
		}
		count++
		d.log.Info("job submitted",
			logx.Int64("project_id", e.ProjectID),
			logx.Int64("entry_id", e.ID),
			logx.String("platform", up.Name()),
			logx.Time("eligible_at", e.ScheduledAt))
	}
	return count, nil
}

// DispatchAll runs Dispatch over every registered project and returns
// the total job count.
func (d *Dispatcher) DispatchAll(ctx context.Context) (int, error) {
	projects, err := d.store.ListProjects(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range projects {
		n, err := d.Dispatch(ctx, p.ID)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// runner wraps one upload attempt: call the uploader, then persist the
// terminal status. The upload outcome is recorded even when the job
// errors, so the entry never silently stays queued after an attempt.
func (d *Dispatcher) runner(up platform.Uploader, job platform.Job) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if cur, err := d.store.GetEntry(ctx, job.EntryID); err == nil {
			if !status.CanTransition(cur.Status(), status.Uploaded) {
				// A duplicate dispatch raced us to a terminal state.
				d.log.Warn("entry already terminal, skipping upload",
					logx.Int64("entry_id", job.EntryID),
					logx.String("status", string(cur.Status())))
				return nil
			}
		}

		platformID, err := up.Upload(ctx, job)
		if err != nil {
			d.log.Error("upload failed",
				logx.Int64("entry_id", job.EntryID),
				logx.String("platform", up.Name()),
				logx.Err(err))
			if serr := d.store.SetStatus(ctx, job.EntryID, status.Failed); serr != nil {
				d.log.Error("status write failed", logx.Int64("entry_id", job.EntryID), logx.Err(serr))
			}
			return engine.NoRetry(err)
		}

		merge := map[string]string{status.KeyStatus: string(status.Uploaded)}
		if platformID != "" {
			merge[status.KeyPlatformID] = platformID
		}
		if err := d.store.MergeEntryMeta(ctx, job.EntryID, merge); err != nil {
			return engine.NoRetry(fmt.Errorf("record upload of entry %d: %w", job.EntryID, err))
		}
		return nil
	}
}
