// Package janitor periodically sweeps TRANSCODED_ROOT for orphaned per-job
// staging directories — ones whose Job no longer exists in the Store,
// typically left behind by a worker that crashed mid-rendition.
package janitor

import (
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"

	"github.com/livepeer/catalyst-render/job"
	"github.com/livepeer/catalyst-render/log"
)

// DefaultSchedule runs the sweep once an hour.
const DefaultSchedule = "0 0 * * * *"

// Janitor owns a robfig/cron scheduler that runs Sweep on a fixed schedule.
type Janitor struct {
	root  string
	store job.Store

	cron *cron.Cron
}

func New(root string, store job.Store, schedule string) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	j := &Janitor{root: root, store: store, cron: c}

	if _, err := c.AddFunc(schedule, j.sweep); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Janitor) Start() { j.cron.Start() }

func (j *Janitor) Stop() { <-j.cron.Stop().Done() }

// sweep removes every TRANSCODED_ROOT subdirectory named after a job id that
// the Store no longer knows about.
func (j *Janitor) sweep() {
	entries, err := os.ReadDir(j.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogNoRequestID("janitor: reading transcoded root", "root", j.root, "err", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		if _, ok := j.store.GetJob(jobID); ok {
			continue
		}

		path := filepath.Join(j.root, jobID)
		if err := os.RemoveAll(path); err != nil {
			log.LogNoRequestID("janitor: removing orphaned staging directory", "path", path, "err", err)
			continue
		}
		log.LogNoRequestID("janitor: removed orphaned staging directory", "path", path)
	}
}

// Sweep runs one sweep pass immediately, outside the cron schedule — used
// by tests and by an operator-triggered manual cleanup.
func (j *Janitor) Sweep() { j.sweep() }
