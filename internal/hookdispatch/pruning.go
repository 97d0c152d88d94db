package hookdispatch

import (
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

// Prune removes the oldest files in PayloadDir and LogDir until each holds
// at most keepLastN entries, per spec §4.9 step 4. Filenames sort
// lexicographically in chronological order (millisecond-timestamp
// prefix), so trimming the front of the sorted list removes the oldest
// files.
func (d *Dispatcher) Prune(keepLastN int) error {
	if keepLastN <= 0 {
		keepLastN = 1
	}
	for _, dir := range []string{d.opts.PayloadDir, d.opts.LogDir} {
		if dir == "" {
			continue
		}
		if err := pruneDir(dir, keepLastN); err != nil {
			return err
		}
	}
	return nil
}

func pruneDir(dir string, keepLastN int) error {
	names, err := sortedFilenames(dir)
	if err != nil {
		return err
	}
	if len(names) <= keepLastN {
		return nil
	}
	for _, name := range names[:len(names)-keepLastN] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// StartPruneSchedule registers a cron job at schedule that calls Prune on
// every tick, keeping at most keepLastN files per directory. Returns the
// cron.Cron instance so the caller can Stop() it at session shutdown.
// Grounded on the teacher's internal/cron usage of robfig/cron/v3 for
// periodic housekeeping sweeps.
func (d *Dispatcher) StartPruneSchedule(schedule string, keepLastN int) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if err := d.Prune(keepLastN); err != nil {
			d.logger.Warn("hook artifact prune failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
