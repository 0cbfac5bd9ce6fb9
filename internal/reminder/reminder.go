// Package reminder sends the periodic overdue-task digest.
package reminder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"propline/internal/config"
	"propline/internal/engine"
	"propline/internal/notify"
	"propline/internal/schedule"
)

// Source lists overdue work grouped by assignee.
type Source interface {
	OverdueTasks(ctx context.Context) ([]engine.OverdueGroup, error)
}

type Job struct {
	Source   Source
	Notifier notify.Notifier
	Logger   *log.Logger
	Now      func() time.Time

	mu    sync.Mutex
	cron  *cron.Cron
	entry cron.EntryID
}

func (j *Job) logger() *log.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return log.Default()
}

func (j *Job) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// RunOnce sends one digest per assignee with overdue tasks and reports how
// many were sent. Delivery failures are logged and skipped.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	groups, err := j.Source.OverdueTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list overdue tasks: %w", err)
	}
	today := schedule.Today(j.now()).Format("2006-01-02")
	sent := 0
	for _, g := range groups {
		if len(g.Tasks) == 0 {
			continue
		}
		if err := j.Notifier.Notify(ctx, notify.OverdueDigest(g.User, g.Tasks, today)); err != nil {
			j.logger().Printf("[reminder] digest to %s failed: %v", g.User.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Start schedules RunOnce on spec until ctx is done or Stop is called.
func (j *Job) Start(ctx context.Context, spec string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return fmt.Errorf("reminder already running")
	}
	c := cron.New(cron.WithParser(config.CronParser))
	id, err := c.AddFunc(spec, func() {
		n, err := j.RunOnce(ctx)
		if err != nil {
			j.logger().Printf("[reminder] run failed: %v", err)
			return
		}
		j.logger().Printf("[reminder] sent %d overdue digest(s)", n)
	})
	if err != nil {
		return fmt.Errorf("schedule reminder %q: %w", spec, err)
	}
	j.cron, j.entry = c, id
	c.Start()
	j.logger().Printf("[reminder] scheduled %q", spec)
	go func() {
		<-ctx.Done()
		j.Stop()
	}()
	return nil
}

// Next reports the next scheduled run, or the zero time when stopped.
func (j *Job) Next() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron == nil {
		return time.Time{}
	}
	return j.cron.Entry(j.entry).Next
}

// Stop halts scheduling and waits for a running digest to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger().Printf("[reminder] stopped")
}
