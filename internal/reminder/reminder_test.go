package reminder

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"propline/internal/domain"
	"propline/internal/engine"
	"propline/internal/notify"
)

type fixedSource struct {
	groups []engine.OverdueGroup
	err    error
}

func (s fixedSource) OverdueTasks(context.Context) ([]engine.OverdueGroup, error) {
	return s.groups, s.err
}

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
	fail string
}

func (r *recorder) Notify(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.To.ID == r.fail {
		return errors.New("unreachable")
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func due(s string) *string { return &s }

func TestRunOnceSendsOneDigestPerUser(t *testing.T) {
	rec := &recorder{fail: "u-3"}
	job := &Job{
		Source: fixedSource{groups: []engine.OverdueGroup{
			{User: domain.User{ID: "u-1", Name: "Olive"}, Tasks: []domain.Task{
				{Title: "Door code", PhaseNumber: 2, DueDate: due("2026-03-01")},
				{Title: "Owner phone", PhaseNumber: 1, DueDate: due("2026-03-05")},
			}},
			{User: domain.User{ID: "u-2"}},
			{User: domain.User{ID: "u-3"}, Tasks: []domain.Task{{Title: "Cleaning fee", PhaseNumber: 6}}},
		}},
		Notifier: rec,
		Logger:   quiet(),
		Now:      func() time.Time { return time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC) },
	}
	n, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(rec.msgs) != 1 {
		t.Fatalf("expected one delivered digest, got %d (%d recorded)", n, len(rec.msgs))
	}
	msg := rec.msgs[0]
	if msg.Event != notify.EventOverdue || !strings.Contains(msg.Body, "2026-03-10") || !strings.Contains(msg.Body, "Door code") {
		t.Fatalf("unexpected digest %+v", msg)
	}
}

func TestRunOnceReportsSourceErrors(t *testing.T) {
	job := &Job{Source: fixedSource{err: errors.New("db closed")}, Notifier: &recorder{}, Logger: quiet()}
	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	job := &Job{Source: fixedSource{}, Notifier: &recorder{}, Logger: quiet()}
	if err := job.Start(context.Background(), "every tuesday"); err == nil {
		t.Fatalf("expected schedule error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := job.Start(ctx, "0 0 8 * * *"); err != nil {
		t.Fatal(err)
	}
	if job.Next().IsZero() {
		t.Fatalf("expected a next run")
	}
	if err := job.Start(ctx, "@daily"); err == nil {
		t.Fatalf("expected already running error")
	}
	job.Stop()
	if !job.Next().IsZero() {
		t.Fatalf("stopped job should have no next run")
	}
}
