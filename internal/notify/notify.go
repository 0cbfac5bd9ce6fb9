// Package notify delivers fire-and-forget notifications about onboarding
// tasks over email, SMS and Telegram.
package notify

import (
	"context"
	"errors"
	"log"
	"sync"

	"propline/internal/domain"
)

// Message is one notification for one recipient.
type Message struct {
	Event     string
	To        domain.User
	Subject   string
	Body      string
	ProjectID string
	TaskID    string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop drops every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

// Multi sends to every notifier and joins the failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers in the background and logs failures. Notify never fails.
type Async struct {
	Next   Notifier
	Logger *log.Logger
	wg     sync.WaitGroup
}

func NewAsync(next Notifier, logger *log.Logger) *Async {
	if logger == nil {
		logger = log.Default()
	}
	return &Async{Next: next, Logger: logger}
}

func (a *Async) Notify(ctx context.Context, msg Message) error {
	if a.Next == nil {
		return nil
	}
	// detach from the request so delivery outlives it
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.Next.Notify(ctx, msg); err != nil {
			a.Logger.Printf("[notify] %s to %s failed: %v", msg.Event, msg.To.ID, err)
		}
	}()
	return nil
}

// Wait blocks until queued deliveries finish.
func (a *Async) Wait() { a.wg.Wait() }
