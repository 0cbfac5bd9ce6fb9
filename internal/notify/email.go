package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"gopkg.in/gomail.v2"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type Email struct {
	sender mailSender
	from   string
}

func NewEmail(host string, port int, username, password, from string) *Email {
	return &Email{sender: gomail.NewDialer(host, port, username, password), from: from}
}

func (e *Email) Notify(_ context.Context, msg Message) error {
	if strings.TrimSpace(msg.To.Email) == "" {
		return nil
	}
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetAddressHeader("To", msg.To.Email, msg.To.Name)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	m.AddAlternative("text/html", "<p>"+strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>")+"</p>")
	if err := e.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
