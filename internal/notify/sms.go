package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SMS posts form-encoded messages to an HTTP gateway that answers
// {"code":0,...} on success.
type SMS struct {
	Endpoint string
	APIKey   string
	Sender   string
	DryRun   bool
	Client   *http.Client
	Logger   *log.Logger
}

type smsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *SMS) Notify(ctx context.Context, msg Message) error {
	to := strings.TrimSpace(msg.To.Phone)
	if to == "" {
		return nil
	}
	text := msg.Subject
	if msg.Body != "" {
		text = msg.Subject + ": " + firstLine(msg.Body)
	}
	if s.DryRun || s.APIKey == "" {
		s.logger().Printf("[sms][dry-run] to=%s sender=%q text=%q", to, s.Sender, text)
		return nil
	}
	form := url.Values{
		"apiKey":    {s.APIKey},
		"recipient": {to},
		"text":      {text},
	}
	if s.Sender != "" {
		form.Set("from", s.Sender)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var result smsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("parse sms response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("sms gateway error code %d: %s", result.Code, result.Message)
	}
	return nil
}

func (s *SMS) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
