package notify

import (
	"log"
	"net/http"
	"time"

	"propline/internal/config"
)

// FromConfig assembles the enabled channels behind an Async fan-out.
// A channel that cannot start is logged and skipped.
func FromConfig(cfg config.NotifyConfig, logger *log.Logger) *Async {
	if logger == nil {
		logger = log.Default()
	}
	var channels Multi
	if cfg.Email.Enabled {
		port := cfg.Email.Port
		if port == 0 {
			port = 587
		}
		channels = append(channels, NewEmail(cfg.Email.Host, port, cfg.Email.Username, config.Secret(cfg.Email.PasswordEnv), cfg.Email.From))
	}
	if cfg.SMS.Enabled {
		channels = append(channels, &SMS{
			Endpoint: cfg.SMS.Endpoint,
			APIKey:   config.Secret(cfg.SMS.APIKeyEnv),
			Sender:   cfg.SMS.Sender,
			DryRun:   cfg.SMS.DryRun,
			Client:   &http.Client{Timeout: 10 * time.Second},
			Logger:   logger,
		})
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(config.Secret(cfg.Telegram.TokenEnv))
		if err != nil {
			logger.Printf("[notify] telegram disabled: %v", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if len(channels) == 0 {
		return NewAsync(Nop{}, logger)
	}
	return NewAsync(channels, logger)
}
