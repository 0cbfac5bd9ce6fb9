package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models propline.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Auth     AuthConfig      `yaml:"auth"`
	Storage  StorageConfig   `yaml:"storage"`
	Schedule ScheduleConfig  `yaml:"schedule"`
	Notify   NotifyConfig    `yaml:"notify"`
	Reminder ReminderConfig  `yaml:"reminder"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	BasePath string `yaml:"base_path" validate:"omitempty,startswith=/"`
}

type AuthConfig struct {
	// JWTSecretEnv names the environment variable holding the HS256 secret.
	JWTSecretEnv string `yaml:"jwt_secret_env" validate:"required"`
	Issuer       string `yaml:"issuer"`
}

type StorageConfig struct {
	Dir              string `yaml:"dir" validate:"required"`
	SigningSecretEnv string `yaml:"signing_secret_env"`
	URLTTLSeconds    int    `yaml:"url_ttl_seconds" validate:"gte=0"`
	BaseURL          string `yaml:"base_url" validate:"omitempty,url"`
}

type ScheduleConfig struct {
	RescheduleCeilingDays int `yaml:"reschedule_ceiling_days" validate:"gte=1,lte=365"`
}

type NotifyConfig struct {
	Email    EmailConfig    `yaml:"email"`
	SMS      SMSConfig      `yaml:"sms"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type EmailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host" validate:"required_if=Enabled true"`
	Port        int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	From        string `yaml:"from" validate:"required_if=Enabled true,omitempty,email"`
}

type SMSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Sender    string `yaml:"sender"`
	DryRun    bool   `yaml:"dry_run"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env" validate:"required_if=Enabled true"`
}

type ReminderConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a six-field cron expression (seconds first).
	Schedule string `yaml:"schedule" validate:"required_if=Enabled true"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"gte=0"`
	Enabled        *bool    `yaml:"enabled"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CronParser parses reminder schedules.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s failed %q validation", strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config.")), fe.Tag())
		}
		return err
	}
	if c.Reminder.Enabled {
		if _, err := CronParser.Parse(c.Reminder.Schedule); err != nil {
			return fmt.Errorf("config.reminder.schedule: %w", err)
		}
	}
	seen := map[string]bool{}
	for _, hook := range c.Webhooks {
		if seen[hook.URL] {
			return fmt.Errorf("webhook %s configured twice", hook.URL)
		}
		seen[hook.URL] = true
	}
	return nil
}

// Secret reads an environment variable named by a *_env setting.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

// StorageDir resolves the blob directory against the workspace.
func (c *Config) StorageDir(workspace string) string {
	if filepath.IsAbs(c.Storage.Dir) {
		return c.Storage.Dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Storage.Dir)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "propline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the default config if the file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults, then validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""

auth:
  jwt_secret_env: PROPLINE_JWT_SECRET
  issuer: propline

storage:
  dir: .propline/files
  signing_secret_env: PROPLINE_FILE_SECRET
  url_ttl_seconds: 900
  base_url: ""

schedule:
  # overdue tasks may be pushed out at most this many days
  reschedule_ceiling_days: 28

notify:
  email:
    enabled: false
    host: ""
    port: 587
    username: ""
    password_env: PROPLINE_SMTP_PASSWORD
    from: ""
  sms:
    enabled: false
    endpoint: ""
    api_key_env: PROPLINE_SMS_API_KEY
    sender: ""
    dry_run: true
  telegram:
    enabled: false
    token_env: PROPLINE_TELEGRAM_TOKEN

reminder:
  enabled: false
  schedule: "0 0 8 * * *"

webhooks: []
`
