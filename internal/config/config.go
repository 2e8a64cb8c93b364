package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type MobizonConfig struct {
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
	DryRun   bool   `yaml:"dry_run"`
}

type EmailGatewayConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SMTPHost      string `yaml:"smtp_host"`
	SMTPPort      int    `yaml:"smtp_port"`
	SMTPUser      string `yaml:"smtp_user"`
	SMTPPassword  string `yaml:"smtp_password"`
	FromEmail     string `yaml:"from_email"`
	GatewayDomain string `yaml:"gateway_domain"`
}

type MonitorConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
}

// ConfirmationConfig — политика подтверждения. Длительности — строки в
// формате time.ParseDuration ("24h", "72h30m"); пустая строка = не задано.
type ConfirmationConfig struct {
	ConfirmWithin             string   `yaml:"confirm_within"`
	AllowUnconfirmedAccessFor string   `yaml:"allow_unconfirmed_access_for"`
	Reconfirmable             bool     `yaml:"reconfirmable"`
	ConfirmationKeys          []string `yaml:"confirmation_keys"`
	TokenSecret               string   `yaml:"token_secret"`
	ResendLimit               int      `yaml:"resend_limit"`
	ResendWindow              string   `yaml:"resend_window"`
	DefaultRegion             string   `yaml:"default_region"` // регион для номеров без кода страны
}

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// Проверять активность аккаунта на логине (бывший глобальный
		// toggle, теперь явное значение конфига)
		AuthenticateOnLogin bool `yaml:"authenticate_on_login"`
	} `yaml:"auth"`
	Confirmation ConfirmationConfig `yaml:"confirmation"`
	Mobizon      MobizonConfig      `yaml:"mobizon"`
	EmailGateway EmailGatewayConfig `yaml:"email_gateway"`
	Monitor      MonitorConfig      `yaml:"monitor"`
}

func LoadConfig() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		panic("Failed to open " + path + ": " + err.Error())
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		panic("Failed to parse " + path + ": " + err.Error())
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Confirmation.DefaultRegion == "" {
		cfg.Confirmation.DefaultRegion = "KZ"
	}
	if len(cfg.Confirmation.ConfirmationKeys) == 0 {
		cfg.Confirmation.ConfirmationKeys = []string{"phone_number"}
	}
	return &cfg
}

// ParseDuration — "" => (0, false), иначе обязана парситься.
func ParseDuration(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("bad duration %q: %v", s, err))
	}
	return d, true
}
