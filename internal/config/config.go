package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"

	TransportSMTP  = "smtp"
	TransportGmail = "gmail"

	ModeScheduled = "scheduled"
	ModeOnce      = "once"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	IMAP         IMAPConfig         `mapstructure:"imap"`
	Mail         MailConfig         `mapstructure:"mail"`
	Jira         JiraConfig         `mapstructure:"jira"`
	Notification NotificationConfig `mapstructure:"notification"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig controls the logrus setup
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// DatabaseConfig selects and configures the record store backend
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" validate:"required,oneof=memory sqlite mysql"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// IMAPConfig holds mailbox connection settings
type IMAPConfig struct {
	Host     string        `mapstructure:"host" validate:"required"`
	Port     int           `mapstructure:"port" validate:"required,gt=0"`
	User     string        `mapstructure:"user" validate:"required"`
	Password string        `mapstructure:"password" validate:"required"`
	TLS      bool          `mapstructure:"tls"`
	Mailbox  string        `mapstructure:"mailbox" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MailConfig holds outbound mail transport settings
type MailConfig struct {
	Transport string      `mapstructure:"transport" validate:"required,oneof=smtp gmail"`
	From      string      `mapstructure:"from"`
	SMTP      SMTPConfig  `mapstructure:"smtp"`
	Gmail     GmailConfig `mapstructure:"gmail"`
}

// SMTPConfig holds SMTP submission settings
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	Secure   bool          `mapstructure:"secure"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// GmailConfig holds Gmail API OAuth2 credentials
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// JiraConfig holds issue tracker settings
type JiraConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"required,url"`
	Email      string        `mapstructure:"email" validate:"required"`
	APIToken   string        `mapstructure:"api_token" validate:"required"`
	ProjectKey string        `mapstructure:"project_key" validate:"required"`
	IssueType  string        `mapstructure:"issue_type" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// NotificationConfig lists the fixed notification recipients
type NotificationConfig struct {
	Addresses []string `mapstructure:"addresses" validate:"required,min=1,dive,email"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int    `mapstructure:"interval_minutes" validate:"min=1,max=60"`
	Mode            string `mapstructure:"mode" validate:"required,oneof=scheduled once"`
	AutoStart       bool   `mapstructure:"auto_start"`
}

// PipelineConfig bounds per-message work
type PipelineConfig struct {
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
}

// ValidationError lists every configuration problem found at startup
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err (or any error in its chain) is a ValidationError
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// env vars arrive as a single comma separated string
	cfg.Notification.Addresses = splitAddresses(cfg.Notification.Addresses)

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "2m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.path", "inbox-ticket-relay.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.tls", true)
	v.SetDefault("imap.mailbox", "INBOX")
	v.SetDefault("imap.timeout", "30s")

	v.SetDefault("mail.transport", TransportSMTP)
	v.SetDefault("mail.smtp.host", "smtp.gmail.com")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.smtp.secure", false)
	v.SetDefault("mail.smtp.timeout", "30s")

	v.SetDefault("jira.issue_type", "Task")
	v.SetDefault("jira.timeout", "30s")

	v.SetDefault("scheduler.interval_minutes", 10)
	v.SetDefault("scheduler.mode", ModeScheduled)
	v.SetDefault("scheduler.auto_start", true)

	v.SetDefault("pipeline.message_timeout", "2m")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	bindings := map[string]string{
		// Server
		"server.port":          "SERVER_PORT",
		"server.read_timeout":  "SERVER_READ_TIMEOUT",
		"server.write_timeout": "SERVER_WRITE_TIMEOUT",

		"log.level":  "LOG_LEVEL",
		"log.format": "LOG_FORMAT",

		// Database
		"database.driver":   "DB_DRIVER",
		"database.path":     "DB_PATH",
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.dbname":   "DB_NAME",

		// Mailbox
		"imap.host":     "IMAP_HOST",
		"imap.port":     "IMAP_PORT",
		"imap.user":     "IMAP_USER",
		"imap.password": "IMAP_PASSWORD",
		"imap.tls":      "IMAP_TLS",
		"imap.mailbox":  "IMAP_MAILBOX",
		"imap.timeout":  "IMAP_TIMEOUT",

		// Outbound mail
		"mail.transport":           "MAIL_TRANSPORT",
		"mail.from":                "MAIL_FROM",
		"mail.smtp.host":           "SMTP_HOST",
		"mail.smtp.port":           "SMTP_PORT",
		"mail.smtp.user":           "SMTP_USER",
		"mail.smtp.password":       "SMTP_PASSWORD",
		"mail.smtp.secure":         "SMTP_SECURE",
		"mail.smtp.timeout":        "SMTP_TIMEOUT",
		"mail.gmail.client_id":     "GMAIL_CLIENT_ID",
		"mail.gmail.client_secret": "GMAIL_CLIENT_SECRET",
		"mail.gmail.refresh_token": "GMAIL_REFRESH_TOKEN",
		"mail.gmail.user_email":    "GMAIL_USER_EMAIL",

		// Jira
		"jira.base_url":    "JIRA_URL",
		"jira.email":       "JIRA_EMAIL",
		"jira.api_token":   "JIRA_API_TOKEN",
		"jira.project_key": "JIRA_PROJECT_KEY",
		"jira.issue_type":  "JIRA_ISSUE_TYPE",
		"jira.timeout":     "JIRA_TIMEOUT",

		"notification.addresses": "NOTIFICATION_EMAILS",

		// Scheduler
		"scheduler.interval_minutes": "SCHEDULER_INTERVAL_MINUTES",
		"scheduler.mode":             "SCHEDULER_MODE",
		"scheduler.auto_start":       "SCHEDULER_AUTO_START",

		"pipeline.message_timeout": "PIPELINE_MESSAGE_TIMEOUT",
	}
	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}

func splitAddresses(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, addr := range strings.Split(entry, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// GetDSN returns the MySQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate checks required settings and credentials. Every problem is
// reported in a single *ValidationError.
func (c *Config) Validate() error {
	var problems []string

	if err := validator.New().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			problems = append(problems, "database.path is required for the sqlite driver")
		}
	case DriverMySQL:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			problems = append(problems, "database host, user, and dbname are required for the mysql driver")
		}
	}

	switch c.Mail.Transport {
	case TransportSMTP:
		if c.Mail.SMTP.Host == "" || c.Mail.SMTP.Port <= 0 {
			problems = append(problems, "mail.smtp host and port are required when using SMTP")
		}
		if c.Mail.SMTP.User == "" || c.Mail.SMTP.Password == "" {
			problems = append(problems, "SMTP credentials are required when using SMTP")
		}
	case TransportGmail:
		if c.Mail.Gmail.ClientID == "" || c.Mail.Gmail.ClientSecret == "" || c.Mail.Gmail.RefreshToken == "" {
			problems = append(problems, "Gmail OAuth2 credentials are required when using the Gmail transport")
		}
		if !strings.Contains(c.Mail.SenderAddress(), "@") {
			problems = append(problems, "mail.from or mail.gmail.user_email must be a sender address when using the Gmail transport")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "min", "max", "gt":
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// SenderAddress returns the From address for outbound mail
func (m *MailConfig) SenderAddress() string {
	if m.From != "" {
		return m.From
	}
	if m.Transport == TransportGmail {
		return m.Gmail.UserEmail
	}
	return m.SMTP.User
}
