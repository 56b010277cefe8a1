package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the application configuration
type AppConfig struct {
	Env         string `yaml:"env"`
	DBURL       string `yaml:"db_url"`
	BearerToken string `yaml:"bearer_token"`

	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Reminder ReminderConfig `yaml:"reminder"`
	Workers  WorkerConfig   `yaml:"workers"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
}

type HTTPConfig struct {
	Port           string   `yaml:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// ReminderConfig carries the system defaults applied when a patient has no
// preference row, plus the engine's timing policy.
type ReminderConfig struct {
	DefaultChannel       string `yaml:"default_channel"`
	DefaultContactStart  string `yaml:"default_contact_start"`
	DefaultContactEnd    string `yaml:"default_contact_end"`
	DefaultTimezone      string `yaml:"default_timezone"`
	DefaultMaxPerDay     int    `yaml:"default_max_per_day"`
	SameDayBypassMinutes int    `yaml:"same_day_bypass_minutes"`

	SendTimeout            time.Duration `yaml:"send_timeout"`
	PatientLockTTL         time.Duration `yaml:"patient_lock_ttl"`
	SendClaimTTL           time.Duration `yaml:"send_claim_ttl"`
	ReplyCorrelationWindow time.Duration `yaml:"reply_correlation_window"`
	DefaultResponseWindow  time.Duration `yaml:"default_response_window"`
	EngagementWindow       time.Duration `yaml:"engagement_window"`

	RiskResponseWeight float64 `yaml:"risk_response_weight"`
	RiskNoShowWeight   float64 `yaml:"risk_no_show_weight"`
}

type WorkerConfig struct {
	DispatchInterval    time.Duration `yaml:"dispatch_interval"`
	EscalationInterval  time.Duration `yaml:"escalation_interval"`
	EngagementInterval  time.Duration `yaml:"engagement_interval"`
	DispatchBatchSize   int           `yaml:"dispatch_batch_size"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency"`
	RunTimeout          time.Duration `yaml:"run_timeout"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	PerChannelRPS float64       `yaml:"per_channel_rps"`
}

// GetBearerToken returns the BearerToken from the config
func (c *AppConfig) GetBearerToken() string {
	return c.BearerToken
}

// Default returns the built-in configuration.
func Default() *AppConfig {
	return &AppConfig{
		Env: "production",
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "roy-remind",
		},
		HTTP: HTTPConfig{
			Port:           "8930",
			RateLimitRPS:   15,
			RateLimitBurst: 30,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  30 * time.Second,
			MinIdleConns: 5,
			ReadTimeout:  10 * time.Second,
			MaxRetries:   3,
		},
		Reminder: ReminderConfig{
			DefaultChannel:         "sms",
			DefaultContactStart:    "09:00",
			DefaultContactEnd:      "18:00",
			DefaultTimezone:        "America/New_York",
			DefaultMaxPerDay:       3,
			SameDayBypassMinutes:   0,
			SendTimeout:            10 * time.Second,
			PatientLockTTL:         30 * time.Second,
			SendClaimTTL:           24 * time.Hour,
			ReplyCorrelationWindow: 72 * time.Hour,
			DefaultResponseWindow:  24 * time.Hour,
			EngagementWindow:       90 * 24 * time.Hour,
			RiskResponseWeight:     0.6,
			RiskNoShowWeight:       0.4,
		},
		Workers: WorkerConfig{
			DispatchInterval:    time.Minute,
			EscalationInterval:  time.Minute,
			EngagementInterval:  time.Hour,
			DispatchBatchSize:   200,
			DispatchConcurrency: 8,
			RunTimeout:          10 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Gateway: GatewayConfig{
			Timeout:       10 * time.Second,
			PerChannelRPS: 20,
		},
	}
}

// Load builds the configuration from the built-in defaults, then the YAML file named by
// REMINDER_CONFIG_FILE (if set), then environment variables.
func Load() (*AppConfig, error) {
	cfg := Default()

	if path := os.Getenv("REMINDER_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	c.Env = getEnv("ENV", c.Env)
	c.DBURL = getEnv("DB_URL", c.DBURL)
	c.BearerToken = getEnv("BEARER_TOKEN", c.BearerToken)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.ServiceName = getEnv("SERVICE_NAME", c.Log.ServiceName)

	c.HTTP.Port = getEnv("PORT", c.HTTP.Port)
	c.HTTP.RateLimitRPS = getEnvAsFloat("RATE_LIMIT_RPS", c.HTTP.RateLimitRPS)
	c.HTTP.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", c.HTTP.RateLimitBurst)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.HTTP.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.PoolSize = getEnvAsInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.DialTimeout = getEnvAsDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.MinIdleConns = getEnvAsInt("REDIS_MIN_IDLE_CONNS", c.Redis.MinIdleConns)
	c.Redis.ReadTimeout = getEnvAsDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.MaxRetries = getEnvAsInt("REDIS_MAX_RETRIES", c.Redis.MaxRetries)

	r := &c.Reminder
	r.DefaultChannel = getEnv("REMINDER_DEFAULT_CHANNEL", r.DefaultChannel)
	r.DefaultContactStart = getEnv("REMINDER_DEFAULT_CONTACT_START", r.DefaultContactStart)
	r.DefaultContactEnd = getEnv("REMINDER_DEFAULT_CONTACT_END", r.DefaultContactEnd)
	r.DefaultTimezone = getEnv("REMINDER_DEFAULT_TIMEZONE", r.DefaultTimezone)
	r.DefaultMaxPerDay = getEnvAsInt("REMINDER_DEFAULT_MAX_PER_DAY", r.DefaultMaxPerDay)
	r.SameDayBypassMinutes = getEnvAsInt("REMINDER_SAME_DAY_BYPASS_MINUTES", r.SameDayBypassMinutes)
	r.SendTimeout = getEnvAsDuration("REMINDER_SEND_TIMEOUT", r.SendTimeout)
	r.PatientLockTTL = getEnvAsDuration("REMINDER_PATIENT_LOCK_TTL", r.PatientLockTTL)
	r.SendClaimTTL = getEnvAsDuration("REMINDER_SEND_CLAIM_TTL", r.SendClaimTTL)
	r.ReplyCorrelationWindow = getEnvAsDuration("REMINDER_REPLY_CORRELATION_WINDOW", r.ReplyCorrelationWindow)
	r.DefaultResponseWindow = getEnvAsDuration("REMINDER_DEFAULT_RESPONSE_WINDOW", r.DefaultResponseWindow)
	r.EngagementWindow = getEnvAsDuration("REMINDER_ENGAGEMENT_WINDOW", r.EngagementWindow)
	r.RiskResponseWeight = getEnvAsFloat("REMINDER_RISK_RESPONSE_WEIGHT", r.RiskResponseWeight)
	r.RiskNoShowWeight = getEnvAsFloat("REMINDER_RISK_NO_SHOW_WEIGHT", r.RiskNoShowWeight)

	w := &c.Workers
	w.DispatchInterval = getEnvAsDuration("DISPATCH_INTERVAL", w.DispatchInterval)
	w.EscalationInterval = getEnvAsDuration("ESCALATION_INTERVAL", w.EscalationInterval)
	w.EngagementInterval = getEnvAsDuration("ENGAGEMENT_INTERVAL", w.EngagementInterval)
	w.DispatchBatchSize = getEnvAsInt("DISPATCH_BATCH_SIZE", w.DispatchBatchSize)
	w.DispatchConcurrency = getEnvAsInt("DISPATCH_CONCURRENCY", w.DispatchConcurrency)
	w.RunTimeout = getEnvAsDuration("WORKER_RUN_TIMEOUT", w.RunTimeout)

	c.SMTP.Host = getEnv("SMTP_HOST", c.SMTP.Host)
	c.SMTP.Port = getEnvAsInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.User = getEnv("SMTP_USER", c.SMTP.User)
	c.SMTP.Password = getEnv("SMTP_PASS", c.SMTP.Password)
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)

	c.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", c.Gateway.BaseURL)
	c.Gateway.APIKey = getEnv("GATEWAY_API_KEY", c.Gateway.APIKey)
	c.Gateway.Timeout = getEnvAsDuration("GATEWAY_TIMEOUT", c.Gateway.Timeout)
	c.Gateway.PerChannelRPS = getEnvAsFloat("GATEWAY_PER_CHANNEL_RPS", c.Gateway.PerChannelRPS)
}

// Validate reports missing required settings and nonsensical values.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.DBURL == "" {
		missing = append(missing, "DB_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.BearerToken == "" {
		missing = append(missing, "BEARER_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s environment variable", strings.Join(missing, ", "))
	}
	if c.Reminder.DefaultMaxPerDay < 0 {
		return errors.New("default max reminders per day must not be negative")
	}
	if c.Workers.DispatchConcurrency < 1 {
		return errors.New("dispatch concurrency must be at least 1")
	}
	if c.Reminder.SendTimeout <= 0 {
		return errors.New("send timeout must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if value, exists := os.LookupEnv(name); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(name string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(name); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(name); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
