package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Agent AgentConfig
	PBX   PBXConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

// AgentConfig secures the event-relay agent boundary.
// The agent signs a short-lived JWT with the shared secret on every request.
type AgentConfig struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// PBXConfig carries the knobs of the correlation engine.
type PBXConfig struct {
	// DefaultCountry is an ISO2 code used as the number-parsing hint when
	// the channel owner has no country configured.
	DefaultCountry string

	// TraceAMI enables raw event history records.
	TraceAMI bool

	// AutoCreateContacts creates a contact from the caller ID number when
	// an inbound call matches nobody.
	AutoCreateContacts bool

	// RecordCalls enables recording archival on hangup.
	RecordCalls bool

	// AutoReloadCalls / AutoReloadChannels gate the UI reload broadcasts.
	AutoReloadCalls    bool
	AutoReloadChannels bool

	// CallsKeepDays is the retention window for ended calls.
	CallsKeepDays int
	// ChannelsKeepHours is the retention window for channel records.
	ChannelsKeepHours int
	// TraceKeepDays is the retention window for raw event traces.
	TraceKeepDays int

	// RecordingDir is where archived call recordings land.
	RecordingDir string

	// MaxInflightPerSystem bounds concurrent event processing per
	// originating telephony system. 0 disables the cap.
	MaxInflightPerSystem int
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Agent.Secret = os.Getenv("AGENT_SECRET")
	c.Agent.Issuer = strings.TrimSpace(os.Getenv("AGENT_ISSUER"))
	c.Agent.TokenTTL = optDuration("AGENT_TOKEN_TTL")

	c.PBX.DefaultCountry = strings.ToUpper(strings.TrimSpace(os.Getenv("PBX_DEFAULT_COUNTRY")))
	c.PBX.TraceAMI = boolEnv("PBX_TRACE_AMI")
	c.PBX.AutoCreateContacts = boolEnv("PBX_AUTO_CREATE_CONTACTS")
	c.PBX.RecordCalls = boolEnv("PBX_RECORD_CALLS")
	c.PBX.AutoReloadCalls = boolEnv("PBX_AUTO_RELOAD_CALLS")
	c.PBX.AutoReloadChannels = boolEnv("PBX_AUTO_RELOAD_CHANNELS")
	c.PBX.CallsKeepDays = optInt("PBX_CALLS_KEEP_DAYS")
	c.PBX.ChannelsKeepHours = optInt("PBX_CHANNELS_KEEP_HOURS")
	c.PBX.TraceKeepDays = optInt("PBX_TRACE_KEEP_DAYS")
	c.PBX.RecordingDir = strings.TrimSpace(os.Getenv("PBX_RECORDING_DIR"))
	c.PBX.MaxInflightPerSystem = optInt("PBX_MAX_INFLIGHT_PER_SYSTEM")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Agent.Secret == "" {
		errs = append(errs, errors.New("AGENT_SECRET is required"))
	}
	if c.Agent.TokenTTL <= 0 {
		// Agent tokens are per-request; keep them short.
		c.Agent.TokenTTL = 5 * time.Minute
	}

	if c.PBX.DefaultCountry != "" && len(c.PBX.DefaultCountry) != 2 {
		errs = append(errs, fmt.Errorf("PBX_DEFAULT_COUNTRY must be an ISO2 code, got %q", c.PBX.DefaultCountry))
	}
	if c.PBX.CallsKeepDays <= 0 {
		c.PBX.CallsKeepDays = 90
	}
	if c.PBX.ChannelsKeepHours <= 0 {
		c.PBX.ChannelsKeepHours = 24
	}
	if c.PBX.TraceKeepDays <= 0 {
		c.PBX.TraceKeepDays = 7
	}
	if c.PBX.RecordCalls && c.PBX.RecordingDir == "" {
		errs = append(errs, errors.New("PBX_RECORDING_DIR is required when PBX_RECORD_CALLS is on"))
	}
	if c.PBX.MaxInflightPerSystem < 0 {
		errs = append(errs, fmt.Errorf("PBX_MAX_INFLIGHT_PER_SYSTEM must be >= 0, got %d", c.PBX.MaxInflightPerSystem))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func optDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func boolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
