package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort        string   `envconfig:"API_PORT" default:"8080" yaml:"api_port"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*" yaml:"cors_allowed_origins"`
	MaxUploadBytes int64    `envconfig:"MAX_UPLOAD_BYTES" default:"10485760" yaml:"max_upload_bytes"`
	UploadDir      string   `envconfig:"UPLOAD_DIR" default:"uploads" yaml:"upload_dir"`
	CSVMaxRows     int      `envconfig:"CSV_MAX_ROWS" default:"10000" yaml:"csv_max_rows"`

	// Synchronous sends (quick-send, test email)
	SendRatePerMinute int `envconfig:"SEND_RATE_PER_MINUTE" default:"6" yaml:"send_rate_per_minute"`
	SendRateBurst     int `envconfig:"SEND_RATE_BURST" default:"3" yaml:"send_rate_burst"`

	// ----------------------------
	// Auth
	// ----------------------------
	JWTSecret         string        `envconfig:"JWT_SECRET" yaml:"jwt_secret"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH" yaml:"admin_password_hash"`
	TokenDuration     time.Duration `envconfig:"TOKEN_DURATION" default:"24h" yaml:"token_duration"`
	AuthDisabled      bool          `envconfig:"AUTH_DISABLED" default:"false" yaml:"auth_disabled"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090" yaml:"metrics_port"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseDriver          string `envconfig:"DATABASE_DRIVER" default:"postgres" yaml:"database_driver"`
	DatabaseURL             string `envconfig:"DATABASE_URL" yaml:"database_url"`
	DatabaseConnectAttempts int    `envconfig:"DATABASE_CONNECT_ATTEMPTS" default:"5" yaml:"database_connect_attempts"`

	// ----------------------------
	// Engine
	// ----------------------------
	TickInterval   time.Duration `envconfig:"ENGINE_TICK_INTERVAL" default:"10s" yaml:"engine_tick_interval"`
	WorkHoursStart int           `envconfig:"WORK_HOURS_START" default:"9" yaml:"work_hours_start"`
	WorkHoursEnd   int           `envconfig:"WORK_HOURS_END" default:"21" yaml:"work_hours_end"`
	UTCOffset      time.Duration `envconfig:"ENGINE_UTC_OFFSET" default:"5h30m" yaml:"engine_utc_offset"`
	SMTPTimeout    time.Duration `envconfig:"SMTP_TIMEOUT" default:"10s" yaml:"smtp_timeout"`
}

// Load reads the environment, then overlays the YAML file named by
// CONFIG_FILE when set. File values win.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) overlay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.WorkHoursStart < 0 || c.WorkHoursStart > 23 {
		errs = append(errs, fmt.Errorf("WORK_HOURS_START must be 0..23, got %d", c.WorkHoursStart))
	}
	if c.WorkHoursEnd < 0 || c.WorkHoursEnd > 23 {
		errs = append(errs, fmt.Errorf("WORK_HOURS_END must be 0..23, got %d", c.WorkHoursEnd))
	}
	if c.TickInterval < time.Second {
		errs = append(errs, fmt.Errorf("ENGINE_TICK_INTERVAL must be at least 1s, got %s", c.TickInterval))
	}
	if !c.AuthDisabled {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required unless AUTH_DISABLED is set"))
		}
		if c.AdminPasswordHash == "" {
			errs = append(errs, errors.New("ADMIN_PASSWORD_HASH is required unless AUTH_DISABLED is set"))
		}
	}

	return errors.Join(errs...)
}

// Location is the fixed zone the working-hours window is evaluated in.
func (c *Config) Location() *time.Location {
	return time.FixedZone(formatOffset(c.UTCOffset), int(c.UTCOffset/time.Second))
}

func formatOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign, d = "-", -d
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, int(d.Hours()), int(d.Minutes())%60)
}
