package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Port         int
	MasterSecret string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration
	LogLevel     string

	StoreDriver string
	DatabaseDSN string
	StateFile   string

	PresenceWindow time.Duration
	FaceThreshold  float64

	SMTP      SMTPConfig
	S3        S3Config
	Bootstrap BootstrapConfig
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

type BootstrapConfig struct {
	AdminEmail    string `yaml:"adminEmail"`
	AdminPassword string `yaml:"adminPassword"`
}

// fileConfig is the YAML overlay named by CONFIG_FILE. Zero values leave the
// default in place.
type fileConfig struct {
	Port                  int             `yaml:"port"`
	MasterSecret          string          `yaml:"masterSecret"`
	GinMode               string          `yaml:"ginMode"`
	TLSCertFile           string          `yaml:"tlsCertFile"`
	TLSKeyFile            string          `yaml:"tlsKeyFile"`
	TokenExpirySeconds    int             `yaml:"tokenExpirySeconds"`
	LogLevel              string          `yaml:"logLevel"`
	StoreDriver           string          `yaml:"storeDriver"`
	DatabaseDSN           string          `yaml:"databaseDsn"`
	StateFile             string          `yaml:"stateFile"`
	PresenceWindowSeconds int             `yaml:"presenceWindowSeconds"`
	FaceThreshold         float64         `yaml:"faceThreshold"`
	SMTP                  SMTPConfig      `yaml:"smtp"`
	S3                    S3Config        `yaml:"s3"`
	Bootstrap             BootstrapConfig `yaml:"bootstrap"`
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:           3000,
		GinMode:        "release",
		TokenExpiry:    7 * 24 * time.Hour,
		LogLevel:       "info",
		StoreDriver:    DriverMemory,
		PresenceWindow: 120 * time.Second,
		FaceThreshold:  0.5,
		SMTP:           SMTPConfig{Port: 587},
	}

	if path := env.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, env); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse CONFIG_FILE: %w", err)
	}

	setInt(&cfg.Port, fc.Port)
	setString(&cfg.MasterSecret, fc.MasterSecret)
	setString(&cfg.GinMode, fc.GinMode)
	setString(&cfg.TLSCertFile, fc.TLSCertFile)
	setString(&cfg.TLSKeyFile, fc.TLSKeyFile)
	if fc.TokenExpirySeconds > 0 {
		cfg.TokenExpiry = time.Duration(fc.TokenExpirySeconds) * time.Second
	}
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.StoreDriver, fc.StoreDriver)
	setString(&cfg.DatabaseDSN, fc.DatabaseDSN)
	setString(&cfg.StateFile, fc.StateFile)
	if fc.PresenceWindowSeconds > 0 {
		cfg.PresenceWindow = time.Duration(fc.PresenceWindowSeconds) * time.Second
	}
	if fc.FaceThreshold > 0 {
		cfg.FaceThreshold = fc.FaceThreshold
	}

	setString(&cfg.SMTP.Host, fc.SMTP.Host)
	setInt(&cfg.SMTP.Port, fc.SMTP.Port)
	setString(&cfg.SMTP.Username, fc.SMTP.Username)
	setString(&cfg.SMTP.Password, fc.SMTP.Password)
	setString(&cfg.SMTP.From, fc.SMTP.From)

	setString(&cfg.S3.Bucket, fc.S3.Bucket)
	setString(&cfg.S3.Region, fc.S3.Region)
	setString(&cfg.S3.Endpoint, fc.S3.Endpoint)
	setString(&cfg.S3.AccessKey, fc.S3.AccessKey)
	setString(&cfg.S3.SecretKey, fc.S3.SecretKey)

	setString(&cfg.Bootstrap.AdminEmail, fc.Bootstrap.AdminEmail)
	setString(&cfg.Bootstrap.AdminPassword, fc.Bootstrap.AdminPassword)
	return nil
}

func applyEnv(cfg *Config, env Env) error {
	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	setString(&cfg.MasterSecret, env.Getenv("MASTER_SECRET"))
	setString(&cfg.GinMode, env.Getenv("GIN_MODE"))
	setString(&cfg.TLSCertFile, env.Getenv("TLS_CERT_FILE"))
	setString(&cfg.TLSKeyFile, env.Getenv("TLS_KEY_FILE"))

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	setString(&cfg.LogLevel, env.Getenv("LOG_LEVEL"))
	setString(&cfg.StoreDriver, strings.ToLower(env.Getenv("STORE_DRIVER")))
	setString(&cfg.DatabaseDSN, env.Getenv("DATABASE_DSN"))
	setString(&cfg.StateFile, env.Getenv("STATE_FILE"))

	if raw := env.Getenv("PRESENCE_WINDOW_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid PRESENCE_WINDOW_SECONDS")
		}
		cfg.PresenceWindow = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("FACE_THRESHOLD"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 {
			return fmt.Errorf("invalid FACE_THRESHOLD")
		}
		cfg.FaceThreshold = threshold
	}

	setString(&cfg.SMTP.Host, env.Getenv("SMTP_HOST"))
	if raw := env.Getenv("SMTP_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid SMTP_PORT")
		}
		cfg.SMTP.Port = port
	}
	setString(&cfg.SMTP.Username, env.Getenv("SMTP_USERNAME"))
	setString(&cfg.SMTP.Password, env.Getenv("SMTP_PASSWORD"))
	setString(&cfg.SMTP.From, env.Getenv("SMTP_FROM"))

	setString(&cfg.S3.Bucket, env.Getenv("S3_BUCKET"))
	setString(&cfg.S3.Region, env.Getenv("S3_REGION"))
	setString(&cfg.S3.Endpoint, env.Getenv("S3_ENDPOINT"))
	setString(&cfg.S3.AccessKey, env.Getenv("S3_ACCESS_KEY"))
	setString(&cfg.S3.SecretKey, env.Getenv("S3_SECRET_KEY"))

	setString(&cfg.Bootstrap.AdminEmail, env.Getenv("BOOTSTRAP_ADMIN_EMAIL"))
	setString(&cfg.Bootstrap.AdminPassword, env.Getenv("BOOTSTRAP_ADMIN_PASSWORD"))
	return nil
}

func (c Config) validate() error {
	if c.MasterSecret == "" {
		return fmt.Errorf("MASTER_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT")
	}
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q", c.StoreDriver)
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
