package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quorum/internal/quality"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "QUORUM"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabaseDSN        = "quorum.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "quorum-auth"
	defaultCacheTTLSeconds    = 60
	defaultRecomputeTimeoutMS = 2000
	defaultMaxAttempts        = 3
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabaseDSN          string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	RedisURL             string
	CacheTTL             time.Duration
	RecomputeTimeout     time.Duration
	MaxAttempts          int
	Weights              quality.Weights
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("recompute.timeout_ms", defaultRecomputeTimeoutMS)
	configViper.SetDefault("concurrency.max_attempts", defaultMaxAttempts)

	weights := quality.DefaultWeights()
	for key, value := range weightKeys(&weights) {
		configViper.SetDefault(key, *value)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	weights := quality.DefaultWeights()
	for key, value := range weightKeys(&weights) {
		*value = configViper.GetInt(key)
	}

	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		RedisURL:             strings.TrimSpace(configViper.GetString("redis.url")),
		CacheTTL:             time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		RecomputeTimeout:     time.Duration(configViper.GetInt("recompute.timeout_ms")) * time.Millisecond,
		MaxAttempts:          configViper.GetInt("concurrency.max_attempts"),
		Weights:              weights,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.DatabaseDriver != DriverSQLite && c.DatabaseDriver != DriverPostgres {
		return fmt.Errorf("database.driver must be %q or %q", DriverSQLite, DriverPostgres)
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be positive")
	}
	if c.RecomputeTimeout <= 0 {
		return fmt.Errorf("recompute.timeout_ms must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("concurrency.max_attempts must be positive")
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("scoring weights: %w", err)
	}
	return nil
}

func weightKeys(weights *quality.Weights) map[string]*int {
	return map[string]*int{
		"scoring.baseline":               &weights.Baseline,
		"scoring.substantive_body_bonus": &weights.SubstantiveBodyBonus,
		"scoring.substantive_body_chars": &weights.SubstantiveBodyChars,
		"scoring.short_body_length":      &weights.ShortBodyChars,
		"scoring.asker_helpful":          &weights.AskerHelpful,
		"scoring.asker_expert":           &weights.AskerExpert,
		"scoring.asker_not_helpful":      &weights.AskerNotHelpful,
		"scoring.expert_reaction":        &weights.ExpertReaction,
		"scoring.expert_reaction_cap":    &weights.ExpertReactionCap,
		"scoring.accepted":               &weights.Accepted,
		"scoring.edit_bonus":             &weights.EditBonus,
		"scoring.edit_bonus_cap":         &weights.EditBonusCap,
		"scoring.severe_flag":            &weights.SevereFlag,
		"scoring.minor_flag":             &weights.MinorFlag,
	}
}
