// Package config loads the orchestrator's static configuration: the app
// config file, the environment registry, and the user access list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig mirrors app.config.json.
type AppConfig struct {
	Port               int      `json:"port"`
	TestRoot           string   `json:"testRoot"`
	ArtifactRoot       string   `json:"artifactRoot"`
	DatabasePath       string   `json:"databasePath"`
	MaxConcurrentRuns  int      `json:"maxConcurrentRuns"`
	RetentionDays      int      `json:"retentionDays"`
	DeployRoot         string   `json:"deployRoot"`
	DriverCommand      []string `json:"driverCommand"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
	RedisURL           string   `json:"-"`
}

// Environment is one known target environment code.
type Environment struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	IsProd bool   `json:"isProd"`
}

// EnvironmentRegistry mirrors environments.json.
type EnvironmentRegistry struct {
	Environments []Environment `json:"environments"`
}

// Known reports whether code is a registered environment.
func (r EnvironmentRegistry) Known(code string) bool {
	for _, e := range r.Environments {
		if e.Code == code {
			return true
		}
	}
	return false
}

// User mirrors one entry of users.json.
type User struct {
	Email        string   `json:"email"`
	Environments []string `json:"environments"`
}

// UserRegistry mirrors users.json.
type UserRegistry struct {
	Users []User `json:"users"`
}

// CanAccess reports whether email is a registered user granted access to
// environment. Lookups are case-insensitive on email.
func (r UserRegistry) CanAccess(email, environment string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range r.Users {
		if u.Email != email {
			continue
		}
		for _, env := range u.Environments {
			if env == environment {
				return true
			}
		}
		return false
	}
	return false
}

// Config bundles the three static configuration sources loaded at startup.
// Once loaded it is process-wide read-only state; hot-reload is out of scope.
type Config struct {
	App          AppConfig
	Environments EnvironmentRegistry
	Users        UserRegistry
}

const (
	defaultPort               = 3000
	defaultMaxConcurrentRuns  = 10
	defaultRetentionDays      = 30
	defaultDatabaseFile       = "orchestrator.db"
	defaultArtifactDir        = "artifacts"
	defaultConfigDir          = "config"
	defaultRateLimitPerMinute = 60
)

// Load reads app.config.json, environments.json and users.json from
// configDir (default "config", overridable by $CONFIG_PATH), then applies
// PORT/TEST_ROOT/ARTIFACT_ROOT/DATABASE_PATH environment variable overrides.
func Load(configDir string) (*Config, error) {
	_ = godotenv.Load()

	if trimmed := strings.TrimSpace(os.Getenv("CONFIG_PATH")); trimmed != "" {
		configDir = trimmed
	}
	if strings.TrimSpace(configDir) == "" {
		configDir = defaultConfigDir
	}

	cfg := &Config{
		App: AppConfig{
			Port:               defaultPort,
			MaxConcurrentRuns:  defaultMaxConcurrentRuns,
			RetentionDays:      defaultRetentionDays,
			DatabasePath:       defaultDatabaseFile,
			ArtifactRoot:       defaultArtifactDir,
			RateLimitPerMinute: defaultRateLimitPerMinute,
		},
	}

	if err := loadJSONFile(filepath.Join(configDir, "app.config.json"), &cfg.App); err != nil {
		return nil, fmt.Errorf("load app.config.json: %w", err)
	}
	if err := loadJSONFile(filepath.Join(configDir, "environments.json"), &cfg.Environments); err != nil {
		return nil, fmt.Errorf("load environments.json: %w", err)
	}
	if err := loadJSONFile(filepath.Join(configDir, "users.json"), &cfg.Users); err != nil {
		return nil, fmt.Errorf("load users.json: %w", err)
	}

	applyEnvOverrides(&cfg.App)
	normalizeUsers(&cfg.Users)

	return cfg, nil
}

// loadJSONFile decodes path into dst. A missing file is not an error: the
// caller's zero value (or defaults already set on dst) stands.
func loadJSONFile(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, dst)
}

func applyEnvOverrides(app *AppConfig) {
	if v := getEnv("PORT", ""); v != "" {
		if n := getIntEnv("PORT", app.Port); n != app.Port {
			app.Port = n
		}
	}
	if v := getEnv("TEST_ROOT", ""); v != "" {
		app.TestRoot = v
	}
	if v := getEnv("ARTIFACT_ROOT", ""); v != "" {
		app.ArtifactRoot = v
	}
	if v := getEnv("DATABASE_PATH", ""); v != "" {
		app.DatabasePath = v
	}
	if v := getEnv("DEPLOY_ROOT", ""); v != "" {
		app.DeployRoot = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		if n := getIntEnv("RATE_LIMIT_PER_MINUTE", app.RateLimitPerMinute); n != app.RateLimitPerMinute {
			app.RateLimitPerMinute = n
		}
	}
	app.RedisURL = os.Getenv("REDIS_URL")
}

// normalizeUsers lower-cases every registered email so lookups are
// case-insensitive per spec.
func normalizeUsers(reg *UserRegistry) {
	for i := range reg.Users {
		reg.Users[i].Email = strings.ToLower(strings.TrimSpace(reg.Users[i].Email))
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
