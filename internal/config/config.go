// Package config handles application configuration
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Environment (development, production)
	Environment string

	// HTTP server address
	HTTPAddr string

	// Log level (debug, info, warn, error)
	LogLevel string

	// Route roots
	TestsRoot   string
	SensorsRoot string

	// Match test names ignoring case
	TestNameCaseInsensitive bool

	// Upper bound of a single test run, zero for none
	TestTimeout time.Duration

	// YAML file listing the targets
	TargetsFile string

	// HTTP client used against targets
	TargetHTTPTimeout time.Duration
	TargetHTTPRetries int

	// Kubernetes service discovery
	Kube KubeConfig
}

// KubeConfig holds Kubernetes target discovery configuration
type KubeConfig struct {
	Enabled bool
	// Namespace to list services in, empty for all namespaces
	Namespace string
	// Path to a kubeconfig, empty for in-cluster configuration
	Kubeconfig string
}

// Load reads configuration from environment variables. Variables set in
// envFiles (default .env) are loaded first without overriding the process
// environment; missing files are ignored.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := &Config{
		Environment:             getEnv("ENVIRONMENT", "development"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		TestsRoot:               getEnv("TESTS_ROOT", "/tests"),
		SensorsRoot:             getEnv("SENSORS_ROOT", "/sensors"),
		TestNameCaseInsensitive: getEnvBool("TEST_NAME_CASE_INSENSITIVE", false),
		TestTimeout:             getEnvDuration("TEST_TIMEOUT", 30*time.Second),
		TargetsFile:             getEnv("TARGETS_FILE", ""),
		TargetHTTPTimeout:       getEnvDuration("TARGET_HTTP_TIMEOUT", 10*time.Second),
		TargetHTTPRetries:       getEnvInt("TARGET_HTTP_RETRIES", 2),
		Kube: KubeConfig{
			Enabled:    getEnvBool("KUBE_DISCOVERY_ENABLED", false),
			Namespace:  getEnv("KUBE_DISCOVERY_NAMESPACE", ""),
			Kubeconfig: getEnv("KUBECONFIG", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if strings.Trim(c.TestsRoot, "/") == "" {
		errs = append(errs, fmt.Errorf("TESTS_ROOT must not be empty or /"))
	}
	if strings.Trim(c.SensorsRoot, "/") == "" {
		errs = append(errs, fmt.Errorf("SENSORS_ROOT must not be empty or /"))
	}
	if strings.Trim(c.TestsRoot, "/") == strings.Trim(c.SensorsRoot, "/") {
		errs = append(errs, fmt.Errorf("TESTS_ROOT and SENSORS_ROOT must differ"))
	}
	if c.TestTimeout < 0 || c.TargetHTTPTimeout < 0 {
		errs = append(errs, fmt.Errorf("timeouts must not be negative"))
	}
	if c.TargetHTTPRetries < 0 {
		errs = append(errs, fmt.Errorf("TARGET_HTTP_RETRIES must not be negative"))
	}
	return errors.Join(errs...)
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// TargetSpec is one entry of the targets file
type TargetSpec struct {
	Environment string `yaml:"environment"`
	Application string `yaml:"application"`
	BaseURL     string `yaml:"baseUrl"`
	// WarmupPath, when set, is requested once before the first test runs.
	WarmupPath string `yaml:"warmupPath,omitempty"`
	// MinBuildDate hides every test of the target until it reports a newer build.
	MinBuildDate time.Time `yaml:"minBuildDate,omitempty"`
}

type targetsFile struct {
	Targets []TargetSpec `yaml:"targets"`
}

// LoadTargets reads the targets file at path.
func LoadTargets(path string) ([]TargetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets file: %w", err)
	}

	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing targets file %s: %w", path, err)
	}

	for i, t := range f.Targets {
		if t.Environment == "" || t.Application == "" || t.BaseURL == "" {
			return nil, fmt.Errorf("targets file %s: entry %d needs environment, application and baseUrl", path, i)
		}
	}
	return f.Targets, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
