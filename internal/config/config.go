// Package config loads the flat set of strongly-typed settings the core
// reads (device timeouts, retry counts, verification thresholds, model
// endpoint credentials). Each key has a documented
// default; a config file and AGENTCORE_-prefixed environment variables
// layer on top via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the flat, strongly-typed configuration surface consumed by
// every core component. Every field has a documented default,
// applied by setDefaults before a config file or environment override is
// read.
type Settings struct {
	// Device driver.
	DeviceSerial  string        `mapstructure:"device_serial"`
	DeviceTimeout time.Duration `mapstructure:"device_timeout"`
	RetryCount    int           `mapstructure:"retry_count"`

	// Verification.
	ChangeThreshold float64 `mapstructure:"change_threshold"`
	SSIMThreshold   float64 `mapstructure:"ssim_threshold"`

	// Step graph / orchestrator.
	MaxRetries       int           `mapstructure:"max_retries"`
	RunConflictWait  time.Duration `mapstructure:"run_conflict_wait"`
	RecursionBudget  int           `mapstructure:"recursion_budget"`
	PostActionSettle time.Duration `mapstructure:"post_action_settle"`

	// Vision resolver.
	ScreenshotQuality  int     `mapstructure:"screenshot_quality"`
	ScreenshotMaxWidth int     `mapstructure:"screenshot_max_width"`
	StreamFPS          int     `mapstructure:"stream_fps"`
	MinSimilarity      float64 `mapstructure:"min_similarity"`
	OCRConfidenceMin   float64 `mapstructure:"ocr_confidence_min"`
	FuzzyMatchMin      float64 `mapstructure:"fuzzy_match_min"`

	// Knowledge store.
	VectorDBPath  string `mapstructure:"vector_db_path"`
	DataBasePath  string `mapstructure:"data_base_path"`
	VectorBackend string `mapstructure:"vector_backend"` // memory | redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Remote multimodal model endpoint.
	Model ModelSettings `mapstructure:"model"`

	// Budget and alerting.
	Budget BudgetSettings `mapstructure:"budget"`
}

// ModelSettings configures the remote multimodal model endpoint (§6).
type ModelSettings struct {
	Provider    string  `mapstructure:"provider"` // anthropic | google | openai | mock
	Endpoint    string  `mapstructure:"endpoint"`
	APIKey      string  `mapstructure:"api_key"`
	ModelID     string  `mapstructure:"model_id"`
	Temperature float64 `mapstructure:"temperature"`
}

// BudgetSettings bounds model spend and alerts an operator collaborator.
type BudgetSettings struct {
	MaxCallsPerRun int     `mapstructure:"max_calls_per_run"`
	AlertThreshold float64 `mapstructure:"alert_threshold"`
}

// Load reads settings from configPath (if non-empty) layered over defaults,
// then applies AGENTCORE_-prefixed environment overrides. A missing config
// file is not an error: defaults alone are a valid configuration for tests
// and the CLI's quick-start path.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config %q: %w", configPath, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshaling settings: %w", err)
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("device_timeout", 10*time.Second)
	v.SetDefault("retry_count", 3)

	v.SetDefault("change_threshold", 1.0)
	v.SetDefault("ssim_threshold", 0.85)

	v.SetDefault("max_retries", 3)
	v.SetDefault("run_conflict_wait", 30*time.Second)
	v.SetDefault("recursion_budget", 200)
	v.SetDefault("post_action_settle", time.Second)

	v.SetDefault("screenshot_quality", 90)
	v.SetDefault("screenshot_max_width", 0)
	v.SetDefault("stream_fps", 2)
	v.SetDefault("min_similarity", 0.75)
	v.SetDefault("ocr_confidence_min", 60.0)
	v.SetDefault("fuzzy_match_min", 0.85)

	v.SetDefault("vector_db_path", "data/vector_index")
	v.SetDefault("data_base_path", "data")
	v.SetDefault("vector_backend", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.model_id", "claude-sonnet-4-5-20250929")
	v.SetDefault("model.temperature", 0.0)

	v.SetDefault("budget.max_calls_per_run", 200)
	v.SetDefault("budget.alert_threshold", 0.8)
}
