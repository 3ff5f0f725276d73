// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package config resolves the data directory, loads .env files and the
// weft.yaml configuration, and watches the data-source file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/teradata-labs/weft/pkg/agent"
)

// FileName is the config file name without extension.
const FileName = "weft"

// Config holds all configuration for weft.
// Priority: CLI flags > environment > config file > defaults.
type Config struct {
	// DataDir is computed from WEFT_DATA_DIR, not read from the file.
	DataDir string `mapstructure:"-" json:"-"`

	Server    ServerConfig    `mapstructure:"server" json:"server"`
	LLM       LLMConfig       `mapstructure:"llm" json:"llm"`
	Agent     agent.Config    `mapstructure:"agent" json:"agent"`
	Discovery DiscoveryConfig `mapstructure:"discovery" json:"discovery"`
	Semantic  SemanticConfig  `mapstructure:"semantic" json:"semantic"`
	Storage   StorageConfig   `mapstructure:"storage" json:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" json:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging" json:"logging"`

	// DataSourcesFile is the YAML file of data-source records. When it is
	// empty, records live in the storage database.
	DataSourcesFile string `mapstructure:"datasources_file" json:"datasources_file,omitempty"`

	// Timezone is the IANA zone used for relative dates. Default: local.
	Timezone string `mapstructure:"timezone" json:"timezone,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr" jsonschema:"default=:8080"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	TurnTimeout     time.Duration `mapstructure:"turn_timeout" json:"turn_timeout"`
}

// LLMConfig selects the model provider.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" json:"provider" jsonschema:"enum=anthropic,enum=bedrock"`
	Model       string        `mapstructure:"model" json:"model"`
	APIKey      string        `mapstructure:"api_key" json:"-"`
	BaseURL     string        `mapstructure:"base_url" json:"base_url,omitempty"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" json:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	Region      string        `mapstructure:"region" json:"region,omitempty"`
	Profile     string        `mapstructure:"profile" json:"profile,omitempty"`

	// RequestsPerSecond enables client-side rate limiting when positive.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second,omitempty"`

	// Classifier labels turns with the model when "llm", with offline
	// keywords when "keyword".
	Classifier string `mapstructure:"classifier" json:"classifier" jsonschema:"enum=llm,enum=keyword"`
}

// DiscoveryConfig bounds schema introspection and entity search.
type DiscoveryConfig struct {
	SearchTimeout            time.Duration `mapstructure:"search_timeout" json:"search_timeout"`
	LimitPerTable            int           `mapstructure:"limit_per_table" json:"limit_per_table"`
	SearchConcurrency        int           `mapstructure:"search_concurrency" json:"search_concurrency"`
	IntrospectionConcurrency int           `mapstructure:"introspection_concurrency" json:"introspection_concurrency"`
	BuildTimeout             time.Duration `mapstructure:"build_timeout" json:"build_timeout"`
}

// SemanticConfig configures the table embedding index.
type SemanticConfig struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled"`
	Provider string `mapstructure:"provider" json:"provider" jsonschema:"enum=ollama,enum=openai"`
	Model    string `mapstructure:"model" json:"model"`
	BaseURL  string `mapstructure:"base_url" json:"base_url,omitempty"`
	APIKey   string `mapstructure:"api_key" json:"-"`
	TopK     int    `mapstructure:"top_k" json:"top_k"`
}

// StorageConfig selects the persistence database.
type StorageConfig struct {
	Driver string `mapstructure:"driver" json:"driver" jsonschema:"enum=sqlite,enum=postgres,enum=mysql"`
	DSN    string `mapstructure:"dsn" json:"dsn"`

	// AuditRetention drops audit entries older than this. Zero keeps them.
	AuditRetention time.Duration `mapstructure:"audit_retention" json:"audit_retention"`

	// EncryptionKey enables SQLCipher for the sqlite driver.
	EncryptionKey string `mapstructure:"encryption_key" json:"-"`
}

// SchedulerConfig configures cron-driven schema re-sync.
type SchedulerConfig struct {
	Enabled bool          `mapstructure:"enabled" json:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	JSON  bool   `mapstructure:"json" json:"json"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	dataDir := GetWeftDataDir()
	agentDefaults := agent.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.turn_timeout", 5*time.Minute)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.region", "us-west-2")
	v.SetDefault("llm.profile", "")
	v.SetDefault("llm.requests_per_second", 0)
	v.SetDefault("llm.classifier", "llm")

	v.SetDefault("agent.max_iterations", agentDefaults.MaxIterations)
	v.SetDefault("agent.max_retries", agentDefaults.MaxRetries)
	v.SetDefault("agent.initial_backoff", agentDefaults.InitialBackoff)
	v.SetDefault("agent.max_backoff", agentDefaults.MaxBackoff)
	v.SetDefault("agent.multiplier", agentDefaults.Multiplier)
	v.SetDefault("agent.max_tool_result_tokens", agentDefaults.MaxToolResultTokens)
	v.SetDefault("agent.parallel_tools", agentDefaults.ParallelTools)
	v.SetDefault("agent.tool_concurrency", agentDefaults.ToolConcurrency)
	v.SetDefault("agent.tool_timeout", agentDefaults.ToolTimeout)

	v.SetDefault("discovery.search_timeout", 10*time.Second)
	v.SetDefault("discovery.limit_per_table", 5)
	v.SetDefault("discovery.search_concurrency", 4)
	v.SetDefault("discovery.introspection_concurrency", 4)
	v.SetDefault("discovery.build_timeout", 5*time.Minute)

	v.SetDefault("semantic.enabled", false)
	v.SetDefault("semantic.provider", "ollama")
	v.SetDefault("semantic.model", "nomic-embed-text")
	v.SetDefault("semantic.base_url", "")
	v.SetDefault("semantic.api_key", "")
	v.SetDefault("semantic.top_k", 5)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", filepath.Join(dataDir, "weft.db"))
	v.SetDefault("storage.audit_retention", 90*24*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.timeout", 10*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)

	v.SetDefault("datasources_file", "")
	v.SetDefault("timezone", "")
}

// Load reads the configuration into a Config. cfgFile overrides the search
// of $WEFT_DATA_DIR, ~/.weft and the working directory for weft.yaml. A
// missing config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(GetWeftDataDir())
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix("WEFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.DataDir = GetWeftDataDir()
	if cfg.DataSourcesFile != "" {
		cfg.DataSourcesFile = ExpandPath(cfg.DataSourcesFile)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	// Keyring access is best effort; secrets may come from the environment.
	_ = ResolveSecrets(&cfg)
	return &cfg, nil
}

// Location returns the configured timezone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LoadEnvFiles loads .env.local and .env from dir without overriding
// variables already set. Missing files are skipped.
func LoadEnvFiles(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Schema returns the JSON Schema of the configuration file.
func Schema() *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "weft configuration"
	schema.Description = "Configuration file weft.yaml"
	return schema
}
