// Package config loads caretaker configuration from YAML and CARETAKER_*
// environment variables.
package config

import (
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/felixgeelhaar/caretaker/internal/errors"
)

// DefaultConfigName is looked up in the working directory when no --config flag is given.
const DefaultConfigName = "caretaker"

// EnvPrefix prefixes every environment override, e.g. CARETAKER_CONCURRENCY_MAX_WORKERS.
const EnvPrefix = "CARETAKER"

// Config is the complete caretaker configuration.
type Config struct {
	Features       FeaturesConfig    `mapstructure:"features"`
	Limits         LimitsConfig      `mapstructure:"limits"`
	Concurrency    ConcurrencyConfig `mapstructure:"concurrency"`
	Cache          CacheConfig       `mapstructure:"cache"`
	Schedule       ScheduleConfig    `mapstructure:"schedule"`
	GitHub         GitHubConfig      `mapstructure:"github"`
	Provider       ProviderConfig    `mapstructure:"provider"`
	Plugins        []PluginConfig    `mapstructure:"plugins"`
	FileExtensions []string          `mapstructure:"file_extensions"`
	Report         ReportConfig      `mapstructure:"report"`
	Notify         NotifyConfig      `mapstructure:"notify"`
	Logging        LoggingConfig     `mapstructure:"logging"`
	Server         ServerConfig      `mapstructure:"server"`
	Telemetry      TelemetryConfig   `mapstructure:"telemetry"`
}

// FeaturesConfig toggles the built-in stages.
type FeaturesConfig struct {
	FeatureGeneration       bool `mapstructure:"feature_generation"`
	CodeOptimization        bool `mapstructure:"code_optimization"`
	CodeReview              bool `mapstructure:"code_review"`
	SecurityAnalysis        bool `mapstructure:"security_analysis"`
	PerformanceProfiling    bool `mapstructure:"performance_profiling"`
	DocumentationGeneration bool `mapstructure:"documentation_generation"`
	DependencyUpdates       bool `mapstructure:"dependency_updates"`
	IssueHandling           bool `mapstructure:"issue_handling"`
	Changelog               bool `mapstructure:"changelog"`
	SemanticVersioning      bool `mapstructure:"semantic_versioning"`
	IssueTriage             bool `mapstructure:"issue_triage"`
	RepositoryReport        bool `mapstructure:"repository_report"`
}

// LimitsConfig bounds the work done per process and per repository.
type LimitsConfig struct {
	MaxFilesPerRepo  int `mapstructure:"max_files_per_repo"`
	MaxIssuesPerRepo int `mapstructure:"max_issues_per_repo"`
	MaxRepos         int `mapstructure:"max_repos"`
	// PluginTimeout bounds exec plugins that set no timeout of their own.
	PluginTimeout time.Duration `mapstructure:"plugin_timeout"`
}

// ConcurrencyConfig sizes the scheduler worker pool.
type ConcurrencyConfig struct {
	MaxWorkers int `mapstructure:"max_workers"`
}

// CacheConfig sizes the fingerprint cache.
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// ScheduleConfig holds the recurring trigger used by `caretaker serve`.
type ScheduleConfig struct {
	Cron string `mapstructure:"cron"`
}

// GitHubConfig configures the source hosting adapter.
type GitHubConfig struct {
	Token         string   `mapstructure:"token"`
	BaseURL       string   `mapstructure:"base_url"`
	Repositories  []string `mapstructure:"repositories"`
	DefaultBranch string   `mapstructure:"default_branch"`
	WebhookSecret string   `mapstructure:"webhook_secret"`
}

// ProviderConfig configures the intelligence provider.
type ProviderConfig struct {
	ID         string        `mapstructure:"id"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`

	// Prompts overrides built-in prompt templates by template id.
	Prompts map[string]string `mapstructure:"prompts"`
}

// PluginKind selects how a plugin is resolved.
type PluginKind string

const (
	PluginKindBuiltin PluginKind = "builtin"
	PluginKindExec    PluginKind = "exec"
)

// PluginConfig enables one plugin by name.
type PluginConfig struct {
	Name     string         `mapstructure:"name"`
	Enabled  bool           `mapstructure:"enabled"`
	Kind     PluginKind     `mapstructure:"kind"`
	Manifest string         `mapstructure:"manifest"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Config   map[string]any `mapstructure:"config"`
}

// ReportConfig controls run reporting on the repository itself.
type ReportConfig struct {
	SummaryIssues bool `mapstructure:"summary_issues"`
}

// NotifyConfig configures run notifications. Empty URLs disable a channel.
type NotifyConfig struct {
	SlackWebhookURL string        `mapstructure:"slack_webhook_url"`
	WebhookURL      string        `mapstructure:"webhook_url"`
	Timeout         time.Duration `mapstructure:"timeout"`

	// Jira is enabled when URL, username and API token are all set.
	JiraURL      string `mapstructure:"jira_url"`
	JiraUsername string `mapstructure:"jira_username"`
	JiraAPIToken string `mapstructure:"jira_api_token"`
	JiraProject  string `mapstructure:"jira_project"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures `caretaker serve`.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Features: FeaturesConfig{
			Changelog: true,
		},
		Limits: LimitsConfig{
			MaxFilesPerRepo:  50,
			MaxIssuesPerRepo: 10,
			MaxRepos:         20,
			PluginTimeout:    30 * time.Second,
		},
		Concurrency: ConcurrencyConfig{
			MaxWorkers: 4,
		},
		Cache: CacheConfig{
			TTL:     24 * time.Hour,
			MaxSize: 1024,
		},
		Schedule: ScheduleConfig{
			Cron: "0 3 * * 1",
		},
		GitHub: GitHubConfig{
			DefaultBranch: "main",
		},
		Provider: ProviderConfig{
			ID:         "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			MaxRetries: 3,
			Timeout:    120 * time.Second,
		},
		FileExtensions: []string{".py"},
		Report: ReportConfig{
			SummaryIssues: true,
		},
		Notify: NotifyConfig{
			Timeout:     10 * time.Second,
			JiraProject: "AI",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "caretaker",
		},
	}
}

// SetDefaults registers every default on v. Registering all keys also makes
// them visible to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("features.feature_generation", d.Features.FeatureGeneration)
	v.SetDefault("features.code_optimization", d.Features.CodeOptimization)
	v.SetDefault("features.code_review", d.Features.CodeReview)
	v.SetDefault("features.security_analysis", d.Features.SecurityAnalysis)
	v.SetDefault("features.performance_profiling", d.Features.PerformanceProfiling)
	v.SetDefault("features.documentation_generation", d.Features.DocumentationGeneration)
	v.SetDefault("features.dependency_updates", d.Features.DependencyUpdates)
	v.SetDefault("features.issue_handling", d.Features.IssueHandling)
	v.SetDefault("features.changelog", d.Features.Changelog)
	v.SetDefault("features.semantic_versioning", d.Features.SemanticVersioning)
	v.SetDefault("features.issue_triage", d.Features.IssueTriage)
	v.SetDefault("features.repository_report", d.Features.RepositoryReport)

	v.SetDefault("limits.max_files_per_repo", d.Limits.MaxFilesPerRepo)
	v.SetDefault("limits.max_issues_per_repo", d.Limits.MaxIssuesPerRepo)
	v.SetDefault("limits.max_repos", d.Limits.MaxRepos)
	v.SetDefault("limits.plugin_timeout", d.Limits.PluginTimeout)

	v.SetDefault("concurrency.max_workers", d.Concurrency.MaxWorkers)

	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)

	v.SetDefault("schedule.cron", d.Schedule.Cron)

	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.base_url", d.GitHub.BaseURL)
	v.SetDefault("github.repositories", d.GitHub.Repositories)
	v.SetDefault("github.default_branch", d.GitHub.DefaultBranch)
	v.SetDefault("github.webhook_secret", d.GitHub.WebhookSecret)

	v.SetDefault("provider.id", d.Provider.ID)
	v.SetDefault("provider.base_url", d.Provider.BaseURL)
	v.SetDefault("provider.api_key", d.Provider.APIKey)
	v.SetDefault("provider.model", d.Provider.Model)
	v.SetDefault("provider.max_retries", d.Provider.MaxRetries)
	v.SetDefault("provider.timeout", d.Provider.Timeout)

	v.SetDefault("file_extensions", d.FileExtensions)

	v.SetDefault("report.summary_issues", d.Report.SummaryIssues)

	v.SetDefault("notify.slack_webhook_url", d.Notify.SlackWebhookURL)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("notify.timeout", d.Notify.Timeout)
	v.SetDefault("notify.jira_url", d.Notify.JiraURL)
	v.SetDefault("notify.jira_username", d.Notify.JiraUsername)
	v.SetDefault("notify.jira_api_token", d.Notify.JiraAPIToken)
	v.SetDefault("notify.jira_project", d.Notify.JiraProject)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
}

// NewViper returns a viper instance with defaults and environment overrides
// wired, and the config file location set. path may be empty.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

// Load reads configuration from path (or ./caretaker.yaml when path is empty),
// applies environment overrides and validates the result. A missing default
// file is not an error; a missing explicit file is.
func Load(path string) (*Config, error) {
	v := NewViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !stderrors.As(err, &notFound) {
			if os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrCodeConfigNotFound, "config file not found: "+path, err).
					WithSuggestion("Pass an existing file with --config or omit the flag to use defaults")
			}
			return nil, errors.Wrap(errors.ErrCodeConfigParse, "failed to read config file", err).
				WithSuggestion("Check the YAML syntax of the config file")
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if verrs := cfg.Validate(); len(verrs) > 0 {
		return cfg, errors.NewConfigError("validation failed", verrs)
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigParse, "failed to decode configuration", err)
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

// applyFallbacks fills credentials from the conventional variables when the
// CARETAKER_ ones are unset.
func (c *Config) applyFallbacks() {
	if c.GitHub.Token == "" {
		c.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Notify.JiraURL == "" {
		c.Notify.JiraURL = os.Getenv("JIRA_URL")
	}
	if c.Notify.JiraUsername == "" {
		c.Notify.JiraUsername = os.Getenv("JIRA_USERNAME")
	}
	if c.Notify.JiraAPIToken == "" {
		c.Notify.JiraAPIToken = os.Getenv("JIRA_API_TOKEN")
	}
	for i := range c.Plugins {
		if c.Plugins[i].Kind == "" {
			c.Plugins[i].Kind = PluginKindBuiltin
		}
	}
}

// Repositories returns the configured repositories, deduplicated in order and
// truncated to limits.max_repos when it is positive.
func (c *Config) Repositories() []string {
	seen := make(map[string]bool, len(c.GitHub.Repositories))
	var out []string
	for _, r := range c.GitHub.Repositories {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
		if c.Limits.MaxRepos > 0 && len(out) == c.Limits.MaxRepos {
			break
		}
	}
	return out
}
