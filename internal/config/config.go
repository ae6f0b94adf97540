// Package config builds the process configuration exactly once at entry and
// hands it to components by value. Core packages never consult viper or the
// environment themselves.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Provider names accepted in llm.providers[].name.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is the root configuration. Populated from config file, environment
// (SUTURE_ prefix) and flags, in viper's usual precedence order.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Repair  RepairConfig  `mapstructure:"repair" yaml:"repair"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Sandbox SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	Git     GitConfig     `mapstructure:"git" yaml:"git"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch"`
}

// LoggerConfig controls the zap logger and its lumberjack file sink.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSizeMB   int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// RepairConfig bounds the repair loop and shapes its output.
type RepairConfig struct {
	TeamName      string `mapstructure:"team_name" yaml:"team_name"`
	LeaderName    string `mapstructure:"leader_name" yaml:"leader_name"`
	MaxIterations int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	ResultsFile   string `mapstructure:"results_file" yaml:"results_file"`
	// EmitProgress enables the JSON-lines progress stream on stdout.
	EmitProgress bool `mapstructure:"emit_progress" yaml:"emit_progress"`
	// FullFileLineLimit is the size below which the whole file is inlined
	// into the model prompt instead of a window around each error.
	FullFileLineLimit int `mapstructure:"full_file_line_limit" yaml:"full_file_line_limit"`
	// ContextRadius is the window half-size, in lines, used for larger files.
	ContextRadius int `mapstructure:"context_radius" yaml:"context_radius"`
}

// ProviderConfig describes one entry of the model fallback chain.
type ProviderConfig struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LLMConfig configures text generation: an ordered provider chain plus the
// retry and throughput policy shared by all providers.
type LLMConfig struct {
	Providers []ProviderConfig `mapstructure:"providers" yaml:"providers"`
	// GeminiAPIKey and OpenAIAPIKey are environment-bound conveniences; a
	// provider entry with an empty api_key inherits the matching one.
	GeminiAPIKey      string        `mapstructure:"gemini_api_key" yaml:"gemini_api_key"`
	OpenAIAPIKey      string        `mapstructure:"openai_api_key" yaml:"openai_api_key"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// SandboxConfig describes how the analysis tools are invoked.
type SandboxConfig struct {
	RuffBin        string        `mapstructure:"ruff_bin" yaml:"ruff_bin"`
	MypyBin        string        `mapstructure:"mypy_bin" yaml:"mypy_bin"`
	PytestBin      string        `mapstructure:"pytest_bin" yaml:"pytest_bin"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// WrapperArgv, when set, prefixes every tool invocation (for callers that
	// supply their own sandboxing wrapper).
	WrapperArgv []string `mapstructure:"wrapper_argv" yaml:"wrapper_argv"`
}

// GitHubConfig gates the optional draft-PR step after a successful run.
type GitHubConfig struct {
	Token      string `mapstructure:"token" yaml:"token"`
	RepoOwner  string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName   string `mapstructure:"repo_name" yaml:"repo_name"`
	BaseBranch string `mapstructure:"base_branch" yaml:"base_branch"`
	OpenPR     bool   `mapstructure:"open_pr" yaml:"open_pr"`
}

// GitConfig controls the per-fix commit flow on the derived branch.
type GitConfig struct {
	Enabled     bool         `mapstructure:"enabled" yaml:"enabled"`
	AuthorName  string       `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string       `mapstructure:"author_email" yaml:"author_email"`
	GitHub      GitHubConfig `mapstructure:"github" yaml:"github"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// AuthSecret enables HS256 bearer-token auth when non-empty.
	AuthSecret      string        `mapstructure:"auth_secret" yaml:"auth_secret"`
	MaxConns        int           `mapstructure:"max_conns" yaml:"max_conns"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig configures the optional Postgres run-history store.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

// WatchConfig configures watch mode: tailing a CI log and auto-triggering
// repair runs on failure bursts.
type WatchConfig struct {
	LogPath         string        `mapstructure:"log_path" yaml:"log_path"`
	RepoPath        string        `mapstructure:"repo_path" yaml:"repo_path"`
	Cooldown        time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	FailurePatterns []string      `mapstructure:"failure_patterns" yaml:"failure_patterns"`
}

// SetDefaults seeds viper with the defaults every run starts from.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "suture")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Repair loop --
	v.SetDefault("repair.team_name", "")
	v.SetDefault("repair.leader_name", "")
	v.SetDefault("repair.max_iterations", 5)
	v.SetDefault("repair.results_file", "results.json")
	v.SetDefault("repair.emit_progress", true)
	v.SetDefault("repair.full_file_line_limit", 150)
	v.SetDefault("repair.context_radius", 10)

	// -- LLM --
	v.SetDefault("llm.request_timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_minute", 30)

	// -- Sandbox --
	v.SetDefault("sandbox.ruff_bin", "ruff")
	v.SetDefault("sandbox.mypy_bin", "mypy")
	v.SetDefault("sandbox.pytest_bin", "pytest")
	v.SetDefault("sandbox.command_timeout", 120*time.Second)

	// -- Git --
	v.SetDefault("git.enabled", false)
	v.SetDefault("git.author_name", "suture-agent")
	v.SetDefault("git.author_email", "agent@suture.dev")
	v.SetDefault("git.github.base_branch", "main")
	v.SetDefault("git.github.open_pr", false)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8787")
	v.SetDefault("server.max_conns", 64)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// -- Store --
	v.SetDefault("store.enabled", false)

	// -- Watch --
	v.SetDefault("watch.cooldown", 5*time.Minute)
	v.SetDefault("watch.settle_delay", 2*time.Second)
}

// NewConfigFromViper unmarshals, applies the environment-bound secrets, and
// validates. This is the only constructor; nothing reads viper after it
// returns.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Secrets come from the environment, never from the config file.
	v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	v.BindEnv("git.github.token", "SUTURE_GITHUB_TOKEN")
	v.BindEnv("server.auth_secret", "SUTURE_AUTH_SECRET")
	v.BindEnv("store.dsn", "SUTURE_STORE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Git.GitHub.Token == "" {
		cfg.Git.GitHub.Token = os.Getenv("SUTURE_GITHUB_TOKEN")
	}
	cfg.LLM.applyKeyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyKeyFallbacks fills provider entries from the environment-bound keys
// and synthesizes a default chain when none was configured explicitly.
func (l *LLMConfig) applyKeyFallbacks() {
	for i := range l.Providers {
		if l.Providers[i].APIKey != "" {
			continue
		}
		switch l.Providers[i].Name {
		case ProviderGemini:
			l.Providers[i].APIKey = l.GeminiAPIKey
		case ProviderOpenAI:
			l.Providers[i].APIKey = l.OpenAIAPIKey
		}
	}

	if len(l.Providers) > 0 {
		return
	}
	if l.GeminiAPIKey != "" {
		l.Providers = append(l.Providers, ProviderConfig{
			Name:   ProviderGemini,
			Model:  "gemini-2.5-flash",
			APIKey: l.GeminiAPIKey,
		})
	}
	if l.OpenAIAPIKey != "" {
		l.Providers = append(l.Providers, ProviderConfig{
			Name:   ProviderOpenAI,
			Model:  "gpt-4o-mini",
			APIKey: l.OpenAIAPIKey,
		})
	}
}

// Validate checks structural validity. A missing provider chain is NOT a
// config-file error here; the strategy engine treats it as fatal at
// construction so that analysis-only commands still work.
func (c *Config) Validate() error {
	if c.Repair.MaxIterations <= 0 {
		return fmt.Errorf("repair.max_iterations must be a positive integer")
	}
	if c.Repair.ContextRadius < 0 {
		return fmt.Errorf("repair.context_radius must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	for i, p := range c.LLM.Providers {
		switch p.Name {
		case ProviderGemini, ProviderOpenAI:
		default:
			return fmt.Errorf("llm.providers[%d].name %q is not a known provider", i, p.Name)
		}
		if p.Model == "" {
			return fmt.Errorf("llm.providers[%d].model is required", i)
		}
	}
	if c.Sandbox.CommandTimeout <= 0 {
		return fmt.Errorf("sandbox.command_timeout must be a positive duration")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Git.Validate()
}

// Validate checks the git/GitHub settings when the commit flow is enabled.
func (g *GitConfig) Validate() error {
	if !g.GitHub.OpenPR {
		return nil
	}
	if g.GitHub.RepoOwner == "" || g.GitHub.RepoName == "" || g.GitHub.BaseBranch == "" {
		return fmt.Errorf("git.github.repo_owner, repo_name and base_branch are required when open_pr is set")
	}
	if g.GitHub.Token == "" {
		return fmt.Errorf("GitHub token required for open_pr; set SUTURE_GITHUB_TOKEN")
	}
	return nil
}

// Validate checks the store settings.
func (s *StoreConfig) Validate() error {
	if s.Enabled && s.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.enabled is set; set SUTURE_STORE_DSN")
	}
	return nil
}
