// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Server() ServerConfig
	Engine() EngineConfig
	Triage() TriageConfig
	Expertise() ExpertiseConfig
	Analyzer() AnalyzerConfig
	LLM() LLMConfig
	GitHub() GitHubConfig
	Slack() SlackConfig
	Repo() RepoConfig
	DraftFix() DraftFixConfig
	Watch() WatchConfig
	Job() JobConfig
	SetJobConfig(jc JobConfig)

	// Engine Setters
	SetEngineWorkers(int)

	// Repo Setters
	SetRepoPath(string)

	// Watch Setters
	SetWatchLogPath(string)
}

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal into them; access through the Interface getters keeps
// call sites mock-friendly.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	ServerCfg    ServerConfig    `mapstructure:"server" yaml:"server"`
	EngineCfg    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	TriageCfg    TriageConfig    `mapstructure:"triage" yaml:"triage"`
	ExpertiseCfg ExpertiseConfig `mapstructure:"expertise" yaml:"expertise"`
	AnalyzerCfg  AnalyzerConfig  `mapstructure:"analyzer" yaml:"analyzer"`
	LLMCfg       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	GitHubCfg    GitHubConfig    `mapstructure:"github" yaml:"github"`
	SlackCfg     SlackConfig     `mapstructure:"slack" yaml:"slack"`
	RepoCfg      RepoConfig      `mapstructure:"repo" yaml:"repo"`
	DraftFixCfg  DraftFixConfig  `mapstructure:"draftfix" yaml:"draftfix"`
	WatchCfg     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	// job gets its marching orders from CLI flags, not the config file.
	job JobConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig   { return c.DatabaseCfg }
func (c *Config) Server() ServerConfig       { return c.ServerCfg }
func (c *Config) Engine() EngineConfig       { return c.EngineCfg }
func (c *Config) Triage() TriageConfig       { return c.TriageCfg }
func (c *Config) Expertise() ExpertiseConfig { return c.ExpertiseCfg }
func (c *Config) Analyzer() AnalyzerConfig   { return c.AnalyzerCfg }
func (c *Config) LLM() LLMConfig             { return c.LLMCfg }
func (c *Config) GitHub() GitHubConfig       { return c.GitHubCfg }
func (c *Config) Slack() SlackConfig         { return c.SlackCfg }
func (c *Config) Repo() RepoConfig           { return c.RepoCfg }
func (c *Config) DraftFix() DraftFixConfig   { return c.DraftFixCfg }
func (c *Config) Watch() WatchConfig         { return c.WatchCfg }
func (c *Config) Job() JobConfig             { return c.job }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetJobConfig(jc JobConfig) { c.job = jc }
func (c *Config) SetEngineWorkers(w int)    { c.EngineCfg.Workers = w }
func (c *Config) SetRepoPath(p string)      { c.RepoCfg.Path = p }
func (c *Config) SetWatchLogPath(p string)  { c.WatchCfg.LogPath = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// ServerConfig tunes the webhook HTTP server.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// DuplicateWindow is how long a processed issue ID suppresses repeat
	// webhook deliveries.
	DuplicateWindow time.Duration `mapstructure:"duplicate_window" yaml:"duplicate_window"`
}

// EngineConfig configures the triage task engine.
type EngineConfig struct {
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

// TriageConfig holds the routing policy knobs.
type TriageConfig struct {
	// ConfidenceThreshold is the final score below which issues route to a
	// human, on the 0-100 scale.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	// TieEpsilon is the score distance within which two candidates count as
	// tied.
	TieEpsilon float64 `mapstructure:"tie_epsilon" yaml:"tie_epsilon"`
	// AnalysisWeight is the blend weight given to analysis confidence; the
	// remainder goes to ownership certainty.
	AnalysisWeight float64 `mapstructure:"analysis_weight" yaml:"analysis_weight"`
}

// ExpertiseConfig tunes git history scoring.
type ExpertiseConfig struct {
	CacheTTL           time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RecencyDecayDays   float64       `mapstructure:"recency_decay_days" yaml:"recency_decay_days"`
	ActivityWindowDays int           `mapstructure:"activity_window_days" yaml:"activity_window_days"`
	MaxCommits         int           `mapstructure:"max_commits" yaml:"max_commits"`
	// BotPatterns are regexes matched against author emails and names.
	BotPatterns []string `mapstructure:"bot_patterns" yaml:"bot_patterns"`
	// MergeMessagePatterns catch squash-style merges that keep a single
	// parent but carry a merge message.
	MergeMessagePatterns []string `mapstructure:"merge_message_patterns" yaml:"merge_message_patterns"`
}

// AnalyzerConfig tunes the LLM analysis stage. MaxRetries counts total
// attempts, not retries after the first.
type AnalyzerConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff"`
	ContextLines   int           `mapstructure:"context_lines" yaml:"context_lines"`
	Breaker        BreakerConfig `mapstructure:"breaker" yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker guarding the LLM provider.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout" yaml:"reset_timeout"`
	HalfOpenMax      int           `mapstructure:"half_open_max" yaml:"half_open_max"`
	SuccessThreshold int           `mapstructure:"success_threshold" yaml:"success_threshold"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini     LLMProvider = "gemini"
	ProviderGeminiREST LLMProvider = "gemini-rest"
)

// LLMConfig configures the language model client.
type LLMConfig struct {
	Provider      LLMProvider   `mapstructure:"provider" yaml:"provider"`
	APIKey        string        `mapstructure:"api_key" yaml:"-"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	FastModel     string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APITimeout    time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// RequestsPerMinute and Burst feed the client-side rate limiter.
	RequestsPerMinute float64 `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
}

// GitHubConfig defines credentials and targets for code host side effects.
// Either Token (PAT) or the App triple (AppID, InstallationID, PrivateKeyPath)
// must be set for side effects to apply.
type GitHubConfig struct {
	Token          string `mapstructure:"token" yaml:"-"`
	AppID          int64  `mapstructure:"app_id" yaml:"app_id"`
	InstallationID int64  `mapstructure:"installation_id" yaml:"installation_id"`
	PrivateKeyPath string `mapstructure:"private_key_path" yaml:"private_key_path"`
	RepoOwner      string `mapstructure:"repo_owner" yaml:"repo_owner"`
	RepoName       string `mapstructure:"repo_name" yaml:"repo_name"`
	BaseBranch     string `mapstructure:"base_branch" yaml:"base_branch"`
	// DryRun logs intended side effects without calling the API.
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

// HasCredentials reports whether any side-effect credential is configured.
func (g GitHubConfig) HasCredentials() bool {
	return g.Token != "" || (g.AppID != 0 && g.InstallationID != 0 && g.PrivateKeyPath != "")
}

// SlackConfig configures triage notifications.
type SlackConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	BotToken          string        `mapstructure:"bot_token" yaml:"-"`
	WebhookURL        string        `mapstructure:"webhook_url" yaml:"-"`
	Channel           string        `mapstructure:"channel" yaml:"channel"`
	EscalationChannel string        `mapstructure:"escalation_channel" yaml:"escalation_channel"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
}

// RepoConfig locates the local clone used for history scoring.
type RepoConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DraftFixConfig gates automated fix generation.
type DraftFixConfig struct {
	Enabled         bool    `mapstructure:"enabled" yaml:"enabled"`
	MinConfidence   float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	MaxChangedLines int     `mapstructure:"max_changed_lines" yaml:"max_changed_lines"`
}

// WatchConfig configures crash log tailing.
type WatchConfig struct {
	LogPath string `mapstructure:"log_path" yaml:"log_path"`
	// FromStart replays the whole file instead of seeking to the end.
	FromStart bool `mapstructure:"from_start" yaml:"from_start"`
}

// JobConfig holds settings populated from CLI flags for a one-shot triage run.
type JobConfig struct {
	InputPath string
	Format    string
	RepoPath  string
	Language  string
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mahoraga")
	v.SetDefault("logger.log_file", "mahoraga.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Server --
	v.SetDefault("server.listen_addr", ":8090")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.duplicate_window", "10m")

	// -- Engine --
	v.SetDefault("engine.workers", 10)
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.task_timeout", "5m")

	// -- Triage Policy --
	v.SetDefault("triage.confidence_threshold", 60.0)
	v.SetDefault("triage.tie_epsilon", 5.0)
	v.SetDefault("triage.analysis_weight", 0.7)

	// -- Expertise --
	v.SetDefault("expertise.cache_ttl", "1h")
	v.SetDefault("expertise.recency_decay_days", 90.0)
	v.SetDefault("expertise.activity_window_days", 180)
	v.SetDefault("expertise.max_commits", 500)
	v.SetDefault("expertise.bot_patterns", []string{
		`.*\[bot\].*`,
		`.*-bot@.*`,
		`.*noreply\.github\.com$`,
		`^dependabot`,
		`^renovate`,
	})
	v.SetDefault("expertise.merge_message_patterns", []string{
		`^Merge pull request`,
		`^Merge branch`,
		`^Merge remote-tracking branch`,
	})

	// -- Analyzer --
	v.SetDefault("analyzer.timeout", "30s")
	v.SetDefault("analyzer.max_retries", 3)
	v.SetDefault("analyzer.initial_backoff", "2s")
	v.SetDefault("analyzer.context_lines", 15)
	v.SetDefault("analyzer.breaker.failure_threshold", 5)
	v.SetDefault("analyzer.breaker.reset_timeout", "60s")
	v.SetDefault("analyzer.breaker.half_open_max", 5)
	v.SetDefault("analyzer.breaker.success_threshold", 3)

	// -- LLM --
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.fast_model", "gemini-2.0-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.requests_per_minute", 30.0)
	v.SetDefault("llm.burst", 5)

	// -- GitHub --
	v.SetDefault("github.base_branch", "main")
	v.SetDefault("github.dry_run", false)

	// -- Slack --
	v.SetDefault("slack.enabled", false)
	v.SetDefault("slack.channel", "#bug-triage")
	v.SetDefault("slack.escalation_channel", "#triage-escalation")
	v.SetDefault("slack.api_timeout", "10s")

	// -- Repo --
	v.SetDefault("repo.path", ".")

	// -- DraftFix --
	v.SetDefault("draftfix.enabled", true)
	v.SetDefault("draftfix.min_confidence", 85.0)
	v.SetDefault("draftfix.max_changed_lines", 20)

	// -- Watch --
	v.SetDefault("watch.from_start", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("database.url", "MAHORAGA_DATABASE_URL")
	v.BindEnv("github.token", "MAHORAGA_GITHUB_TOKEN")
	v.BindEnv("llm.api_key", "MAHORAGA_GEMINI_API_KEY")
	v.BindEnv("slack.bot_token", "MAHORAGA_SLACK_TOKEN")
	v.BindEnv("slack.webhook_url", "MAHORAGA_SLACK_WEBHOOK_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up
	if cfg.GitHubCfg.Token == "" {
		cfg.GitHubCfg.Token = os.Getenv("MAHORAGA_GITHUB_TOKEN")
	}
	if cfg.LLMCfg.APIKey == "" {
		cfg.LLMCfg.APIKey = os.Getenv("MAHORAGA_GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.EngineCfg.Workers <= 0 {
		return fmt.Errorf("engine.workers must be a positive integer")
	}
	if c.EngineCfg.QueueSize <= 0 {
		return fmt.Errorf("engine.queue_size must be a positive integer")
	}
	if err := c.TriageCfg.Validate(); err != nil {
		return fmt.Errorf("triage configuration invalid: %w", err)
	}
	if err := c.ExpertiseCfg.Validate(); err != nil {
		return fmt.Errorf("expertise configuration invalid: %w", err)
	}
	if err := c.AnalyzerCfg.Validate(); err != nil {
		return fmt.Errorf("analyzer configuration invalid: %w", err)
	}
	if err := c.DraftFixCfg.Validate(); err != nil {
		return fmt.Errorf("draftfix configuration invalid: %w", err)
	}
	if err := c.SlackCfg.Validate(); err != nil {
		return fmt.Errorf("slack configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the triage policy knobs.
func (t *TriageConfig) Validate() error {
	if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence_threshold must be between 0 and 100")
	}
	if t.TieEpsilon < 0 {
		return fmt.Errorf("tie_epsilon must not be negative")
	}
	if t.AnalysisWeight <= 0 || t.AnalysisWeight > 1 {
		return fmt.Errorf("analysis_weight must be in (0, 1]")
	}
	return nil
}

// Validate checks the expertise scoring knobs.
func (e *ExpertiseConfig) Validate() error {
	if e.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be a positive duration")
	}
	if e.RecencyDecayDays <= 0 {
		return fmt.Errorf("recency_decay_days must be positive")
	}
	if e.ActivityWindowDays <= 0 {
		return fmt.Errorf("activity_window_days must be positive")
	}
	if e.MaxCommits <= 0 {
		return fmt.Errorf("max_commits must be positive")
	}
	return nil
}

// Validate checks the analyzer knobs.
func (a *AnalyzerConfig) Validate() error {
	if a.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if a.InitialBackoff < 0 {
		return fmt.Errorf("initial_backoff must not be negative")
	}
	if a.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if a.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker.reset_timeout must be a positive duration")
	}
	if a.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive")
	}
	if a.Breaker.HalfOpenMax < a.Breaker.SuccessThreshold {
		return fmt.Errorf("breaker.half_open_max must be at least breaker.success_threshold")
	}
	return nil
}

// Validate checks the draft fix gate.
func (d *DraftFixConfig) Validate() error {
	if !d.Enabled {
		return nil
	}
	if d.MinConfidence < 0 || d.MinConfidence > 100 {
		return fmt.Errorf("min_confidence must be between 0 and 100")
	}
	if d.MaxChangedLines <= 0 {
		return fmt.Errorf("max_changed_lines must be positive")
	}
	return nil
}

// Validate checks the Slack notifier settings.
func (s *SlackConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.BotToken == "" && s.WebhookURL == "" {
		return fmt.Errorf("slack requires bot_token or webhook_url. Ensure MAHORAGA_SLACK_TOKEN or MAHORAGA_SLACK_WEBHOOK_URL is set")
	}
	if s.Channel == "" {
		return fmt.Errorf("slack.channel is required")
	}
	return nil
}
