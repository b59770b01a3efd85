// Package config provides centralized configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Duplicate trigger policies for runs on the same repository and branch.
const (
	PolicyQueue  = "queue"
	PolicyReject = "reject"
)

// Config holds all configuration parameters for the application. It is
// loaded once and passed by value; derive variants with the With* helpers.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	GitHub  GitHubConfig  `mapstructure:"github"`
	Jira    JiraConfig    `mapstructure:"jira"`
	Trello  TrelloConfig  `mapstructure:"trello"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	Flow    FlowConfig    `mapstructure:"flow"`
	Mail    MailConfig    `mapstructure:"mail"`
}

// ServerConfig holds the webhook listener configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"min=1"`
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Token         string `mapstructure:"token"`
	Domain        string `mapstructure:"domain"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// ConfigAsCode is the repository path of the per-repository config file
	ConfigAsCode   string `mapstructure:"config_as_code"`
	CommentSummary bool   `mapstructure:"comment_summary"`
	CommitStatus   bool   `mapstructure:"commit_status"`
}

// JiraConfig holds JIRA specific configuration.
type JiraConfig struct {
	URL            string `mapstructure:"url"`
	Username       string `mapstructure:"username"`
	Token          string `mapstructure:"token"`
	Project        string `mapstructure:"project"`
	IssueType      string `mapstructure:"issue_type"`
	DoneTransition string `mapstructure:"done_transition"`
}

// TrelloConfig holds Trello specific configuration.
type TrelloConfig struct {
	Key      string `mapstructure:"key"`
	Token    string `mapstructure:"token"`
	BoardID  string `mapstructure:"board_id"`
	ListName string `mapstructure:"list_name"`
}

// ScannerConfig holds the scanner REST client configuration.
type ScannerConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	Token          string        `mapstructure:"token"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout" validate:"gt=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// FlowConfig holds the static defaults of every orchestration run.
type FlowConfig struct {
	Branches             []string `mapstructure:"branches"`
	BugTracker           string   `mapstructure:"bug_tracker" validate:"required"`
	Team                 string   `mapstructure:"team"`
	Project              string   `mapstructure:"project"`
	Application          string   `mapstructure:"application"`
	SeverityThreshold    string   `mapstructure:"severity_threshold" validate:"omitempty,oneof=info low medium high critical"`
	DuplicatePolicy      string   `mapstructure:"duplicate_policy" validate:"oneof=queue reject"`
	AutoCloseManagedOnly bool     `mapstructure:"auto_close_managed_only"`
	TrackerConcurrency   int      `mapstructure:"tracker_concurrency" validate:"min=1"`
	TrackerRatePerSecond float64  `mapstructure:"tracker_rate_per_second" validate:"min=0"`
	PushEvents           bool     `mapstructure:"push_events"`
	// ConfigAsCodeBranches leaves the branch gate to the run, so a
	// repository's config-as-code may widen the static allow-list
	ConfigAsCodeBranches bool     `mapstructure:"config_as_code_branches"`
	Emails               []string `mapstructure:"emails" validate:"dive,email"`
}

// MailConfig holds SMTP configuration for summary emails.
type MailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Usable reports whether mail delivery is both enabled and configured.
func (m MailConfig) Usable() bool {
	return m.Enabled && m.Host != "" && m.Port != 0 && m.From != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 5<<20)

	v.SetDefault("github.token", "")
	v.SetDefault("github.domain", "github.com")
	v.SetDefault("github.webhook_secret", "")
	v.SetDefault("github.config_as_code", ".scanglue.yml")
	v.SetDefault("github.comment_summary", true)
	v.SetDefault("github.commit_status", true)

	v.SetDefault("jira.url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.token", "")
	v.SetDefault("jira.project", "")
	v.SetDefault("jira.issue_type", "Bug")
	v.SetDefault("jira.done_transition", "Done")

	v.SetDefault("trello.key", "")
	v.SetDefault("trello.token", "")
	v.SetDefault("trello.board_id", "")
	v.SetDefault("trello.list_name", "To Do")

	v.SetDefault("scanner.url", "")
	v.SetDefault("scanner.token", "")
	v.SetDefault("scanner.poll_interval", 10*time.Second)
	v.SetDefault("scanner.scan_timeout", 30*time.Minute)
	v.SetDefault("scanner.connect_timeout", 5*time.Second)
	v.SetDefault("scanner.read_timeout", 30*time.Second)

	v.SetDefault("flow.branches", []string{})
	v.SetDefault("flow.bug_tracker", "NONE")
	v.SetDefault("flow.team", "")
	v.SetDefault("flow.project", "")
	v.SetDefault("flow.application", "")
	v.SetDefault("flow.severity_threshold", "")
	v.SetDefault("flow.duplicate_policy", PolicyQueue)
	v.SetDefault("flow.auto_close_managed_only", true)
	v.SetDefault("flow.tracker_concurrency", 4)
	v.SetDefault("flow.tracker_rate_per_second", 0)
	v.SetDefault("flow.push_events", false)
	v.SetDefault("flow.config_as_code_branches", false)
	v.SetDefault("flow.emails", []string{})

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.host", "")
	v.SetDefault("mail.port", 0)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.to", []string{})
}

// LoadConfig initializes and loads configuration from an optional file and
// environment variables. Environment variables use the SCANGLUE_ prefix
// (e.g., SCANGLUE_FLOW_BRANCHES=main,develop); the unprefixed GITHUB_TOKEN,
// JIRA_URL, JIRA_USERNAME and JIRA_TOKEN are honoured as well.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCANGLUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map specific environment variables
	_ = v.BindEnv("github.token", "SCANGLUE_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.domain", "SCANGLUE_GITHUB_DOMAIN", "GITHUB_DOMAIN")
	_ = v.BindEnv("github.webhook_secret", "SCANGLUE_GITHUB_WEBHOOK_SECRET", "GITHUB_WEBHOOK_SECRET")
	_ = v.BindEnv("jira.url", "SCANGLUE_JIRA_URL", "JIRA_URL")
	_ = v.BindEnv("jira.username", "SCANGLUE_JIRA_USERNAME", "JIRA_USERNAME")
	_ = v.BindEnv("jira.token", "SCANGLUE_JIRA_TOKEN", "JIRA_TOKEN")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if config.GitHub.Domain == "" {
		config.GitHub.Domain = "github.com"
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateConfig ensures that the configuration is structurally sound.
func validateConfig(config *Config) error {
	if err := validate.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ValidateJiraConfig validates JIRA-specific configuration.
func ValidateJiraConfig(config *Config) error {
	var missingVars []string

	// JIRA validation
	if config.Jira.URL == "" {
		missingVars = append(missingVars, "JIRA_URL")
	}
	if config.Jira.Username == "" {
		missingVars = append(missingVars, "JIRA_USERNAME")
	}
	if config.Jira.Token == "" {
		missingVars = append(missingVars, "JIRA_TOKEN")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}

// ValidateTrelloConfig validates Trello-specific configuration.
func ValidateTrelloConfig(config *Config) error {
	var missingVars []string

	if config.Trello.Key == "" {
		missingVars = append(missingVars, "SCANGLUE_TRELLO_KEY")
	}
	if config.Trello.Token == "" {
		missingVars = append(missingVars, "SCANGLUE_TRELLO_TOKEN")
	}
	if config.Trello.BoardID == "" {
		missingVars = append(missingVars, "SCANGLUE_TRELLO_BOARD_ID")
	}

	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	return nil
}

// WithBranches returns a copy of c whose branch allow-list also contains
// the given branches. c itself is left untouched.
func (c Config) WithBranches(branches ...string) Config {
	out := c
	out.Flow.Branches = slices.Clone(c.Flow.Branches)
	for _, b := range branches {
		if !slices.Contains(out.Flow.Branches, b) {
			out.Flow.Branches = append(out.Flow.Branches, b)
		}
	}
	return out
}

// WithBugTracker returns a copy of c with a different default bug tracker.
func (c Config) WithBugTracker(bugTracker string) Config {
	out := c
	out.Flow.BugTracker = bugTracker
	return out
}
