package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"mdjira/internal/domain"
	"mdjira/internal/etl"
	"mdjira/internal/partition"
)

// Config represents the service configuration
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Jira        JiraConfig        `yaml:"jira"`
	Partitions  PartitionsConfig  `yaml:"partitions"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Destination DestinationConfig `yaml:"destination"`
	RunLog      RunLogConfig      `yaml:"run_log"`
	Replay      ReplayConfig      `yaml:"replay"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// ServiceConfig holds service-level settings
type ServiceConfig struct {
	Name              string `yaml:"name" validate:"required"`
	HTTPAddr          string `yaml:"http_addr" validate:"required"`
	LogLevel          string `yaml:"log_level" validate:"oneof=debug info warn error"`
	RunTimeoutSeconds int    `yaml:"run_timeout_seconds" validate:"min=1"`
}

// JiraConfig holds the issue search settings. Credentials come from the secret store.
type JiraConfig struct {
	BaseURL        string  `yaml:"base_url" validate:"required,url"`
	Project        string  `yaml:"project" validate:"required"`
	MaxResults     int     `yaml:"max_results" validate:"min=1,max=5000"`
	Cursor         string  `yaml:"cursor" validate:"required"`
	RateLimit      float64 `yaml:"rate_limit" validate:"gt=0"`
	RateBurst      int     `yaml:"rate_burst" validate:"min=1"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"min=1"`
}

// PartitionsConfig describes the daily partition set.
type PartitionsConfig struct {
	StartDate string `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	Timezone  string `yaml:"timezone" validate:"required"`
	EndOffset *int   `yaml:"end_offset" validate:"omitempty,min=0"`
}

// ScheduleConfig controls the daily cron trigger.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron" validate:"required"`
}

// PipelineConfig is the transform chain and reject policy.
type PipelineConfig struct {
	Projections []etl.FieldRule `yaml:"projections" validate:"dive"`
	Prune       []string        `yaml:"prune"`
	OnReject    string          `yaml:"on_reject" validate:"oneof=skip fail"`
}

// DestinationConfig is where accepted issues are merge-written.
type DestinationConfig struct {
	domain.DestinationConnection `yaml:",inline"`
	Table                        string `yaml:"table" validate:"required"`
	WriteMode                    string `yaml:"write_mode" validate:"oneof=merge replace append"`
}

// RunLogConfig locates the SQLite run log.
type RunLogConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ReplayConfig controls the replay directory watcher.
type ReplayConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// SecretsConfig controls where credentials are read from.
type SecretsConfig struct {
	EnvPrefix   string   `yaml:"env_prefix"`
	DotenvFiles []string `yaml:"dotenv_files"`
}

// LoadConfig loads configuration from a YAML file, applies defaults and
// validates the result. An empty path yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills unset fields with the production values.
func (c *Config) ApplyDefaults() {
	setString(&c.Service.Name, "md-jira-ingest")
	setString(&c.Service.HTTPAddr, ":8080")
	setString(&c.Service.LogLevel, "info")
	setInt(&c.Service.RunTimeoutSeconds, 300)

	setString(&c.Jira.BaseURL, "https://domain-name.atlassian.net/rest/api/3/")
	setString(&c.Jira.Project, "MD")
	setInt(&c.Jira.MaxResults, 100)
	setString(&c.Jira.Cursor, "nextPageToken")
	if c.Jira.RateLimit == 0 {
		c.Jira.RateLimit = 5
	}
	setInt(&c.Jira.RateBurst, 1)
	setInt(&c.Jira.TimeoutSeconds, 30)

	setString(&c.Partitions.StartDate, "2024-02-25")
	setString(&c.Partitions.Timezone, "US/Pacific")
	if c.Partitions.EndOffset == nil {
		one := 1
		c.Partitions.EndOffset = &one
	}

	setString(&c.Schedule.Cron, "CRON_TZ="+c.Partitions.Timezone+" 0 0 * * *")

	if c.Pipeline.Projections == nil {
		c.Pipeline.Projections = []etl.FieldRule{
			{Path: "fields.updated", Field: "updated"},
			{Path: "fields.created", Field: "created"},
			{Path: "fields.customfield_10095", Field: "customer_id"},
		}
	}
	if c.Pipeline.Prune == nil {
		c.Pipeline.Prune = []string{"expand"}
	}
	setString(&c.Pipeline.OnReject, string(etl.RejectSkip))

	if c.Destination.Driver == "" {
		c.Destination.Driver = domain.DestinationDriverDuckDB
	}
	if c.Destination.Host == "" && c.Destination.IsFileBacked() {
		c.Destination.Host = "data/md_jira.duckdb"
		if c.Destination.Driver == domain.DestinationDriverSQLite {
			c.Destination.Host = "data/md_jira.db"
		}
	}
	setString(&c.Destination.Name, "md_jira")
	setString(&c.Destination.Table, "issues")
	setString(&c.Destination.WriteMode, string(etl.WriteMerge))

	setString(&c.RunLog.Path, "data/runs.db")
	setString(&c.Replay.Dir, "data/replay")

	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Secrets.DotenvFiles == nil {
		c.Secrets.DotenvFiles = []string{".env"}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	})
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := time.LoadLocation(c.Partitions.Timezone); err != nil {
		return fmt.Errorf("partitions.timezone: %w", err)
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		return fmt.Errorf("schedule.cron: %w", err)
	}
	if _, err := etl.NewProjectTransform(c.Pipeline.Projections...); err != nil {
		return fmt.Errorf("pipeline.projections: %w", err)
	}
	switch c.Destination.Driver {
	case domain.DestinationDriverDuckDB, domain.DestinationDriverSQLite, domain.DestinationDriverPostgres,
		domain.DestinationDriverMySQL, domain.DestinationDriverMongoDB:
	default:
		return fmt.Errorf("destination.driver: unsupported %q", c.Destination.Driver)
	}
	if c.Replay.Watch && c.Replay.Dir == "" {
		return fmt.Errorf("replay.dir is required when replay.watch is set")
	}
	return nil
}

// RunTimeout returns the per-run timeout as a Duration
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Service.RunTimeoutSeconds) * time.Second
}

// PartitionSet builds the daily partition set.
func (c *Config) PartitionSet() (*partition.Daily, error) {
	return partition.NewDaily(c.Partitions.StartDate, c.Partitions.Timezone, *c.Partitions.EndOffset)
}

// Steps returns the transform chain configuration.
func (c *Config) Steps() etl.StepsConfig {
	return etl.StepsConfig{Projections: c.Pipeline.Projections, Prune: c.Pipeline.Prune}
}

// JiraSource returns the jira source config with credentials filled in.
func (c *Config) JiraSource(username, token string) etl.SourceConfig {
	return etl.SourceConfig{
		"baseUrl":        c.Jira.BaseURL,
		"project":        c.Jira.Project,
		"username":       username,
		"accessToken":    token,
		"maxResults":     c.Jira.MaxResults,
		"cursor":         c.Jira.Cursor,
		"rateLimit":      c.Jira.RateLimit,
		"rateBurst":      c.Jira.RateBurst,
		"timeoutSeconds": c.Jira.TimeoutSeconds,
	}
}

// MetricsEnabled reports whether /metrics is served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}
