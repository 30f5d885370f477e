package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdjira/internal/config"
	"mdjira/internal/domain"
	"mdjira/internal/etl"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "MD", cfg.Jira.Project)
	assert.Equal(t, 100, cfg.Jira.MaxResults)
	assert.Equal(t, "nextPageToken", cfg.Jira.Cursor)
	assert.Equal(t, "2024-02-25", cfg.Partitions.StartDate)
	assert.Equal(t, "US/Pacific", cfg.Partitions.Timezone)
	assert.Equal(t, 1, *cfg.Partitions.EndOffset)
	assert.Equal(t, "CRON_TZ=US/Pacific 0 0 * * *", cfg.Schedule.Cron)
	assert.False(t, cfg.Schedule.Enabled)
	assert.Equal(t, []string{"expand"}, cfg.Pipeline.Prune)
	assert.Equal(t, "skip", cfg.Pipeline.OnReject)
	assert.Equal(t, domain.DestinationDriverDuckDB, cfg.Destination.Driver)
	assert.Equal(t, "data/md_jira.duckdb", cfg.Destination.Host)
	assert.Equal(t, "issues", cfg.Destination.Table)
	assert.Equal(t, "merge", cfg.Destination.WriteMode)
	assert.Equal(t, 5*time.Minute, cfg.RunTimeout())
	assert.True(t, cfg.MetricsEnabled())

	assert.Equal(t, []etl.FieldRule{
		{Path: "fields.updated", Field: "updated"},
		{Path: "fields.created", Field: "created"},
		{Path: "fields.customfield_10095", Field: "customer_id"},
	}, cfg.Steps().Projections)
}

func TestLoadConfig_File(t *testing.T) {
	p := writeConfig(t, `
service:
  log_level: debug
jira:
  base_url: https://acme.atlassian.net/rest/api/3/
  project: OPS
partitions:
  end_offset: 0
schedule:
  enabled: true
pipeline:
  projections:
    - path: fields.customfield_20000
      field: customer_id
  prune: []
  on_reject: fail
destination:
  driver: postgres
  host: warehouse
  database: analytics
  username: loader
  table: jira_issues
  write_mode: replace
metrics:
  enabled: false
`)
	cfg, err := config.LoadConfig(p)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Service.LogLevel)
	assert.Equal(t, "OPS", cfg.Jira.Project)
	assert.Equal(t, 0, *cfg.Partitions.EndOffset)
	assert.True(t, cfg.Schedule.Enabled)
	assert.Len(t, cfg.Pipeline.Projections, 1)
	assert.Empty(t, cfg.Pipeline.Prune)
	assert.Equal(t, "fail", cfg.Pipeline.OnReject)
	assert.Equal(t, domain.DestinationDriverPostgres, cfg.Destination.Driver)
	assert.Equal(t, "warehouse", cfg.Destination.Host)
	assert.Equal(t, "jira_issues", cfg.Destination.Table)
	assert.False(t, cfg.MetricsEnabled())

	src := cfg.JiraSource("bot@acme.com", "tok")
	assert.Equal(t, "OPS", src.String("project", ""))
	assert.Equal(t, "tok", src.String("accessToken", ""))
	assert.Equal(t, 100, src.Int("maxResults", 0))
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"log level":     "service:\n  log_level: loud\n",
		"on reject":     "pipeline:\n  on_reject: retry\n",
		"start date":    "partitions:\n  start_date: 25-02-2024\n",
		"timezone":      "partitions:\n  timezone: Mars/Olympus\n",
		"cron":          "schedule:\n  cron: every day\n",
		"projection":    "pipeline:\n  projections:\n    - path: ''\n      field: x\n",
		"empty segment": "pipeline:\n  projections:\n    - path: fields..updated\n      field: updated\n",
		"driver":        "destination:\n  driver: oracle\n",
		"write mode":    "destination:\n  write_mode: upsert\n",
		"base url":      "jira:\n  base_url: not a url\n",
		"negative rate": "jira:\n  rate_limit: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestPartitionSet(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	daily, err := cfg.PartitionSet()
	require.NoError(t, err)
	assert.Equal(t, "2024-02-25", daily.Start.Format("2006-01-02"))
	assert.Equal(t, 1, daily.EndOffset)
}
